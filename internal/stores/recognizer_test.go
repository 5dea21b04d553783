package stores

import (
	"context"
	"testing"
)

type mockRepository struct {
	getByPINFunc   func(ctx context.Context, pin string) (*StoreProfile, error)
	getByTillFunc  func(ctx context.Context, till string) (*StoreProfile, error)
	listActiveFunc func(ctx context.Context) ([]*StoreProfile, error)
}

func (m *mockRepository) GetByPIN(ctx context.Context, pin string) (*StoreProfile, error) {
	if m.getByPINFunc != nil {
		return m.getByPINFunc(ctx, pin)
	}
	return nil, nil
}

func (m *mockRepository) GetByTill(ctx context.Context, till string) (*StoreProfile, error) {
	if m.getByTillFunc != nil {
		return m.getByTillFunc(ctx, till)
	}
	return nil, nil
}

func (m *mockRepository) ListActive(ctx context.Context) ([]*StoreProfile, error) {
	if m.listActiveFunc != nil {
		return m.listActiveFunc(ctx)
	}
	return nil, nil
}

type mockCatalog struct {
	suggestFunc func(storeID, chainName, category string) []string
}

func (m *mockCatalog) Suggest(storeID, chainName, category string) []string {
	if m.suggestFunc != nil {
		return m.suggestFunc(storeID, chainName, category)
	}
	return []string{"generic"}
}

var shellWestlands = &StoreProfile{
	ID:         "store-1",
	Name:       "Shell Westlands",
	ChainName:  "Shell",
	Category:   "fuel",
	TaxPIN:     "P051234567A",
	TillNumber: "832909",
	Latitude:   -1.2635,
	Longitude:  36.8029,
}

func TestRecognize_PINBeatsEverything(t *testing.T) {
	repo := &mockRepository{
		getByPINFunc: func(ctx context.Context, pin string) (*StoreProfile, error) {
			return shellWestlands, nil
		},
		getByTillFunc: func(ctx context.Context, till string) (*StoreProfile, error) {
			return &StoreProfile{ID: "store-2", Name: "Other"}, nil
		},
	}

	r := NewRecognizer(repo, &mockCatalog{})
	match, err := r.Recognize(context.Background(), Signals{
		MerchantPIN: "P051234567A",
		TillNumber:  "832909",
	})
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}

	if match.StoreID != "store-1" {
		t.Errorf("StoreID = %q, want store-1", match.StoreID)
	}
	if match.Confidence != ConfidencePIN {
		t.Errorf("Confidence = %d, want %d", match.Confidence, ConfidencePIN)
	}
	if len(match.MatchedBy) != 2 {
		t.Errorf("MatchedBy = %v, want both pin and till recorded", match.MatchedBy)
	}
}

func TestRecognize_TillMatch(t *testing.T) {
	repo := &mockRepository{
		getByTillFunc: func(ctx context.Context, till string) (*StoreProfile, error) {
			if till == "832909" {
				return shellWestlands, nil
			}
			return nil, nil
		},
	}

	r := NewRecognizer(repo, &mockCatalog{})
	match, err := r.Recognize(context.Background(), Signals{TillNumber: "832909"})
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if match.Confidence != ConfidenceTill {
		t.Errorf("Confidence = %d, want %d", match.Confidence, ConfidenceTill)
	}
}

// Two stores inside the geofence; the name signal must pick the fuzzy-matched
// one, not merely the nearest.
func TestRecognize_GeofenceWithNameDisambiguation(t *testing.T) {
	nearer := &StoreProfile{ID: "near", Name: "Quickmart Kilimani", Latitude: -1.29210, Longitude: 36.78900}
	matched := &StoreProfile{ID: "matched", Name: "Total Energies Kilimani", Latitude: -1.29260, Longitude: 36.78950}

	repo := &mockRepository{
		listActiveFunc: func(ctx context.Context) ([]*StoreProfile, error) {
			return []*StoreProfile{nearer, matched}, nil
		},
	}

	r := NewRecognizer(repo, &mockCatalog{})
	match, err := r.Recognize(context.Background(), Signals{
		MerchantName: "TOTAL ENERGIES KILIMANI",
		Location:     &Geolocation{Latitude: -1.29215, Longitude: 36.78905},
	})
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}

	if match.StoreID != "matched" {
		t.Errorf("StoreID = %q, want matched", match.StoreID)
	}
	if match.Confidence != ConfidenceGeoName {
		t.Errorf("Confidence = %d, want %d", match.Confidence, ConfidenceGeoName)
	}
}

func TestRecognize_LoneNearbyStoreWithoutName(t *testing.T) {
	repo := &mockRepository{
		listActiveFunc: func(ctx context.Context) ([]*StoreProfile, error) {
			return []*StoreProfile{shellWestlands}, nil
		},
	}

	r := NewRecognizer(repo, &mockCatalog{})
	match, err := r.Recognize(context.Background(), Signals{
		Location: &Geolocation{Latitude: -1.2635, Longitude: 36.8029},
	})
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if match.StoreID != "store-1" {
		t.Errorf("StoreID = %q, want store-1", match.StoreID)
	}
	if match.Confidence != ConfidenceGeoOnly {
		t.Errorf("Confidence = %d, want %d", match.Confidence, ConfidenceGeoOnly)
	}
}

func TestRecognize_NameMatch(t *testing.T) {
	tests := []struct {
		name     string
		merchant string
		wantID   string
	}{
		{"exact normalized", "shell westlands", "store-1"},
		{"containment", "SHELL WESTLANDS STATION", "store-1"},
		{"chain fuzzy", "Shell", "store-1"},
		{"no match", "Java House", ""},
	}

	repo := &mockRepository{
		listActiveFunc: func(ctx context.Context) ([]*StoreProfile, error) {
			return []*StoreProfile{shellWestlands}, nil
		},
	}
	r := NewRecognizer(repo, &mockCatalog{})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match, err := r.Recognize(context.Background(), Signals{MerchantName: tt.merchant})
			if err != nil {
				t.Fatalf("Recognize() error = %v", err)
			}
			if match.StoreID != tt.wantID {
				t.Errorf("StoreID = %q, want %q", match.StoreID, tt.wantID)
			}
			if tt.wantID != "" && match.Confidence != ConfidenceName {
				t.Errorf("Confidence = %d, want %d", match.Confidence, ConfidenceName)
			}
		})
	}
}

func TestRecognize_URLPatternMatch(t *testing.T) {
	store := &StoreProfile{ID: "store-9", Name: "Naivas", QRURLPattern: "bhfId=00923400"}
	repo := &mockRepository{
		listActiveFunc: func(ctx context.Context) ([]*StoreProfile, error) {
			return []*StoreProfile{store}, nil
		},
	}

	r := NewRecognizer(repo, &mockCatalog{})
	match, err := r.Recognize(context.Background(), Signals{
		VerificationURL: "https://itax.kra.go.ke/KRA-Portal/invoiceChk.htm?bhfId=00923400",
	})
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if match.StoreID != "store-9" {
		t.Errorf("StoreID = %q, want store-9", match.StoreID)
	}
	if match.Confidence != ConfidenceURLPattern {
		t.Errorf("Confidence = %d, want %d", match.Confidence, ConfidenceURLPattern)
	}
}

func TestRecognize_NoSignalFallsBackToGenericTemplates(t *testing.T) {
	catalog := &mockCatalog{
		suggestFunc: func(storeID, chainName, category string) []string {
			if storeID != "" || chainName != "" {
				t.Errorf("Suggest called with store context (%q, %q), want empty", storeID, chainName)
			}
			return []string{"generic-fuel", "generic"}
		},
	}

	r := NewRecognizer(&mockRepository{}, catalog)
	match, err := r.Recognize(context.Background(), Signals{Category: "fuel"})
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if match.Confidence != 0 {
		t.Errorf("Confidence = %d, want 0", match.Confidence)
	}
	if len(match.SuggestedTemplates) != 2 {
		t.Errorf("SuggestedTemplates = %v, want generic pair", match.SuggestedTemplates)
	}
}

// Higher-priority signals never score below lower-priority ones.
func TestConfidenceMonotonicity(t *testing.T) {
	order := []int{
		ConfidencePIN,
		ConfidenceTill,
		ConfidenceGeoName,
		ConfidenceName,
		ConfidenceURLPattern,
	}
	for i := 1; i < len(order); i++ {
		if order[i-1] < order[i] {
			t.Errorf("signal %d confidence %d < next signal's %d", i-1, order[i-1], order[i])
		}
	}
}

func TestNamesMatch(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"Shell Westlands", "SHELL-WESTLANDS", true},
		{"Naivas Ltd", "Naivas", true},
		{"Quickmart", "Quikmart", true},
		{"Total", "Shell", false},
		{"", "Shell", false},
	}

	for _, tt := range tests {
		if got := namesMatch(tt.a, tt.b); got != tt.want {
			t.Errorf("namesMatch(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestHaversineMeters(t *testing.T) {
	// Roughly 111m per 0.001 degree of latitude at the equator.
	d := haversineMeters(0, 36.8, 0.001, 36.8)
	if d < 100 || d > 125 {
		t.Errorf("haversineMeters = %v, want ~111", d)
	}

	if d := haversineMeters(-1.2635, 36.8029, -1.2635, 36.8029); d != 0 {
		t.Errorf("distance to self = %v, want 0", d)
	}
}
