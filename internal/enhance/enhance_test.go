package enhance

import (
	"context"
	"errors"
	"testing"
	"time"
)

type mockModel struct {
	categorizeFunc func(ctx context.Context, input Input) (*Enhancement, error)
}

func (m *mockModel) Categorize(ctx context.Context, input Input) (*Enhancement, error) {
	return m.categorizeFunc(ctx, input)
}

func amount(f float64) *float64 { return &f }

func TestCategorizeByRules_Fuel(t *testing.T) {
	input := Input{
		MerchantName:  "Shell Westlands",
		Text:          "PMS UNLEADED\n40.00 Ltr\nPUMP 3",
		TotalAmount:   amount(7420),
		Litres:        amount(40),
		FuelType:      "PMS",
		PricePerLitre: amount(185.5),
	}

	result := categorizeByRules(input)

	if result.Category != "fuel" {
		t.Errorf("Category = %q, want fuel", result.Category)
	}
	if result.Subcategory != "PETROL" {
		t.Errorf("Subcategory = %q, want PETROL", result.Subcategory)
	}
	if result.Confidence < 75 || result.Confidence > 85 {
		t.Errorf("Confidence = %d, want within [75,85]", result.Confidence)
	}
	if len(result.Insights) != 0 {
		t.Errorf("Insights = %v, want none for in-range weekday price", result.Insights)
	}
}

func TestCategorizeByRules_FuelFloor(t *testing.T) {
	// A single merchant pattern scores exactly 2; fuel still floors at 75.
	result := categorizeByRules(Input{MerchantName: "Rubis", Text: "thank you"})
	if result.Category != "fuel" {
		t.Fatalf("Category = %q, want fuel", result.Category)
	}
	if result.Confidence != 75 {
		t.Errorf("Confidence = %d, want 75", result.Confidence)
	}
}

func TestCategorizeByRules_WeakSignalStaysOther(t *testing.T) {
	result := categorizeByRules(Input{MerchantName: "Mystery Ltd", Text: "coffee"})
	if result.Category != FallbackCategory {
		t.Errorf("Category = %q, want %q for single keyword", result.Category, FallbackCategory)
	}
	if result.Confidence != 50 {
		t.Errorf("Confidence = %d, want 50", result.Confidence)
	}
}

func TestCategorizeByRules_Grocery(t *testing.T) {
	result := categorizeByRules(Input{
		MerchantName: "Naivas Limited",
		Text:         "supermarket branch",
		TotalAmount:  amount(2500),
	})
	if result.Category != "grocery" {
		t.Errorf("Category = %q, want grocery", result.Category)
	}
}

func TestCategorizeByRules_Anomalies(t *testing.T) {
	tests := []struct {
		name   string
		total  float64
		expect bool
	}{
		{"large", 15000, true},
		{"small", 5, true},
		{"normal", 500, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := categorizeByRules(Input{TotalAmount: amount(tt.total)})
			if got := len(result.Anomalies) > 0; got != tt.expect {
				t.Errorf("Anomalies = %v, want present=%v", result.Anomalies, tt.expect)
			}
		})
	}
}

func TestCategorizeByRules_Insights(t *testing.T) {
	saturday := time.Date(2025, 8, 16, 10, 0, 0, 0, time.UTC)
	result := categorizeByRules(Input{
		MerchantName:  "Total Energies",
		Text:          "AGO diesel",
		Litres:        amount(60),
		FuelType:      "AGO",
		PricePerLitre: amount(250),
		CaptureTime:   saturday,
	})

	want := map[string]bool{
		"bulk fuel purchase": false,
		"weekend purchase":   false,
	}
	priceInsight := false
	for _, ins := range result.Insights {
		if _, ok := want[ins]; ok {
			want[ins] = true
		}
		if len(ins) > 14 && ins[:14] == "price per litr" {
			priceInsight = true
		}
	}
	for ins, seen := range want {
		if !seen {
			t.Errorf("missing insight %q in %v", ins, result.Insights)
		}
	}
	if !priceInsight {
		t.Errorf("missing above-range price insight in %v", result.Insights)
	}
}

func TestEnhance_SkipsModelWhenRulesConfident(t *testing.T) {
	model := &mockModel{
		categorizeFunc: func(ctx context.Context, input Input) (*Enhancement, error) {
			t.Error("model invoked despite confident rule pass")
			return nil, nil
		},
	}

	e := NewEnhancer(model)
	result := e.Enhance(context.Background(), Input{
		MerchantName: "Shell Westlands",
		Text:         "PMS diesel fuel pump litre",
	})
	if result.Category != "fuel" {
		t.Errorf("Category = %q, want fuel", result.Category)
	}
}

func TestEnhance_ModelPassOnLowConfidence(t *testing.T) {
	model := &mockModel{
		categorizeFunc: func(ctx context.Context, input Input) (*Enhancement, error) {
			return &Enhancement{Category: "restaurant", Subcategory: "coffee", Confidence: 90, Tags: []string{"coffee"}}, nil
		},
	}

	e := NewEnhancer(model)
	result := e.Enhance(context.Background(), Input{MerchantName: "Mystery Ltd"})

	if result.Category != "restaurant" {
		t.Errorf("Category = %q, want restaurant", result.Category)
	}
	if result.Confidence != 90 {
		t.Errorf("Confidence = %d, want 90", result.Confidence)
	}
}

func TestEnhance_ModelFailureDegrades(t *testing.T) {
	model := &mockModel{
		categorizeFunc: func(ctx context.Context, input Input) (*Enhancement, error) {
			return nil, errors.New("quota exceeded")
		},
	}

	e := NewEnhancer(model)
	result := e.Enhance(context.Background(), Input{MerchantName: "Mystery Ltd"})

	if result.Category != FallbackCategory {
		t.Errorf("Category = %q, want %q", result.Category, FallbackCategory)
	}
	if result.Confidence != 50 {
		t.Errorf("Confidence = %d, want rule-pass 50 after merge", result.Confidence)
	}
	if len(result.Anomalies) == 0 {
		t.Error("want anomaly noting the failed model pass")
	}
}

func TestEnhance_ModelFailureKeepsRuleCategory(t *testing.T) {
	model := &mockModel{
		categorizeFunc: func(ctx context.Context, input Input) (*Enhancement, error) {
			return nil, errors.New("bad json")
		},
	}

	e := NewEnhancer(model)
	// Image forces the model pass even though the rules are confident.
	result := e.Enhance(context.Background(), Input{
		MerchantName: "Shell Westlands",
		Text:         "PMS diesel fuel pump litre",
		ImageBytes:   []byte("img"),
	})

	if result.Category != "fuel" {
		t.Errorf("Category = %q, want rule-pass fuel to survive merge", result.Category)
	}
}

func TestMerge(t *testing.T) {
	rule := &Enhancement{Category: "fuel", Subcategory: "DIESEL", Confidence: 75, Tags: []string{"fuel"}, Insights: []string{"bulk fuel purchase"}}
	model := &Enhancement{Category: "service", Confidence: 60, Tags: []string{"fuel", "car"}, Anomalies: []string{"odd total"}}

	merged := Merge(rule, model)

	if merged.Category != "fuel" {
		t.Errorf("Category = %q, want higher-confidence fuel", merged.Category)
	}
	if merged.Confidence != 75 {
		t.Errorf("Confidence = %d, want 75", merged.Confidence)
	}
	if len(merged.Tags) != 2 {
		t.Errorf("Tags = %v, want deduplicated union of 2", merged.Tags)
	}
	if len(merged.Anomalies) != 1 || len(merged.Insights) != 1 {
		t.Errorf("lists not unioned: %+v", merged)
	}
}

func TestCleanModelJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"category":"fuel"}`, `{"category":"fuel"}`},
		{"fenced", "```json\n{\"category\":\"fuel\"}\n```", `{"category":"fuel"}`},
		{"chatter", "Sure! Here you go: {\"category\":\"fuel\"} Hope that helps.", `{"category":"fuel"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanModelJSON(tt.in); got != tt.want {
				t.Errorf("cleanModelJSON() = %q, want %q", got, tt.want)
			}
		})
	}
}
