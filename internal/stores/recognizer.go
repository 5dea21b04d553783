package stores

import (
	"context"
	"math"
	"regexp"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/mafutapass/receipts/internal/logger"
)

// Fixed confidence ceilings per recognition signal.
const (
	ConfidencePIN        = 95
	ConfidenceTill       = 85
	ConfidenceGeoName    = 80
	ConfidenceGeoOnly    = 60
	ConfidenceName       = 70
	ConfidenceURLPattern = 65
)

// GeofenceRadiusMeters bounds the nearby-store search.
const GeofenceRadiusMeters = 100.0

const fuzzyDistanceMax = 3

// Signals is the merged extraction output fed into recognition.
type Signals struct {
	MerchantPIN     string
	TillNumber      string
	MerchantName    string
	VerificationURL string
	Category        string
	Location        *Geolocation
}

// Match is the recognition outcome. MatchedBy lists every signal that fired,
// in cascade order, even when a higher-priority signal already decided the
// store.
type Match struct {
	StoreID            string   `json:"storeId,omitempty"`
	StoreName          string   `json:"storeName,omitempty"`
	ChainName          string   `json:"chainName,omitempty"`
	Confidence         int      `json:"confidence"`
	MatchedBy          []string `json:"matchedBy"`
	SuggestedTemplates []string `json:"suggestedTemplates"`
}

// Recognizer resolves extraction signals to a store profile.
type Recognizer struct {
	repo    Repository
	catalog TemplateCatalog
}

// NewRecognizer creates a recognizer over the given store repository and
// template catalog.
func NewRecognizer(repo Repository, catalog TemplateCatalog) *Recognizer {
	return &Recognizer{repo: repo, catalog: catalog}
}

type firedSignal struct {
	name       string
	store      *StoreProfile
	confidence int
}

// Recognize evaluates the signal cascade. The highest-priority fired signal
// decides the store; every fired signal is reported for audit. When nothing
// fires the match carries confidence 0 and generic template suggestions.
func (r *Recognizer) Recognize(ctx context.Context, sig Signals) (*Match, error) {
	log := logger.Component(ctx, "stores")

	var fired []firedSignal

	if sig.MerchantPIN != "" {
		store, err := r.repo.GetByPIN(ctx, sig.MerchantPIN)
		if err != nil {
			log.Warn().Err(err).Msg("pin lookup failed")
		} else if store != nil {
			fired = append(fired, firedSignal{"pin", store, ConfidencePIN})
		}
	}

	if sig.TillNumber != "" {
		store, err := r.repo.GetByTill(ctx, sig.TillNumber)
		if err != nil {
			log.Warn().Err(err).Msg("till lookup failed")
		} else if store != nil {
			fired = append(fired, firedSignal{"till", store, ConfidenceTill})
		}
	}

	var all []*StoreProfile
	if sig.Location != nil || sig.MerchantName != "" || sig.VerificationURL != "" {
		var err error
		all, err = r.repo.ListActive(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("store listing failed")
		}
	}

	if sig.Location != nil {
		if fs := matchGeofence(all, sig); fs != nil {
			fired = append(fired, *fs)
		}
	}

	if sig.MerchantName != "" {
		if store := matchByName(all, sig.MerchantName); store != nil {
			fired = append(fired, firedSignal{"name", store, ConfidenceName})
		}
	}

	if sig.VerificationURL != "" {
		if store := matchByURLPattern(all, sig.VerificationURL); store != nil {
			fired = append(fired, firedSignal{"url_pattern", store, ConfidenceURLPattern})
		}
	}

	match := &Match{MatchedBy: []string{}}
	for _, f := range fired {
		match.MatchedBy = append(match.MatchedBy, f.name)
	}

	if len(fired) > 0 {
		best := fired[0]
		match.StoreID = best.store.ID
		match.StoreName = best.store.Name
		match.ChainName = best.store.ChainName
		match.Confidence = best.confidence

		category := sig.Category
		if category == "" {
			category = best.store.Category
		}
		match.SuggestedTemplates = r.catalog.Suggest(best.store.ID, best.store.ChainName, category)

		log.Info().
			Str("store_id", best.store.ID).
			Str("matched_by", best.name).
			Int("confidence", best.confidence).
			Msg("store recognized")
		return match, nil
	}

	match.SuggestedTemplates = r.catalog.Suggest("", "", sig.Category)
	log.Debug().Msg("no store signal fired")
	return match, nil
}

func matchGeofence(all []*StoreProfile, sig Signals) *firedSignal {
	var nearby []*StoreProfile
	for _, s := range all {
		if s.Latitude == 0 && s.Longitude == 0 {
			continue
		}
		d := haversineMeters(sig.Location.Latitude, sig.Location.Longitude, s.Latitude, s.Longitude)
		if d <= GeofenceRadiusMeters {
			nearby = append(nearby, s)
		}
	}
	if len(nearby) == 0 {
		return nil
	}

	if sig.MerchantName != "" {
		for _, s := range nearby {
			if namesMatch(s.Name, sig.MerchantName) {
				return &firedSignal{"geofence", s, ConfidenceGeoName}
			}
		}
		return nil
	}

	if len(nearby) == 1 {
		return &firedSignal{"geofence", nearby[0], ConfidenceGeoOnly}
	}
	return nil
}

func matchByName(all []*StoreProfile, merchantName string) *StoreProfile {
	// Exact normalized match first.
	target := normalizeName(merchantName)
	for _, s := range all {
		if normalizeName(s.Name) == target {
			return s
		}
	}
	// Then fuzzy against store and chain names.
	for _, s := range all {
		if namesMatch(s.Name, merchantName) {
			return s
		}
		if s.ChainName != "" && namesMatch(s.ChainName, merchantName) {
			return s
		}
	}
	return nil
}

func matchByURLPattern(all []*StoreProfile, url string) *StoreProfile {
	for _, s := range all {
		if s.QRURLPattern != "" && strings.Contains(url, s.QRURLPattern) {
			return s
		}
	}
	return nil
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

func normalizeName(s string) string {
	s = strings.ToLower(s)
	s = nonAlnum.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

// namesMatch is the fuzzy check: normalized containment either way, or edit
// distance under three.
func namesMatch(a, b string) bool {
	na, nb := normalizeName(a), normalizeName(b)
	if na == "" || nb == "" {
		return false
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return true
	}
	return levenshtein.ComputeDistance(na, nb) < fuzzyDistanceMax
}

const earthRadiusMeters = 6371000.0

func haversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
