package enhance

import (
	"context"
	"time"

	"github.com/mafutapass/receipts/internal/logger"
)

// Fallback values when the model pass fails or returns unusable output.
const (
	FallbackCategory   = "other"
	FallbackConfidence = 30
)

// DefaultModelThreshold is the rule-pass confidence below which the model
// pass is invoked.
const DefaultModelThreshold = 70

// Enhancement is the categorization outcome for one receipt.
type Enhancement struct {
	Category    string   `json:"category"`
	Subcategory string   `json:"subcategory,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Insights    []string `json:"insights,omitempty"`
	Anomalies   []string `json:"anomalies,omitempty"`
	Confidence  int      `json:"confidence"`
}

// Input is the context available for categorization. Verified fields come
// from the tax-authority lookup when one succeeded.
type Input struct {
	MerchantName  string
	Text          string
	TotalAmount   *float64
	Litres        *float64
	FuelType      string
	PricePerLitre *float64
	CaptureTime   time.Time

	VerifiedMerchant string
	VerifiedTotal    *float64
	VerifiedDate     string

	ImageBytes []byte
	ImageMIME  string
}

// Model is the generative-model contract for the second pass.
// This interface enables mocking and testing of AI categorization.
type Model interface {
	// Categorize asks the model for a strict-JSON categorization of the
	// receipt context, optionally with the image inline.
	Categorize(ctx context.Context, input Input) (*Enhancement, error)
}

// Enhancer runs the two-phase categorization: a free rule-based pass, then a
// model pass when the rules are unsure or an image is available.
type Enhancer struct {
	model     Model
	threshold int
}

// NewEnhancer creates an enhancer. A nil model disables the second pass.
func NewEnhancer(model Model) *Enhancer {
	return &Enhancer{model: model, threshold: DefaultModelThreshold}
}

// Enhance never fails: a broken model pass degrades to a low-confidence
// fallback that is merged with whatever the rules found.
func (e *Enhancer) Enhance(ctx context.Context, input Input) *Enhancement {
	log := logger.Component(ctx, "enhance")

	ruleResult := categorizeByRules(input)

	if e.model == nil || (ruleResult.Confidence >= e.threshold && len(input.ImageBytes) == 0) {
		return ruleResult
	}

	modelResult, err := e.model.Categorize(ctx, input)
	if err != nil || modelResult == nil {
		log.Warn().Err(err).Msg("model categorization failed, using fallback")
		modelResult = &Enhancement{
			Category:   FallbackCategory,
			Confidence: FallbackConfidence,
			Anomalies:  []string{"AI categorization unavailable"},
		}
	}

	merged := Merge(ruleResult, modelResult)
	log.Debug().
		Str("category", merged.Category).
		Int("confidence", merged.Confidence).
		Msg("enhancement complete")
	return merged
}

// Merge combines the rule and model results: category fields prefer the
// higher-confidence side, list fields are unioned, confidence is the max.
func Merge(a, b *Enhancement) *Enhancement {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}

	primary, secondary := a, b
	if b.Confidence > a.Confidence {
		primary, secondary = b, a
	}

	merged := &Enhancement{
		Category:    primary.Category,
		Subcategory: primary.Subcategory,
		Confidence:  primary.Confidence,
	}
	if merged.Subcategory == "" {
		merged.Subcategory = secondary.Subcategory
	}
	merged.Tags = unionStrings(a.Tags, b.Tags)
	merged.Insights = unionStrings(a.Insights, b.Insights)
	merged.Anomalies = unionStrings(a.Anomalies, b.Anomalies)
	return merged
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
