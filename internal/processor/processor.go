package processor

import (
	"math"

	"github.com/mafutapass/receipts/internal/archive"
	"github.com/mafutapass/receipts/internal/enhance"
	"github.com/mafutapass/receipts/internal/gcs"
	"github.com/mafutapass/receipts/internal/jobs"
	"github.com/mafutapass/receipts/internal/reports"
	"github.com/mafutapass/receipts/internal/stores"
	"github.com/mafutapass/receipts/internal/template"
)

// Confidence source names used for weighting.
const (
	SourceCode     = "code"
	SourceVerifier = "verifier"
	SourceOCR      = "ocr"
	SourceStore    = "store"
	SourceAI       = "ai"
)

// Config holds the orchestrator's tunables. The per-source weights exist
// because the overall confidence is a mean of heterogeneous scores; deployments
// that trust OCR less than verified data can say so here.
type Config struct {
	// ReviewConfidenceThreshold sends results below it to needs_review.
	ReviewConfidenceThreshold int

	// ReviewWarningLimit sends results with more warnings to needs_review.
	ReviewWarningLimit int

	// SourceWeights weight each signal's confidence in the overall mean.
	// Missing entries default to 1.
	SourceWeights map[string]float64

	// FallbackTemplateID is used when no suggested template resolves.
	FallbackTemplateID string
}

// DefaultConfig returns the stock tunables.
func DefaultConfig() Config {
	return Config{
		ReviewConfidenceThreshold: 70,
		ReviewWarningLimit:        2,
		FallbackTemplateID:        "generic-ocr",
	}
}

// Options are the per-call inputs accompanying the image bytes.
type Options struct {
	UserEmail   string
	UserID      string
	WorkspaceID string

	Filename    string
	ContentType string

	Latitude         *float64
	Longitude        *float64
	LocationAccuracy *float64

	// SkipAI disables categorization entirely; ForceAI runs the full
	// model pass synchronously instead of in the background.
	SkipAI  bool
	ForceAI bool

	// SkipRaw disables raw-record archival. Archival is on by default
	// and disabling it also disables background enhancement.
	SkipRaw bool

	// TemplateID pins a template instead of using suggestions.
	TemplateID string

	// StoreID pins the store instead of running recognition.
	StoreID string

	// ReportID attaches the receipt to an expense report as a line item.
	ReportID string
}

// Result is the synchronous outcome of one pipeline run. The pipeline never
// fails across its boundary: every failure mode resolves to a valid Result.
type Result struct {
	ReceiptID   string                         `json:"receiptId"`
	Status      archive.Status                 `json:"status"`
	Confidence  int                            `json:"confidence"`
	ImageURL    string                         `json:"imageUrl,omitempty"`
	DuplicateOf string                         `json:"duplicateOf,omitempty"`
	StoreMatch  *stores.Match                  `json:"storeMatch,omitempty"`
	TemplateID  string                         `json:"templateId,omitempty"`
	Fields      map[string]template.FieldValue `json:"fields,omitempty"`
	Enhancement *enhance.Enhancement           `json:"enhancement,omitempty"`
	ItemID      string                         `json:"itemId,omitempty"`
	Warnings    []string                       `json:"warnings"`
	Errors      []string                       `json:"errors"`

	// EnhanceJob is the scheduled background job, when one was enqueued.
	// Its Done channel lets callers await the enhancement deterministically.
	EnhanceJob *jobs.EnhanceReceiptJob `json:"-"`
}

// Processor is the receipt pipeline orchestrator. All collaborators are
// injected; there is no package-level state.
type Processor struct {
	cfg        Config
	decoder    CodeDecoder
	ocr        TextExtractor
	verifier   InvoiceVerifier
	recognizer StoreRecognizer
	enhancer   Categorizer
	registry   *template.Registry
	archiver   *archive.Archiver
	receipts   archive.Repository
	objects    gcs.ObjectStore
	queue      jobs.Publisher
	reports    *reports.Manager
}

// Deps bundles the processor's collaborators.
type Deps struct {
	Decoder    CodeDecoder
	OCR        TextExtractor
	Verifier   InvoiceVerifier
	Recognizer StoreRecognizer
	Enhancer   Categorizer
	Registry   *template.Registry
	Receipts   archive.Repository
	Objects    gcs.ObjectStore
	Queue      jobs.Publisher
	Reports    *reports.Manager
}

// New creates a processor with the given collaborators and tunables.
func New(cfg Config, deps Deps) *Processor {
	return &Processor{
		cfg:        cfg,
		decoder:    deps.Decoder,
		ocr:        deps.OCR,
		verifier:   deps.Verifier,
		recognizer: deps.Recognizer,
		enhancer:   deps.Enhancer,
		registry:   deps.Registry,
		archiver:   archive.NewArchiver(deps.Receipts),
		receipts:   deps.Receipts,
		objects:    deps.Objects,
		queue:      deps.Queue,
		reports:    deps.Reports,
	}
}

// overallConfidence is the weighted mean of the available per-source scores,
// rounded to the nearest integer.
func (p *Processor) overallConfidence(scores map[string]int) int {
	if len(scores) == 0 {
		return 0
	}
	var sum, weightSum float64
	for source, score := range scores {
		w := 1.0
		if cw, ok := p.cfg.SourceWeights[source]; ok && cw > 0 {
			w = cw
		}
		sum += w * float64(score)
		weightSum += w
	}
	if weightSum == 0 {
		return 0
	}
	return int(math.Round(sum / weightSum))
}

// computeStatus maps the run's validation outcome to the final status. A
// receipt missing a required field is unusable and fails outright, as does a
// run whose errors left no confidence at all; other errors, too many
// warnings, or low confidence send it to review.
func (p *Processor) computeStatus(errCount, warnCount, confidence int, missingRequired bool) archive.Status {
	if missingRequired || (errCount > 0 && confidence == 0) {
		return archive.StatusFailed
	}
	if errCount > 0 || warnCount > p.cfg.ReviewWarningLimit || confidence < p.cfg.ReviewConfidenceThreshold {
		return archive.StatusNeedsReview
	}
	return archive.StatusSuccess
}
