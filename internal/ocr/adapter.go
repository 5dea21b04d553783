package ocr

import (
	"context"
	"time"

	"github.com/mafutapass/receipts/internal/logger"
)

// Result is one OCR pass over a receipt: the full text plus a best-effort
// parse of the fields we care about. Confidence is estimated from how many
// target fields were matched; OCR never gets a fixed score.
type Result struct {
	FullText string

	MerchantName  string
	TotalAmount   *float64
	Date          string
	InvoiceNumber string

	// Fuel-specific fields.
	Litres        *float64
	FuelType      string
	PricePerLitre *float64
	PumpNumber    string
	VehicleNumber string

	Confidence int
}

// DefaultTimeout bounds a single text-detection call.
const DefaultTimeout = 30 * time.Second

// Adapter wraps a TextDetector with receipt parsing heuristics.
type Adapter struct {
	detector TextDetector
	timeout  time.Duration
}

// NewAdapter creates an OCR adapter around the given detector.
func NewAdapter(detector TextDetector) *Adapter {
	return &Adapter{detector: detector, timeout: DefaultTimeout}
}

// NewAdapterWithTimeout overrides the per-call timeout.
func NewAdapterWithTimeout(detector TextDetector, timeout time.Duration) *Adapter {
	return &Adapter{detector: detector, timeout: timeout}
}

// Extract runs text detection and parses candidate fields from the result.
// OCR is inherently unreliable: a service failure or empty text returns
// (nil, nil) so the pipeline degrades to the remaining signals.
func (a *Adapter) Extract(ctx context.Context, imageBytes []byte) (*Result, error) {
	log := logger.Component(ctx, "ocr")

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	text, err := a.detector.DetectText(ctx, imageBytes)
	if err != nil {
		log.Warn().Err(err).Msg("text detection failed")
		return nil, nil
	}
	if text == "" {
		log.Debug().Msg("no text detected")
		return nil, nil
	}

	result := ParseReceiptText(text)
	log.Debug().
		Int("confidence", result.Confidence).
		Str("merchant", result.MerchantName).
		Msg("OCR extraction complete")
	return result, nil
}
