package processor

import (
	"context"

	"github.com/mafutapass/receipts/internal/enhance"
	"github.com/mafutapass/receipts/internal/kra"
	"github.com/mafutapass/receipts/internal/ocr"
	"github.com/mafutapass/receipts/internal/qrcode"
	"github.com/mafutapass/receipts/internal/stores"
)

// CodeDecoder extracts a machine-readable code payload from an image.
// This interface enables mocking and testing of code decoding.
type CodeDecoder interface {
	// Decode returns (nil, nil) when the image carries no code.
	Decode(ctx context.Context, imageBytes []byte) (*qrcode.Payload, error)
}

// TextExtractor runs OCR over an image and parses candidate fields.
// This interface enables mocking and testing of OCR extraction.
type TextExtractor interface {
	// Extract returns (nil, nil) on service failure or empty text.
	Extract(ctx context.Context, imageBytes []byte) (*ocr.Result, error)
}

// InvoiceVerifier confirms a receipt against the tax authority's lookup page.
// This interface enables mocking and testing of verification.
type InvoiceVerifier interface {
	// Verify returns (nil, nil) once retries are exhausted.
	Verify(ctx context.Context, url string) (*kra.InvoiceData, error)
}

// StoreRecognizer resolves extraction signals to a merchant.
// This interface enables mocking and testing of store recognition.
type StoreRecognizer interface {
	Recognize(ctx context.Context, sig stores.Signals) (*stores.Match, error)
}

// Categorizer produces the enhancement for a receipt. The concrete
// implementation is the two-phase rule/model enhancer.
type Categorizer interface {
	Enhance(ctx context.Context, input enhance.Input) *enhance.Enhancement
}
