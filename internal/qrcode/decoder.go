package qrcode

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/makiuchi-d/gozxing"
	zxqr "github.com/makiuchi-d/gozxing/qrcode"

	"github.com/mafutapass/receipts/internal/logger"
)

// Decoder extracts a machine-readable code payload from receipt images.
// A receipt without a code is a normal case, not a failure: Decode returns
// (nil, nil) when no code is present.
type Decoder struct {
	reader gozxing.Reader
}

// NewDecoder creates a Decoder backed by a ZXing QR reader.
func NewDecoder() *Decoder {
	return &Decoder{reader: zxqr.NewQRCodeReader()}
}

// Decode scans imageBytes for a QR code and classifies its payload.
// It returns (nil, nil) when the image contains no decodable code, and an
// error only when the bytes cannot be decoded as an image at all.
func (d *Decoder) Decode(ctx context.Context, imageBytes []byte) (*Payload, error) {
	log := logger.FromContext(ctx)

	img, _, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return nil, fmt.Errorf("qrcode: decoding image: %w", err)
	}

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, fmt.Errorf("qrcode: building bitmap: %w", err)
	}

	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}

	result, err := d.reader.Decode(bmp, hints)
	if err != nil {
		// ZXing reports "NotFoundException" style errors for blank scans.
		log.Debug().Msg("no QR code found on receipt")
		return nil, nil
	}

	payload := ParsePayload(result.GetText())
	log.Debug().
		Str("payload_type", string(payload.Type)).
		Msg("QR code decoded")
	return payload, nil
}
