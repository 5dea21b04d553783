package ocr

import (
	"context"
	"encoding/base64"
	"fmt"

	vision "google.golang.org/api/vision/v1"
	"google.golang.org/api/option"
)

// TextDetector is the contract to a cloud text-extraction service.
// This interface enables mocking and testing of OCR functionality.
type TextDetector interface {
	// DetectText returns the full text found in the image, or "" when the
	// service found nothing.
	DetectText(ctx context.Context, imageBytes []byte) (string, error)
}

// VisionDetector is the concrete TextDetector backed by the Cloud Vision API.
type VisionDetector struct {
	svc *vision.Service
}

// NewVisionDetector creates a Vision-backed detector. It assumes Application
// Default Credentials unless overridden via opts.
func NewVisionDetector(ctx context.Context, opts ...option.ClientOption) (*VisionDetector, error) {
	svc, err := vision.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ocr: creating vision service: %w", err)
	}
	return &VisionDetector{svc: svc}, nil
}

// DetectText runs TEXT_DETECTION over the image bytes.
func (d *VisionDetector) DetectText(ctx context.Context, imageBytes []byte) (string, error) {
	req := &vision.BatchAnnotateImagesRequest{
		Requests: []*vision.AnnotateImageRequest{
			{
				Image: &vision.Image{
					Content: base64.StdEncoding.EncodeToString(imageBytes),
				},
				Features: []*vision.Feature{
					{Type: "TEXT_DETECTION"},
				},
			},
		},
	}

	resp, err := d.svc.Images.Annotate(req).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("ocr: vision annotate: %w", err)
	}
	if len(resp.Responses) == 0 {
		return "", nil
	}

	r := resp.Responses[0]
	if r.Error != nil {
		return "", fmt.Errorf("ocr: vision response: %s", r.Error.Message)
	}
	if r.FullTextAnnotation != nil {
		return r.FullTextAnnotation.Text, nil
	}
	if len(r.TextAnnotations) > 0 {
		return r.TextAnnotations[0].Description, nil
	}
	return "", nil
}

var _ TextDetector = (*VisionDetector)(nil)
