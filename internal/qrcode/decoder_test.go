package qrcode

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func blankPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDecode_NoCodeIsNotAnError(t *testing.T) {
	payload, err := NewDecoder().Decode(context.Background(), blankPNG(t))
	if err != nil {
		t.Fatalf("Decode() error = %v, want nil", err)
	}
	if payload != nil {
		t.Errorf("Decode() = %+v, want nil payload", payload)
	}
}

func TestDecode_UnreadableImageFails(t *testing.T) {
	payload, err := NewDecoder().Decode(context.Background(), []byte("not an image"))
	if err == nil {
		t.Fatal("Decode() error = nil, want image decode failure")
	}
	if payload != nil {
		t.Errorf("Decode() = %+v, want nil payload", payload)
	}
}
