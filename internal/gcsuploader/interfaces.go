package gcsuploader

import (
	"context"
	"fmt"
	"strings"

	"github.com/mafutapass/receipts/internal/gcs"
)

// Re-export interface from shared package for backward compatibility
type ObjectStore = gcs.ObjectStore

// GCSObjectStore is the concrete implementation of ObjectStore
// that interacts with Google Cloud Storage.
type GCSObjectStore struct {
	bucket string
}

// NewGCSObjectStore creates a store writing into the given bucket.
func NewGCSObjectStore(bucket string) *GCSObjectStore {
	return &GCSObjectStore{bucket: bucket}
}

// Upload stores the bytes under a collision-free name derived from pathHint
// and returns the object's public URL.
func (s *GCSObjectStore) Upload(ctx context.Context, pathHint string, data []byte, contentType string) (string, error) {
	objectName := ObjectName(pathHint)
	if err := UploadBytes(ctx, s.bucket, objectName, data, contentType); err != nil {
		return "", fmt.Errorf("uploading %s: %w", objectName, err)
	}
	return s.PublicURL(objectName), nil
}

// PublicURL returns the public URL for an object path in the store's bucket.
func (s *GCSObjectStore) PublicURL(objectPath string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, objectPath)
}

// Fetch downloads object bytes. It accepts both gs:// URIs and the public
// URLs this store hands out.
func (s *GCSObjectStore) Fetch(ctx context.Context, uri string) ([]byte, error) {
	if strings.HasPrefix(uri, "https://storage.googleapis.com/") {
		uri = "gs://" + strings.TrimPrefix(uri, "https://storage.googleapis.com/")
	}
	return FetchFromGCS(ctx, uri)
}

var _ gcs.ObjectStore = (*GCSObjectStore)(nil)
