package gcs

import (
	"context"
)

// ObjectStore provides an interface for cloud storage operations.
// This interface enables mocking and testing of storage functionality.
type ObjectStore interface {
	// Upload stores the bytes under a name derived from pathHint and
	// returns the object's public URL.
	Upload(ctx context.Context, pathHint string, data []byte, contentType string) (string, error)

	// PublicURL returns the public URL for an already-stored object path.
	PublicURL(objectPath string) string

	// Fetch downloads object bytes from the given storage URI or public URL.
	Fetch(ctx context.Context, uri string) ([]byte, error)
}
