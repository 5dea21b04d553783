package stores

import "context"

// StoreProfile is a known merchant location. Profiles are managed outside the
// pipeline and read-only here.
type StoreProfile struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	ChainName    string  `json:"chainName,omitempty"`
	Category     string  `json:"category,omitempty"`
	TaxPIN       string  `json:"taxPin,omitempty"`
	TillNumber   string  `json:"tillNumber,omitempty"`
	Latitude     float64 `json:"latitude,omitempty"`
	Longitude    float64 `json:"longitude,omitempty"`
	QRURLPattern string  `json:"qrUrlPattern,omitempty"`
	Verified     bool    `json:"verified"`
}

// Geolocation is a capture-time device position.
type Geolocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Repository is the read interface over the store catalog.
// This interface enables mocking and testing of store recognition.
type Repository interface {
	// GetByPIN returns the store registered under the given tax PIN, or
	// (nil, nil) when none exists.
	GetByPIN(ctx context.Context, pin string) (*StoreProfile, error)

	// GetByTill returns the store with the given till number, or (nil, nil).
	GetByTill(ctx context.Context, till string) (*StoreProfile, error)

	// ListActive returns all active store profiles.
	ListActive(ctx context.Context) ([]*StoreProfile, error)
}

// TemplateCatalog supplies candidate template ids for a recognized store.
type TemplateCatalog interface {
	// Suggest returns template ids ordered store-specific, chain-specific,
	// category-generic, then global-generic.
	Suggest(storeID, chainName, category string) []string
}
