package bigquery

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/mafutapass/receipts/internal/stores"
)

const storesTable = "stores"

type StoreRow struct {
	StoreID      string               `bigquery:"store_id"`       // REQUIRED
	Name         string               `bigquery:"name"`           // REQUIRED
	ChainName    string               `bigquery:"chain_name"`     // NULLABLE
	Category     string               `bigquery:"category"`       // NULLABLE
	TaxPIN       string               `bigquery:"tax_pin"`        // NULLABLE
	TillNumber   string               `bigquery:"till_number"`    // NULLABLE
	Latitude     bigquery.NullFloat64 `bigquery:"latitude"`       // NULLABLE
	Longitude    bigquery.NullFloat64 `bigquery:"longitude"`      // NULLABLE
	QRURLPattern string               `bigquery:"qr_url_pattern"` // NULLABLE
	Verified     bool                 `bigquery:"verified"`       // REQUIRED
	Active       bool                 `bigquery:"active"`         // REQUIRED
}

func profileFromStoreRow(row *StoreRow) *stores.StoreProfile {
	p := &stores.StoreProfile{
		ID:           row.StoreID,
		Name:         row.Name,
		ChainName:    row.ChainName,
		Category:     row.Category,
		TaxPIN:       row.TaxPIN,
		TillNumber:   row.TillNumber,
		QRURLPattern: row.QRURLPattern,
		Verified:     row.Verified,
	}
	if row.Latitude.Valid {
		p.Latitude = row.Latitude.Float64
	}
	if row.Longitude.Valid {
		p.Longitude = row.Longitude.Float64
	}
	return p
}

const storeColumns = `
	store_id,
	name,
	chain_name,
	category,
	tax_pin,
	till_number,
	latitude,
	longitude,
	qr_url_pattern,
	verified,
	active`

// FindStoreByPINWithClient retrieves the store registered under the given tax
// PIN. Returns nil if no store matches.
func FindStoreByPINWithClient(ctx context.Context, client *bigquery.Client, pin string) (*stores.StoreProfile, error) {
	normPIN := strings.ToUpper(strings.TrimSpace(pin))
	if normPIN == "" {
		return nil, fmt.Errorf("FindStoreByPINWithClient: pin cannot be empty")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM `+"`%s.%s.%s`"+`
		WHERE UPPER(tax_pin) = @pin AND active
		LIMIT 1
	`, storeColumns, projectID, datasetID, storesTable)

	q := client.Query(query)
	q.Parameters = []bigquery.QueryParameter{{Name: "pin", Value: normPIN}}
	return readOneStore(ctx, q, "FindStoreByPINWithClient")
}

// FindStoreByTillWithClient retrieves the store with the given till number.
// Returns nil if no store matches.
func FindStoreByTillWithClient(ctx context.Context, client *bigquery.Client, till string) (*stores.StoreProfile, error) {
	normTill := strings.TrimSpace(till)
	if normTill == "" {
		return nil, fmt.Errorf("FindStoreByTillWithClient: till cannot be empty")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM `+"`%s.%s.%s`"+`
		WHERE till_number = @till AND active
		LIMIT 1
	`, storeColumns, projectID, datasetID, storesTable)

	q := client.Query(query)
	q.Parameters = []bigquery.QueryParameter{{Name: "till", Value: normTill}}
	return readOneStore(ctx, q, "FindStoreByTillWithClient")
}

// ListActiveStoresWithClient retrieves all active store profiles.
func ListActiveStoresWithClient(ctx context.Context, client *bigquery.Client) ([]*stores.StoreProfile, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM `+"`%s.%s.%s`"+`
		WHERE active
		ORDER BY name
	`, storeColumns, projectID, datasetID, storesTable)

	it, err := client.Query(query).Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListActiveStoresWithClient: reading query: %w", err)
	}

	var profiles []*stores.StoreProfile
	for {
		var row StoreRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListActiveStoresWithClient: iterating: %w", err)
		}
		profiles = append(profiles, profileFromStoreRow(&row))
	}
	return profiles, nil
}

func readOneStore(ctx context.Context, q *bigquery.Query, op string) (*stores.StoreProfile, error) {
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: reading query: %w", op, err)
	}

	var row StoreRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: reading row: %w", op, err)
	}
	return profileFromStoreRow(&row), nil
}
