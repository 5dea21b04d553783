package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"

	"github.com/mafutapass/receipts/internal/archive"
	"github.com/mafutapass/receipts/internal/enhance"
	"github.com/mafutapass/receipts/internal/stores"
)

// ReceiptRepository is the concrete archive.Repository backed by BigQuery.
// It holds a shared client to avoid creating a new connection per operation.
type ReceiptRepository struct {
	client *bigquery.Client
}

// NewReceiptRepository creates a repository with a shared BigQuery client.
func NewReceiptRepository(ctx context.Context) (*ReceiptRepository, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewReceiptRepository: creating client: %w", err)
	}
	return &ReceiptRepository{client: client}, nil
}

// NewReceiptRepositoryWithClient wraps an existing client.
func NewReceiptRepositoryWithClient(client *bigquery.Client) *ReceiptRepository {
	return &ReceiptRepository{client: client}
}

// Close closes the BigQuery client connection.
func (r *ReceiptRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *ReceiptRepository) Insert(ctx context.Context, rec *archive.RawReceiptRecord) error {
	return InsertRawReceiptWithClient(ctx, r.client, rec)
}

func (r *ReceiptRepository) GetByID(ctx context.Context, id string) (*archive.RawReceiptRecord, error) {
	return GetRawReceiptByIDWithClient(ctx, r.client, id)
}

func (r *ReceiptRepository) GetByHash(ctx context.Context, hash string) (*archive.RawReceiptRecord, error) {
	return FindRawReceiptByHashWithClient(ctx, r.client, hash)
}

func (r *ReceiptRepository) UpdateStatus(ctx context.Context, id string, status archive.Status) error {
	return UpdateRawReceiptStatusWithClient(ctx, r.client, id, status)
}

func (r *ReceiptRepository) UpdateAIPayload(ctx context.Context, id string, payload *enhance.Enhancement) error {
	return UpdateRawReceiptAIPayloadWithClient(ctx, r.client, id, payload)
}

func (r *ReceiptRepository) UpdateStoreID(ctx context.Context, id, storeID string) error {
	return UpdateRawReceiptStoreIDWithClient(ctx, r.client, id, storeID)
}

func (r *ReceiptRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*archive.RawReceiptRecord, error) {
	return ListRawReceiptsByUserWithClient(ctx, r.client, userID, limit)
}

func (r *ReceiptRepository) ListByStore(ctx context.Context, storeID string, limit int) ([]*archive.RawReceiptRecord, error) {
	return ListRawReceiptsByStoreWithClient(ctx, r.client, storeID, limit)
}

func (r *ReceiptRepository) ListUnprocessed(ctx context.Context, limit int) ([]*archive.RawReceiptRecord, error) {
	return ListUnprocessedRawReceiptsWithClient(ctx, r.client, limit)
}

var _ archive.Repository = (*ReceiptRepository)(nil)

// StoreRepository is the concrete stores.Repository backed by BigQuery.
type StoreRepository struct {
	client *bigquery.Client
}

// NewStoreRepository creates a repository with a shared BigQuery client.
func NewStoreRepository(ctx context.Context) (*StoreRepository, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewStoreRepository: creating client: %w", err)
	}
	return &StoreRepository{client: client}, nil
}

// NewStoreRepositoryWithClient wraps an existing client.
func NewStoreRepositoryWithClient(client *bigquery.Client) *StoreRepository {
	return &StoreRepository{client: client}
}

// Close closes the BigQuery client connection.
func (r *StoreRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *StoreRepository) GetByPIN(ctx context.Context, pin string) (*stores.StoreProfile, error) {
	return FindStoreByPINWithClient(ctx, r.client, pin)
}

func (r *StoreRepository) GetByTill(ctx context.Context, till string) (*stores.StoreProfile, error) {
	return FindStoreByTillWithClient(ctx, r.client, till)
}

func (r *StoreRepository) ListActive(ctx context.Context) ([]*stores.StoreProfile, error) {
	return ListActiveStoresWithClient(ctx, r.client)
}

var _ stores.Repository = (*StoreRepository)(nil)

// ExpenseRepository persists line items and report headers.
type ExpenseRepository struct {
	client *bigquery.Client
}

// NewExpenseRepository creates a repository with a shared BigQuery client.
func NewExpenseRepository(ctx context.Context) (*ExpenseRepository, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewExpenseRepository: creating client: %w", err)
	}
	return &ExpenseRepository{client: client}, nil
}

// NewExpenseRepositoryWithClient wraps an existing client.
func NewExpenseRepositoryWithClient(client *bigquery.Client) *ExpenseRepository {
	return &ExpenseRepository{client: client}
}

// Close closes the BigQuery client connection.
func (r *ExpenseRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *ExpenseRepository) InsertItem(ctx context.Context, row *ExpenseItemRow) error {
	return InsertExpenseItemWithClient(ctx, r.client, row)
}

func (r *ExpenseRepository) UpdateItemCategory(ctx context.Context, itemID, category string) error {
	return UpdateExpenseItemCategoryWithClient(ctx, r.client, itemID, category)
}

func (r *ExpenseRepository) ListItemsByReport(ctx context.Context, reportID string) ([]*ExpenseItemRow, error) {
	return ListExpenseItemsByReportWithClient(ctx, r.client, reportID)
}

func (r *ExpenseRepository) SetReportTotal(ctx context.Context, reportID string, total float64) error {
	return SetReportTotalWithClient(ctx, r.client, reportID, total)
}

func (r *ExpenseRepository) GetReport(ctx context.Context, reportID string) (*ExpenseReportRow, error) {
	return GetExpenseReportWithClient(ctx, r.client, reportID)
}
