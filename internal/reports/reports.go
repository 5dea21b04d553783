package reports

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	infra "github.com/mafutapass/receipts/internal/infra/bigquery"
	"github.com/mafutapass/receipts/internal/logger"
)

// Store is the persistence contract for expense items and report headers.
// This interface enables mocking and testing of report maintenance.
type Store interface {
	InsertItem(ctx context.Context, row *infra.ExpenseItemRow) error
	UpdateItemCategory(ctx context.Context, itemID, category string) error
	ListItemsByReport(ctx context.Context, reportID string) ([]*infra.ExpenseItemRow, error)
	SetReportTotal(ctx context.Context, reportID string, total float64) error
}

// Manager creates expense line items from processed receipts and keeps the
// parent report totals consistent.
type Manager struct {
	store Store
}

// NewManager creates a manager over the given store.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// CreateItem inserts a line item for a processed receipt and recomputes the
// parent report's total. It returns the new item id.
func (m *Manager) CreateItem(ctx context.Context, reportID, userEmail, receiptID, description string, amount float64, category string) (string, error) {
	itemID := uuid.NewString()

	row := &infra.ExpenseItemRow{
		ItemID:      itemID,
		ReportID:    reportID,
		UserEmail:   userEmail,
		ReceiptID:   receiptID,
		Description: description,
		Amount:      amount,
		Category:    category,
		CreatedTS:   time.Now().UTC(),
	}
	if err := m.store.InsertItem(ctx, row); err != nil {
		return "", fmt.Errorf("reports: inserting item: %w", err)
	}

	if _, err := m.RecomputeTotal(ctx, reportID); err != nil {
		return itemID, fmt.Errorf("reports: recomputing total after insert: %w", err)
	}
	return itemID, nil
}

// ApplyCategory updates only the category column of a line item. The amount
// is untouched, so the report total needs no recompute.
func (m *Manager) ApplyCategory(ctx context.Context, itemID, category string) error {
	if err := m.store.UpdateItemCategory(ctx, itemID, category); err != nil {
		return fmt.Errorf("reports: updating item category: %w", err)
	}
	return nil
}

// RecomputeTotal sums all line items of the report with exact decimal
// arithmetic and writes the result back as the report total.
func (m *Manager) RecomputeTotal(ctx context.Context, reportID string) (float64, error) {
	log := logger.Component(ctx, "reports")

	items, err := m.store.ListItemsByReport(ctx, reportID)
	if err != nil {
		return 0, fmt.Errorf("reports: listing items: %w", err)
	}

	total := decimal.Zero
	for _, item := range items {
		total = total.Add(decimal.NewFromFloat(item.Amount))
	}
	totalFloat, _ := total.Float64()

	if err := m.store.SetReportTotal(ctx, reportID, totalFloat); err != nil {
		return 0, fmt.Errorf("reports: setting total: %w", err)
	}

	log.Debug().
		Str("report_id", reportID).
		Float64("total", totalFloat).
		Int("items", len(items)).
		Msg("report total recomputed")
	return totalFloat, nil
}
