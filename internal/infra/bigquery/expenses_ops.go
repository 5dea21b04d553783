package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

const (
	expenseItemsTable   = "expense_items"
	expenseReportsTable = "expense_reports"
)

type ExpenseItemRow struct {
	ItemID      string    `bigquery:"item_id"`     // REQUIRED
	ReportID    string    `bigquery:"report_id"`   // REQUIRED
	UserEmail   string    `bigquery:"user_email"`  // REQUIRED
	ReceiptID   string    `bigquery:"receipt_id"`  // NULLABLE
	Description string    `bigquery:"description"` // NULLABLE
	Amount      float64   `bigquery:"amount"`      // REQUIRED
	Category    string    `bigquery:"category"`    // NULLABLE
	CreatedTS   time.Time `bigquery:"created_ts"`  // REQUIRED
}

type ExpenseReportRow struct {
	ReportID    string    `bigquery:"report_id"`    // REQUIRED
	UserEmail   string    `bigquery:"user_email"`   // REQUIRED
	Title       string    `bigquery:"title"`        // NULLABLE
	TotalAmount float64   `bigquery:"total_amount"` // REQUIRED
	Status      string    `bigquery:"status"`       // NULLABLE
	CreatedTS   time.Time `bigquery:"created_ts"`   // REQUIRED
}

// InsertExpenseItemWithClient inserts a single line item.
func InsertExpenseItemWithClient(ctx context.Context, client *bigquery.Client, row *ExpenseItemRow) error {
	inserter := client.Dataset(datasetID).Table(expenseItemsTable).Inserter()
	if err := inserter.Put(ctx, row); err != nil {
		return fmt.Errorf("InsertExpenseItemWithClient: inserting row: %w", err)
	}
	return nil
}

// UpdateExpenseItemCategoryWithClient sets only the category column, so the
// asynchronous categorization path cannot clobber concurrent writes to other
// columns.
func UpdateExpenseItemCategoryWithClient(ctx context.Context, client *bigquery.Client, itemID, category string) error {
	q := client.Query(fmt.Sprintf(`
		UPDATE `+"`%s.%s.%s`"+`
		SET category = @category
		WHERE item_id = @id
	`, projectID, datasetID, expenseItemsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "category", Value: category},
		{Name: "id", Value: itemID},
	}
	return runDML(ctx, q, "UpdateExpenseItemCategoryWithClient")
}

// ListExpenseItemsByReportWithClient retrieves a report's line items.
func ListExpenseItemsByReportWithClient(ctx context.Context, client *bigquery.Client, reportID string) ([]*ExpenseItemRow, error) {
	query := fmt.Sprintf(`
		SELECT
			item_id,
			report_id,
			user_email,
			receipt_id,
			description,
			amount,
			category,
			created_ts
		FROM `+"`%s.%s.%s`"+`
		WHERE report_id = @report_id
		ORDER BY created_ts ASC
	`, projectID, datasetID, expenseItemsTable)

	q := client.Query(query)
	q.Parameters = []bigquery.QueryParameter{{Name: "report_id", Value: reportID}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListExpenseItemsByReportWithClient: reading query: %w", err)
	}

	var items []*ExpenseItemRow
	for {
		var row ExpenseItemRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListExpenseItemsByReportWithClient: iterating: %w", err)
		}
		items = append(items, &row)
	}
	return items, nil
}

// SetReportTotalWithClient sets only the total_amount column on the report.
func SetReportTotalWithClient(ctx context.Context, client *bigquery.Client, reportID string, total float64) error {
	q := client.Query(fmt.Sprintf(`
		UPDATE `+"`%s.%s.%s`"+`
		SET total_amount = @total
		WHERE report_id = @id
	`, projectID, datasetID, expenseReportsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "total", Value: total},
		{Name: "id", Value: reportID},
	}
	return runDML(ctx, q, "SetReportTotalWithClient")
}

// GetExpenseReportWithClient retrieves a report header. Returns nil if no
// report exists.
func GetExpenseReportWithClient(ctx context.Context, client *bigquery.Client, reportID string) (*ExpenseReportRow, error) {
	query := fmt.Sprintf(`
		SELECT
			report_id,
			user_email,
			title,
			total_amount,
			status,
			created_ts
		FROM `+"`%s.%s.%s`"+`
		WHERE report_id = @id
		LIMIT 1
	`, projectID, datasetID, expenseReportsTable)

	q := client.Query(query)
	q.Parameters = []bigquery.QueryParameter{{Name: "id", Value: reportID}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetExpenseReportWithClient: reading query: %w", err)
	}

	var row ExpenseReportRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetExpenseReportWithClient: reading row: %w", err)
	}
	return &row, nil
}
