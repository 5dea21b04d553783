package bigquery

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/mafutapass/receipts/internal/archive"
	"github.com/mafutapass/receipts/internal/enhance"
)

const rawReceiptColumns = `
	receipt_id,
	user_id,
	user_email,
	workspace_id,
	store_id,
	image_url,
	content_hash,
	code_raw_text,
	code_fields,
	ocr_text,
	verifier_fields,
	ai_payload,
	invoice_date,
	latitude,
	longitude,
	location_accuracy,
	captured_ts,
	created_ts,
	processing_status`

// InsertRawReceiptWithClient inserts a single record into receipts.raw_receipts.
func InsertRawReceiptWithClient(ctx context.Context, client *bigquery.Client, rec *archive.RawReceiptRecord) error {
	inserter := client.Dataset(datasetID).Table(rawReceiptsTable).Inserter()
	if err := inserter.Put(ctx, rowFromRecord(rec)); err != nil {
		return fmt.Errorf("InsertRawReceiptWithClient: inserting row: %w", err)
	}
	return nil
}

// GetRawReceiptByIDWithClient retrieves a record by id. Returns nil if no
// record exists.
func GetRawReceiptByIDWithClient(ctx context.Context, client *bigquery.Client, id string) (*archive.RawReceiptRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM `+"`%s.%s.%s`"+`
		WHERE receipt_id = @id
		LIMIT 1
	`, rawReceiptColumns, projectID, datasetID, rawReceiptsTable)

	q := client.Query(query)
	q.Parameters = []bigquery.QueryParameter{{Name: "id", Value: id}}

	return readOneRawReceipt(ctx, q, "GetRawReceiptByIDWithClient")
}

// FindRawReceiptByHashWithClient retrieves the earliest record with the given
// content hash. Returns nil if no record with the hash exists.
func FindRawReceiptByHashWithClient(ctx context.Context, client *bigquery.Client, hash string) (*archive.RawReceiptRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM `+"`%s.%s.%s`"+`
		WHERE content_hash = @hash
		ORDER BY created_ts ASC
		LIMIT 1
	`, rawReceiptColumns, projectID, datasetID, rawReceiptsTable)

	q := client.Query(query)
	q.Parameters = []bigquery.QueryParameter{{Name: "hash", Value: hash}}

	return readOneRawReceipt(ctx, q, "FindRawReceiptByHashWithClient")
}

// UpdateRawReceiptStatusWithClient sets only the processing_status column.
func UpdateRawReceiptStatusWithClient(ctx context.Context, client *bigquery.Client, id string, status archive.Status) error {
	q := client.Query(fmt.Sprintf(`
		UPDATE `+"`%s.%s.%s`"+`
		SET processing_status = @status
		WHERE receipt_id = @id
	`, projectID, datasetID, rawReceiptsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: string(status)},
		{Name: "id", Value: id},
	}
	return runDML(ctx, q, "UpdateRawReceiptStatusWithClient")
}

// UpdateRawReceiptAIPayloadWithClient sets only the ai_payload column. The
// background enhancement path writes here while the synchronous path may be
// updating other columns of the same record, so the update must stay
// field-level.
func UpdateRawReceiptAIPayloadWithClient(ctx context.Context, client *bigquery.Client, id string, payload *enhance.Enhancement) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("UpdateRawReceiptAIPayloadWithClient: marshaling payload: %w", err)
	}

	q := client.Query(fmt.Sprintf(`
		UPDATE `+"`%s.%s.%s`"+`
		SET ai_payload = @payload
		WHERE receipt_id = @id
	`, projectID, datasetID, rawReceiptsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "payload", Value: string(data)},
		{Name: "id", Value: id},
	}
	return runDML(ctx, q, "UpdateRawReceiptAIPayloadWithClient")
}

// UpdateRawReceiptStoreIDWithClient links the record to a recognized store.
func UpdateRawReceiptStoreIDWithClient(ctx context.Context, client *bigquery.Client, id, storeID string) error {
	q := client.Query(fmt.Sprintf(`
		UPDATE `+"`%s.%s.%s`"+`
		SET store_id = @store_id
		WHERE receipt_id = @id
	`, projectID, datasetID, rawReceiptsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "store_id", Value: storeID},
		{Name: "id", Value: id},
	}
	return runDML(ctx, q, "UpdateRawReceiptStoreIDWithClient")
}

// ListRawReceiptsByUserWithClient retrieves a user's records, newest first.
func ListRawReceiptsByUserWithClient(ctx context.Context, client *bigquery.Client, userID string, limit int) ([]*archive.RawReceiptRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM `+"`%s.%s.%s`"+`
		WHERE user_id = @user_id
		ORDER BY created_ts DESC
		LIMIT @limit
	`, rawReceiptColumns, projectID, datasetID, rawReceiptsTable)

	q := client.Query(query)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "limit", Value: int64(limit)},
	}
	return readRawReceipts(ctx, q, "ListRawReceiptsByUserWithClient")
}

// ListRawReceiptsByStoreWithClient retrieves a store's records, newest first.
func ListRawReceiptsByStoreWithClient(ctx context.Context, client *bigquery.Client, storeID string, limit int) ([]*archive.RawReceiptRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM `+"`%s.%s.%s`"+`
		WHERE store_id = @store_id
		ORDER BY created_ts DESC
		LIMIT @limit
	`, rawReceiptColumns, projectID, datasetID, rawReceiptsTable)

	q := client.Query(query)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "store_id", Value: storeID},
		{Name: "limit", Value: int64(limit)},
	}
	return readRawReceipts(ctx, q, "ListRawReceiptsByStoreWithClient")
}

// ListUnprocessedRawReceiptsWithClient retrieves records that never reached a
// terminal status, oldest first, for reprocessing.
func ListUnprocessedRawReceiptsWithClient(ctx context.Context, client *bigquery.Client, limit int) ([]*archive.RawReceiptRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM `+"`%s.%s.%s`"+`
		WHERE processing_status IN ('raw', 'processing')
		ORDER BY created_ts ASC
		LIMIT @limit
	`, rawReceiptColumns, projectID, datasetID, rawReceiptsTable)

	q := client.Query(query)
	q.Parameters = []bigquery.QueryParameter{{Name: "limit", Value: int64(limit)}}
	return readRawReceipts(ctx, q, "ListUnprocessedRawReceiptsWithClient")
}

func readOneRawReceipt(ctx context.Context, q *bigquery.Query, op string) (*archive.RawReceiptRecord, error) {
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: reading query: %w", op, err)
	}

	var row RawReceiptRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: reading row: %w", op, err)
	}
	return recordFromRow(&row), nil
}

func readRawReceipts(ctx context.Context, q *bigquery.Query, op string) ([]*archive.RawReceiptRecord, error) {
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: reading query: %w", op, err)
	}

	var records []*archive.RawReceiptRecord
	for {
		var row RawReceiptRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: iterating: %w", op, err)
		}
		records = append(records, recordFromRow(&row))
	}
	return records, nil
}

func runDML(ctx context.Context, q *bigquery.Query, op string) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("%s: running query: %w", op, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("%s: waiting for job: %w", op, err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("%s: job error: %w", op, err)
	}
	return nil
}
