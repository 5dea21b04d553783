package bigquery

import (
	"encoding/json"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/mafutapass/receipts/internal/archive"
	"github.com/mafutapass/receipts/internal/enhance"
)

const (
	projectID        = "mafutapass-prod"
	datasetID        = "receipts"
	rawReceiptsTable = "raw_receipts"
)

type RawReceiptRow struct {
	ReceiptID   string `bigquery:"receipt_id"`   // REQUIRED
	UserID      string `bigquery:"user_id"`      // NULLABLE
	UserEmail   string `bigquery:"user_email"`   // REQUIRED
	WorkspaceID string `bigquery:"workspace_id"` // NULLABLE
	StoreID     string `bigquery:"store_id"`     // NULLABLE

	ImageURL    string `bigquery:"image_url"`    // REQUIRED
	ContentHash string `bigquery:"content_hash"` // REQUIRED

	CodeRawText    string `bigquery:"code_raw_text"`   // NULLABLE
	CodeFields     string `bigquery:"code_fields"`     // NULLABLE, JSON object
	OCRText        string `bigquery:"ocr_text"`        // NULLABLE
	VerifierFields string `bigquery:"verifier_fields"` // NULLABLE, JSON object
	AIPayload      string `bigquery:"ai_payload"`      // NULLABLE, JSON object

	InvoiceDate bigquery.NullDate `bigquery:"invoice_date"` // NULLABLE

	Latitude         bigquery.NullFloat64 `bigquery:"latitude"`          // NULLABLE
	Longitude        bigquery.NullFloat64 `bigquery:"longitude"`         // NULLABLE
	LocationAccuracy bigquery.NullFloat64 `bigquery:"location_accuracy"` // NULLABLE

	CapturedTS time.Time `bigquery:"captured_ts"` // REQUIRED
	CreatedTS  time.Time `bigquery:"created_ts"`  // REQUIRED

	ProcessingStatus string `bigquery:"processing_status"` // REQUIRED
}

// rowFromRecord converts the archive record into its storage row.
func rowFromRecord(rec *archive.RawReceiptRecord) *RawReceiptRow {
	row := &RawReceiptRow{
		ReceiptID:        rec.ID,
		UserID:           rec.UserID,
		UserEmail:        rec.UserEmail,
		WorkspaceID:      rec.WorkspaceID,
		StoreID:          rec.StoreID,
		ImageURL:         rec.ImageURL,
		ContentHash:      rec.ContentHash,
		CodeRawText:      rec.CodeRawText,
		CodeFields:       marshalFields(rec.CodeFields),
		OCRText:          rec.OCRText,
		VerifierFields:   marshalFields(rec.VerifierFields),
		CapturedTS:       rec.CapturedAt,
		CreatedTS:        rec.CreatedAt,
		ProcessingStatus: string(rec.Status),
	}
	if rec.AIPayload != nil {
		if data, err := json.Marshal(rec.AIPayload); err == nil {
			row.AIPayload = string(data)
		}
	}
	row.InvoiceDate = invoiceDate(rec.VerifierFields)
	row.Latitude = nullFloat(rec.Latitude)
	row.Longitude = nullFloat(rec.Longitude)
	row.LocationAccuracy = nullFloat(rec.LocationAccuracy)
	return row
}

// recordFromRow converts a storage row back into the archive record.
func recordFromRow(row *RawReceiptRow) *archive.RawReceiptRecord {
	rec := &archive.RawReceiptRecord{
		ID:             row.ReceiptID,
		UserID:         row.UserID,
		UserEmail:      row.UserEmail,
		WorkspaceID:    row.WorkspaceID,
		StoreID:        row.StoreID,
		ImageURL:       row.ImageURL,
		ContentHash:    row.ContentHash,
		CodeRawText:    row.CodeRawText,
		CodeFields:     unmarshalFields(row.CodeFields),
		OCRText:        row.OCRText,
		VerifierFields: unmarshalFields(row.VerifierFields),
		CapturedAt:     row.CapturedTS,
		CreatedAt:      row.CreatedTS,
		Status:         archive.Status(row.ProcessingStatus),
	}
	if row.AIPayload != "" {
		var payload enhance.Enhancement
		if err := json.Unmarshal([]byte(row.AIPayload), &payload); err == nil {
			rec.AIPayload = &payload
		}
	}
	rec.Latitude = floatPtr(row.Latitude)
	rec.Longitude = floatPtr(row.Longitude)
	rec.LocationAccuracy = floatPtr(row.LocationAccuracy)
	return rec
}

func marshalFields(fields map[string]string) string {
	if len(fields) == 0 {
		return ""
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalFields(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	var fields map[string]string
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil
	}
	return fields
}

// invoiceDate extracts the tax authority's invoice date into a DATE column so
// queries can filter on it without parsing the JSON fields. The authority
// formats dates as dd/mm/yyyy.
func invoiceDate(fields map[string]string) bigquery.NullDate {
	raw, ok := fields["invoiceDate"]
	if !ok || raw == "" {
		return bigquery.NullDate{}
	}
	t, err := time.Parse("02/01/2006", raw)
	if err != nil {
		return bigquery.NullDate{}
	}
	return bigquery.NullDate{Date: civil.DateOf(t), Valid: true}
}

func nullFloat(f *float64) bigquery.NullFloat64 {
	if f == nil {
		return bigquery.NullFloat64{}
	}
	return bigquery.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(f bigquery.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}
