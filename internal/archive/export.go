package archive

import (
	"fmt"
	"sort"
	"strings"
)

// ExportText renders a record's full signal bundle as deterministic plain
// text for downstream analysis. Maps are emitted in sorted key order so the
// same record always exports byte-identically.
func ExportText(rec *RawReceiptRecord) string {
	var b strings.Builder

	fmt.Fprintf(&b, "RECEIPT %s\n", rec.ID)
	fmt.Fprintf(&b, "status: %s\n", rec.Status)
	fmt.Fprintf(&b, "user: %s\n", rec.UserEmail)
	if rec.StoreID != "" {
		fmt.Fprintf(&b, "store: %s\n", rec.StoreID)
	}
	fmt.Fprintf(&b, "captured: %s\n", rec.CapturedAt.UTC().Format("2006-01-02T15:04:05Z"))
	fmt.Fprintf(&b, "hash: %s\n", rec.ContentHash)

	if rec.Latitude != nil && rec.Longitude != nil {
		fmt.Fprintf(&b, "location: %.6f,%.6f", *rec.Latitude, *rec.Longitude)
		if rec.LocationAccuracy != nil {
			fmt.Fprintf(&b, " (accuracy %.0fm)", *rec.LocationAccuracy)
		}
		b.WriteString("\n")
	}

	if len(rec.CodeFields) > 0 || rec.CodeRawText != "" {
		b.WriteString("\n[code]\n")
		if rec.CodeRawText != "" {
			fmt.Fprintf(&b, "raw: %s\n", rec.CodeRawText)
		}
		writeSortedFields(&b, rec.CodeFields)
	}

	if rec.OCRText != "" {
		b.WriteString("\n[ocr]\n")
		b.WriteString(rec.OCRText)
		if !strings.HasSuffix(rec.OCRText, "\n") {
			b.WriteString("\n")
		}
	}

	if len(rec.VerifierFields) > 0 {
		b.WriteString("\n[verifier]\n")
		writeSortedFields(&b, rec.VerifierFields)
	}

	if rec.AIPayload != nil {
		b.WriteString("\n[ai]\n")
		fmt.Fprintf(&b, "category: %s (confidence %d)\n", rec.AIPayload.Category, rec.AIPayload.Confidence)
		if rec.AIPayload.Subcategory != "" {
			fmt.Fprintf(&b, "subcategory: %s\n", rec.AIPayload.Subcategory)
		}
		writeSortedList(&b, "tags", rec.AIPayload.Tags)
		writeSortedList(&b, "insights", rec.AIPayload.Insights)
		writeSortedList(&b, "anomalies", rec.AIPayload.Anomalies)
	}
	return b.String()
}

func writeSortedFields(b *strings.Builder, fields map[string]string) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "%s: %s\n", k, fields[k])
	}
}

func writeSortedList(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	sorted := append([]string{}, items...)
	sort.Strings(sorted)
	fmt.Fprintf(b, "%s: %s\n", label, strings.Join(sorted, "; "))
}
