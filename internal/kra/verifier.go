package kra

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/mafutapass/receipts/internal/logger"
)

// VerifiedConfidence is the fixed score for authority-verified data. A field
// confirmed by the tax authority's own lookup page is authoritative.
const VerifiedConfidence = 100

const (
	maxAttempts    = 3
	baseRetryDelay = 2 * time.Second
	requestTimeout = 15 * time.Second

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// InvoiceData is the parsed result of a KRA iTax invoice lookup.
type InvoiceData struct {
	ControlUnitInvoiceNumber string   `json:"controlUnitInvoiceNumber,omitempty"`
	TraderInvoiceNumber      string   `json:"traderInvoiceNumber,omitempty"`
	InvoiceDate              string   `json:"invoiceDate,omitempty"`
	MerchantName             string   `json:"merchantName,omitempty"`
	TotalAmount              *float64 `json:"totalAmount,omitempty"`
	TaxableAmount            *float64 `json:"taxableAmount,omitempty"`
	VATAmount                *float64 `json:"vatAmount,omitempty"`
	Verified                 bool     `json:"verified"`
	Confidence               int      `json:"confidence"`
}

// Verifier fetches and parses the KRA iTax invoice checker page.
type Verifier struct {
	client     *http.Client
	retryDelay time.Duration
}

// NewVerifier creates a verifier with a default HTTP client.
func NewVerifier() *Verifier {
	return NewVerifierWithClient(&http.Client{Timeout: requestTimeout})
}

// NewVerifierWithClient creates a verifier using the provided HTTP client.
func NewVerifierWithClient(client *http.Client) *Verifier {
	return &Verifier{client: client, retryDelay: baseRetryDelay}
}

// Verify fetches the invoice page at url and extracts the verified fields.
// It makes up to three attempts with an increasing delay between them and
// returns (nil, nil) once retries are exhausted so callers can fall back to
// the remaining signals.
func (v *Verifier) Verify(ctx context.Context, url string) (*InvoiceData, error) {
	log := logger.Component(ctx, "kra")

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		data, err := v.fetchOnce(ctx, url)
		if err == nil && data != nil {
			log.Info().
				Str("invoice", data.ControlUnitInvoiceNumber).
				Str("merchant", data.MerchantName).
				Msg("invoice verified")
			return data, nil
		}

		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Str("url", url).
			Msg("verification attempt failed")

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(v.retryDelay * time.Duration(attempt)):
			}
		}
	}

	log.Warn().Str("url", url).Msg("verification retries exhausted")
	return nil, nil
}

func (v *Verifier) fetchOnce(ctx context.Context, url string) (*InvoiceData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("kra: creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kra: fetching invoice page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kra: invoice page returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("kra: parsing invoice page: %w", err)
	}

	data := parseInvoicePage(doc)
	if data == nil {
		return nil, fmt.Errorf("kra: no invoice fields found on page")
	}
	return data, nil
}

// Row labels as printed on the iTax invoice checker. Matching is
// label-anchored so a reshuffled layout loses fields instead of crashing.
var fieldLabels = map[string]func(*InvoiceData, string){
	"control unit invoice number": func(d *InvoiceData, v string) { d.ControlUnitInvoiceNumber = v },
	"trader system invoice no":    func(d *InvoiceData, v string) { d.TraderInvoiceNumber = v },
	"invoice date":                func(d *InvoiceData, v string) { d.InvoiceDate = v },
	"supplier name":               func(d *InvoiceData, v string) { d.MerchantName = v },
	"total invoice amount":        func(d *InvoiceData, v string) { d.TotalAmount = parseMoney(v) },
	"total taxable amount":        func(d *InvoiceData, v string) { d.TaxableAmount = parseMoney(v) },
	"total tax amount":            func(d *InvoiceData, v string) { d.VATAmount = parseMoney(v) },
}

// parseInvoicePage walks every table row looking for known labels. Rows come
// in two shapes: label/value, or label/value/label/value.
func parseInvoicePage(doc *goquery.Document) *InvoiceData {
	data := &InvoiceData{}
	found := false

	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td, th")
		for i := 0; i+1 < cells.Length(); i += 2 {
			label := normalizeLabel(cells.Eq(i).Text())
			value := strings.TrimSpace(cells.Eq(i + 1).Text())
			if value == "" {
				continue
			}
			if set, ok := fieldLabels[label]; ok {
				set(data, value)
				found = true
			}
		}
	})

	if !found {
		return nil
	}
	data.Verified = true
	data.Confidence = VerifiedConfidence
	return data
}

func normalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, ":")
	return strings.Join(strings.Fields(s), " ")
}

func parseMoney(raw string) *float64 {
	cleaned := strings.NewReplacer(",", "", "KES", "", "Ksh", "", "KSH", "").Replace(raw)
	n, err := strconv.ParseFloat(strings.TrimSpace(cleaned), 64)
	if err != nil {
		return nil
	}
	return &n
}
