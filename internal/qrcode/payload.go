package qrcode

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// PayloadType classifies what a decoded QR code carries.
type PayloadType string

const (
	// PayloadURL is a verification URL (typically a KRA iTax invoice link).
	PayloadURL PayloadType = "url"
	// PayloadStructured is JSON or delimited key/value data.
	PayloadStructured PayloadType = "structured"
	// PayloadPlain is free text with no recognizable structure.
	PayloadPlain PayloadType = "plain"
)

// CodeConfidence is the fixed confidence assigned to any decoded code.
// A successfully decoded code is authoritative.
const CodeConfidence = 100

// Payload is the parsed view of a decoded QR code.
type Payload struct {
	RawText string
	Type    PayloadType

	// URL is set when Type is PayloadURL.
	URL string

	// Fields holds every key/value pair parsed from a structured payload,
	// keys normalized to lower case. Template code-key strategies resolve
	// against this map.
	Fields map[string]string

	// Canonical fields lifted out of Fields via well-known key aliases.
	InvoiceNumber string
	MerchantPIN   string
	MerchantName  string
	TillNumber    string
	ReceiptNumber string
	TotalAmount   *float64
	Timestamp     string

	Confidence int
}

// kraHost identifies the tax authority's invoice checker.
const kraHost = "itax.kra.go.ke"

// Canonical key aliases seen across fiscal printers.
var (
	invoiceKeys  = []string{"invoice", "inv_no", "invoicenumber", "invoice_no", "cuin"}
	pinKeys      = []string{"pin", "merchantpin", "merchant_pin", "kra_pin", "taxid", "tax_id"}
	merchantKeys = []string{"merchant", "merchantname", "merchant_name", "business_name", "supplier"}
	tillKeys     = []string{"till", "tillnumber", "till_number", "till_no"}
	receiptKeys  = []string{"receipt", "receiptnumber", "receipt_no", "rcpt"}
	amountKeys   = []string{"amount", "total", "totalamount", "total_amount", "amt"}
	timeKeys     = []string{"datetime", "date", "timestamp", "time"}
)

// ParsePayload classifies raw QR text and, for structured payloads, parses
// JSON first and falls back to delimited key/value pairs (INV=123;AMT=5000).
func ParsePayload(raw string) *Payload {
	p := &Payload{
		RawText:    strings.TrimSpace(raw),
		Confidence: CodeConfidence,
	}

	switch {
	case strings.HasPrefix(p.RawText, "http://"), strings.HasPrefix(p.RawText, "https://"):
		p.Type = PayloadURL
		p.URL = p.RawText
	case strings.HasPrefix(p.RawText, "{"), strings.ContainsAny(p.RawText, "=:"):
		p.Type = PayloadStructured
		p.Fields = parseStructured(p.RawText)
		p.liftCanonicalFields()
	default:
		p.Type = PayloadPlain
	}

	return p
}

// IsVerificationURL reports whether the payload points at the tax authority's
// invoice checker and should be handed to the verifier stage.
func (p *Payload) IsVerificationURL() bool {
	if p == nil || p.Type != PayloadURL {
		return false
	}
	u, err := url.Parse(p.URL)
	if err != nil {
		return false
	}
	return strings.Contains(u.Host, kraHost)
}

// Lookup resolves a template code-key against the parsed fields,
// case-insensitively. Canonical fields are reachable under their aliases.
func (p *Payload) Lookup(key string) (string, bool) {
	if p == nil || p.Fields == nil {
		return "", false
	}
	v, ok := p.Fields[strings.ToLower(strings.TrimSpace(key))]
	return v, ok
}

func parseStructured(raw string) map[string]string {
	fields := make(map[string]string)

	// JSON first.
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &obj); err == nil {
		for k, v := range obj {
			switch val := v.(type) {
			case string:
				fields[strings.ToLower(k)] = strings.TrimSpace(val)
			case float64:
				fields[strings.ToLower(k)] = strconv.FormatFloat(val, 'f', -1, 64)
			case bool:
				fields[strings.ToLower(k)] = strconv.FormatBool(val)
			default:
				fields[strings.ToLower(k)] = fmt.Sprintf("%v", val)
			}
		}
		return fields
	}

	// Delimited key/value pairs: INV=123,AMT=5000 or PIN:P0512;TILL:889911.
	for _, pair := range splitPairs(raw) {
		kv := splitKV(pair)
		if len(kv) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		value := strings.TrimSpace(kv[1])
		if key != "" && value != "" {
			fields[key] = value
		}
	}
	return fields
}

var (
	pairSep = regexp.MustCompile(`[,;|\n]`)
	kvSep   = regexp.MustCompile(`[=:]`)
)

func splitPairs(raw string) []string { return pairSep.Split(raw, -1) }

func splitKV(pair string) []string { return kvSep.Split(pair, 2) }

func (p *Payload) liftCanonicalFields() {
	p.InvoiceNumber = p.firstOf(invoiceKeys)
	p.MerchantPIN = p.firstOf(pinKeys)
	p.MerchantName = p.firstOf(merchantKeys)
	p.TillNumber = p.firstOf(tillKeys)
	p.ReceiptNumber = p.firstOf(receiptKeys)
	p.Timestamp = p.firstOf(timeKeys)

	if raw := p.firstOf(amountKeys); raw != "" {
		cleaned := strings.ReplaceAll(raw, ",", "")
		if amount, err := strconv.ParseFloat(cleaned, 64); err == nil {
			p.TotalAmount = &amount
		}
	}
}

func (p *Payload) firstOf(keys []string) string {
	for _, k := range keys {
		if v, ok := p.Fields[k]; ok {
			return v
		}
	}
	return ""
}
