package ocr

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Receipt-start markers: the merchant name usually sits on the line after one
// of these when the printer emits a header banner first.
var startMarkers = []string{"CASH SALE", "TAX INVOICE", "FISCAL RECEIPT", "SALES RECEIPT"}

// Total-amount patterns in priority order. The first match wins.
var totalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)TOTAL[:\s]*(?:KES|KSH|KSHS)?\s*([0-9,]+\.?[0-9]*)`),
	regexp.MustCompile(`(?i)(?:SUM|AMOUNT)[:\s]*(?:KES|KSH|KSHS)?\s*([0-9,]+\.?[0-9]*)`),
	regexp.MustCompile(`(?i)CASH[:\s]*([0-9,]+\.?[0-9]*)`),
	regexp.MustCompile(`([0-9,]+\.[0-9]{2})\s*(?:KES|KSH|KSHS)`),
}

var (
	datePattern    = regexp.MustCompile(`(\d{1,2}[/-]\d{1,2}[/-]\d{2,4})`)
	invoicePattern = regexp.MustCompile(`(?i)(?:Invoice|INV|Receipt)\s*(?:No|Nr|Number|#)?[.:#\s]+([A-Z0-9-]{4,})`)
	pumpPattern    = regexp.MustCompile(`(?i)(?:PUMP|NOZZLE)\s*[:#]?\s*([0-9A-Z]+)`)
	vehiclePattern = regexp.MustCompile(`\b([A-Z]{3}\s?[0-9]{3}[A-Z]?)\b`)
	litresPattern  = regexp.MustCompile(`(?i)([0-9]+\.?[0-9]*)\s*(?:L(?:itres?|trs?|TR)?)\b`)
	volumePattern  = regexp.MustCompile(`(?i)(?:VOLUME|QTY|DISPENSED)[:\s]*([0-9]+\.?[0-9]*)`)
	numberPattern  = regexp.MustCompile(`[0-9]+\.?[0-9]*`)
)

// Fuel product codes as printed on Kenyan pump receipts.
var fuelPatterns = []struct {
	fuelType string
	re       *regexp.Regexp
}{
	{"DIESEL", regexp.MustCompile(`(?i)\b(DIESEL|AGO)\b`)},
	{"PETROL", regexp.MustCompile(`(?i)\b(PETROL|PMS|UNLEADED)\b`)},
	{"SUPER", regexp.MustCompile(`(?i)\b(SUPER|V-POWER)\b`)},
	{"KEROSENE", regexp.MustCompile(`(?i)\b(KEROSENE|DPK)\b`)},
	{"GAS", regexp.MustCompile(`(?i)\b(LPG|GAS)\b`)},
}

// ParseReceiptText applies the field heuristics to raw OCR text.
func ParseReceiptText(text string) *Result {
	result := &Result{FullText: text}

	result.MerchantName = ExtractMerchantLine(text)

	for _, re := range totalPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			if amount, err := parseAmount(m[1]); err == nil {
				result.TotalAmount = &amount
				break
			}
		}
	}

	if m := datePattern.FindStringSubmatch(text); m != nil {
		result.Date = m[1]
	}
	if m := invoicePattern.FindStringSubmatch(text); m != nil {
		result.InvoiceNumber = m[1]
	}

	parseFuelFields(text, result)

	result.Confidence = estimateConfidence(result)
	return result
}

// ExtractMerchantLine returns the likely merchant name: the first plausible
// non-empty line, or the line after a receipt-start marker.
func ExtractMerchantLine(text string) string {
	lines := nonEmptyLines(text)
	if len(lines) == 0 {
		return ""
	}

	for i, line := range lines {
		upper := strings.ToUpper(line)
		for _, marker := range startMarkers {
			if strings.Contains(upper, marker) && i+1 < len(lines) {
				if plausibleMerchant(lines[i+1]) {
					return lines[i+1]
				}
			}
		}
	}

	if plausibleMerchant(lines[0]) {
		return lines[0]
	}
	return ""
}

func plausibleMerchant(line string) bool {
	line = strings.TrimSpace(line)
	if len(line) <= 3 || len(line) >= 50 {
		return false
	}
	if regexp.MustCompile(`^[0-9\s.,-]+$`).MatchString(line) {
		return false
	}
	upper := strings.ToUpper(line)
	return !strings.Contains(upper, "RECEIPT") && !strings.Contains(upper, "INVOICE")
}

func parseFuelFields(text string, result *Result) {
	for _, fp := range fuelPatterns {
		if fp.re.MatchString(text) {
			result.FuelType = fp.fuelType
			break
		}
	}

	if m := pumpPattern.FindStringSubmatch(text); m != nil {
		result.PumpNumber = m[1]
	}
	if m := vehiclePattern.FindStringSubmatch(strings.ToUpper(text)); m != nil {
		result.VehicleNumber = strings.Join(strings.Fields(m[1]), " ")
	}

	if m := litresPattern.FindStringSubmatch(text); m != nil {
		if litres, err := strconv.ParseFloat(m[1], 64); err == nil && litres > 0 {
			result.Litres = &litres
		}
	} else if m := volumePattern.FindStringSubmatch(text); m != nil {
		if litres, err := strconv.ParseFloat(m[1], 64); err == nil && litres > 0 {
			result.Litres = &litres
		}
	}

	// No labelled litres: fall back to the price-validation heuristic.
	if result.Litres == nil && result.TotalAmount != nil {
		if litres, price, ok := litresByPrice(text, *result.TotalAmount, result.FuelType); ok {
			result.Litres = &litres
			result.PricePerLitre = &price
		}
	}

	if result.PricePerLitre == nil && result.Litres != nil && result.TotalAmount != nil && *result.Litres > 0 {
		price := *result.TotalAmount / *result.Litres
		result.PricePerLitre = &price
	}
}

// Plausible KES-per-litre bands by fuel type.
var fuelPriceRanges = map[string][2]float64{
	"PETROL":   {170, 230},
	"DIESEL":   {160, 220},
	"SUPER":    {180, 240},
	"GAS":      {100, 150},
	"KEROSENE": {140, 180},
}

// litresByPrice scans every number on the receipt for a candidate volume in
// [5,100] litres whose implied price per litre lands in a plausible band.
// Candidates inside the fuel-type band beat candidates in the generic band.
func litresByPrice(text string, totalAmount float64, fuelType string) (litres, pricePerLitre float64, ok bool) {
	type candidate struct {
		litres float64
		price  float64
		score  int
	}

	var candidates []candidate
	for _, m := range numberPattern.FindAllString(text, -1) {
		n, err := strconv.ParseFloat(m, 64)
		if err != nil || n < 5 || n > 100 {
			continue
		}
		price := totalAmount / n
		if price < 100 || price > 250 {
			continue
		}

		score := 75
		if r, known := fuelPriceRanges[fuelType]; known && price >= r[0] && price <= r[1] {
			score = 95
		}
		candidates = append(candidates, candidate{litres: n, price: price, score: score})
	}

	if len(candidates) == 0 {
		return 0, 0, false
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	best := candidates[0]
	return best.litres, best.price, true
}

// estimateConfidence scores the parse by how many of the four primary target
// fields were matched.
func estimateConfidence(r *Result) int {
	matched := 0
	if r.MerchantName != "" {
		matched++
	}
	if r.TotalAmount != nil {
		matched++
	}
	if r.Date != "" {
		matched++
	}
	if r.InvoiceNumber != "" {
		matched++
	}
	return 10 + matched*20
}

func parseAmount(raw string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
}

func nonEmptyLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return lines
}
