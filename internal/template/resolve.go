package template

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Named transforms applied to a raw extracted string before type conversion.
// Templates reference these by name so rules stay serializable data.
var transforms = map[string]func(string) string{
	"trim":           strings.TrimSpace,
	"uppercase":      strings.ToUpper,
	"strip_currency": stripCurrency,
	"normalize_fuel": NormalizeFuelType,
}

func stripCurrency(s string) string {
	s = strings.NewReplacer("KES", "", "KSH", "", "Ksh", "", "kes", "", ",", "").Replace(s)
	return strings.TrimSpace(s)
}

// NormalizeFuelType maps Kenyan pump product codes to canonical fuel names.
func NormalizeFuelType(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PMS", "PETROL", "UNLEADED":
		return "PETROL"
	case "AGO", "DIESEL":
		return "DIESEL"
	case "DPK", "KEROSENE":
		return "KEROSENE"
	case "SUPER", "V-POWER":
		return "SUPER"
	case "LPG", "GAS":
		return "GAS"
	}
	return strings.ToUpper(strings.TrimSpace(s))
}

// Resolve extracts every template field from the bundle. Each field's
// strategies run in declared order and the first hit wins, so code data beats
// verifier data beats OCR whenever a template lists them that way. Unresolved
// fields are simply absent.
func Resolve(t *Template, bundle SignalBundle) map[string]FieldValue {
	values := make(map[string]FieldValue)
	for _, field := range t.Fields {
		if v, ok := resolveField(field, bundle); ok {
			values[field.Name] = v
		}
	}
	return values
}

func resolveField(field FieldExtractor, bundle SignalBundle) (FieldValue, bool) {
	for _, strat := range field.Strategies {
		raw, ok := applyStrategy(strat, bundle)
		if !ok {
			continue
		}
		return makeValue(field, raw, strat.Kind), true
	}
	return FieldValue{}, false
}

func applyStrategy(strat Strategy, bundle SignalBundle) (string, bool) {
	switch strat.Kind {
	case KindCodeKey:
		v, ok := bundle.CodeFields[strat.CodeKey]
		return v, ok && v != ""
	case KindVerifierField:
		v, ok := bundle.VerifierFields[strat.VerifierField]
		return v, ok && v != ""
	case KindOCRPattern:
		if bundle.OCRText == "" {
			return "", false
		}
		re, err := regexp.Compile(strat.OCRPattern)
		if err != nil {
			return "", false
		}
		m := re.FindStringSubmatch(bundle.OCRText)
		if m == nil || len(m) < 2 || m[1] == "" {
			return "", false
		}
		return m[1], true
	}
	return "", false
}

func makeValue(field FieldExtractor, raw string, source StrategyKind) FieldValue {
	v := FieldValue{Raw: raw, Source: source}

	text := raw
	if field.Transform != "" {
		if fn, ok := transforms[field.Transform]; ok {
			text = fn(text)
		}
	}
	v.Text = strings.TrimSpace(text)

	if field.Type == TypeNumber {
		if n, err := strconv.ParseFloat(stripCurrency(v.Text), 64); err == nil {
			v.Number = &n
		}
	}
	return v
}

// ValidationResult separates hard errors from advisory warnings.
// MissingRequired names the required fields that never resolved; their
// messages also appear in Errors.
type ValidationResult struct {
	Errors          []string
	Warnings        []string
	MissingRequired []string
}

const crossCheckTolerance = 0.05

// Validate checks resolved values against the template's rules: required
// fields for the receipt's category, per-fuel price plausibility bands, the
// verification requirement, and any declared cross-field checks.
func Validate(t *Template, values map[string]FieldValue, category string, verified bool) ValidationResult {
	var res ValidationResult

	for _, field := range t.Fields {
		if _, ok := values[field.Name]; !ok && field.requiredFor(category) {
			res.MissingRequired = append(res.MissingRequired, field.Name)
			res.Errors = append(res.Errors, fmt.Sprintf("required field %s could not be extracted", field.Name))
		}
	}

	if t.RequireVerification && !verified {
		res.Warnings = append(res.Warnings, "receipt could not be verified with the tax authority")
	}

	if len(t.PriceRanges) > 0 {
		checkPriceRange(t, values, &res)
	}

	for _, check := range t.CrossChecks {
		switch check {
		case "litres_price_total":
			checkLitresPriceTotal(values, &res)
		}
	}
	return res
}

func checkPriceRange(t *Template, values map[string]FieldValue, res *ValidationResult) {
	fuel, ok := values["fuelType"]
	if !ok {
		return
	}
	price, ok := values["pricePerLitre"]
	if !ok || price.Number == nil {
		return
	}
	r, ok := t.PriceRanges[fuel.Text]
	if !ok {
		return
	}
	if *price.Number < r.Min || *price.Number > r.Max {
		res.Errors = append(res.Errors, fmt.Sprintf(
			"price per litre %.2f outside plausible %s range %.0f-%.0f",
			*price.Number, fuel.Text, r.Min, r.Max))
	}
}

func checkLitresPriceTotal(values map[string]FieldValue, res *ValidationResult) {
	litres, ok1 := values["litres"]
	price, ok2 := values["pricePerLitre"]
	total, ok3 := values["totalAmount"]
	if !ok1 || !ok2 || !ok3 || litres.Number == nil || price.Number == nil || total.Number == nil {
		return
	}
	expected := *litres.Number * *price.Number
	if *total.Number == 0 {
		return
	}
	if math.Abs(expected-*total.Number)/(*total.Number) > crossCheckTolerance {
		res.Errors = append(res.Errors, fmt.Sprintf(
			"litres x price %.2f does not match total %.2f", expected, *total.Number))
	}
}
