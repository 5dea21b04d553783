package template

// FuelPriceRanges are plausible KES-per-litre bands for Kenyan pump prices.
var FuelPriceRanges = map[string]PriceRange{
	"PETROL":   {Min: 170, Max: 230},
	"DIESEL":   {Min: 160, Max: 220},
	"SUPER":    {Min: 180, Max: 240},
	"GAS":      {Min: 100, Max: 150},
	"KEROSENE": {Min: 140, Max: 180},
}

func codeKey(key string) Strategy { return Strategy{Kind: KindCodeKey, CodeKey: key} }
func verifierField(f string) Strategy { return Strategy{Kind: KindVerifierField, VerifierField: f} }
func ocrPattern(pattern string) Strategy {
	return Strategy{Kind: KindOCRPattern, OCRPattern: pattern}
}

func coreFields() []FieldExtractor {
	return []FieldExtractor{
		{
			Name: "merchantName",
			Strategies: []Strategy{
				codeKey("merchantName"),
				verifierField("merchantName"),
				ocrPattern(`(?m)\A\s*(.{4,49})$`),
			},
			Type:      TypeText,
			Transform: "trim",
		},
		{
			Name: "totalAmount",
			Strategies: []Strategy{
				codeKey("totalAmount"),
				verifierField("totalAmount"),
				ocrPattern(`(?i)TOTAL[:\s]*(?:KES|KSH|KSHS)?\s*([0-9,]+\.?[0-9]*)`),
				ocrPattern(`(?i)(?:SUM|AMOUNT)[:\s]*(?:KES|KSH|KSHS)?\s*([0-9,]+\.?[0-9]*)`),
				ocrPattern(`(?i)CASH[:\s]*([0-9,]+\.?[0-9]*)`),
			},
			Type:      TypeNumber,
			Transform: "strip_currency",
			Required:  true,
		},
		{
			Name: "invoiceDate",
			Strategies: []Strategy{
				codeKey("timestamp"),
				verifierField("invoiceDate"),
				ocrPattern(`(\d{1,2}[/-]\d{1,2}[/-]\d{2,4})`),
			},
			Type: TypeDate,
		},
		{
			Name: "invoiceNumber",
			Strategies: []Strategy{
				codeKey("invoiceNumber"),
				verifierField("invoiceNumber"),
				ocrPattern(`(?i)(?:Invoice|INV|Receipt)\s*(?:No|Nr|Number|#)?[.:#\s]+([A-Z0-9-]{4,})`),
			},
			Type: TypeText,
		},
	}
}

func fuelFields() []FieldExtractor {
	return append(coreFields(),
		FieldExtractor{
			Name: "litres",
			Strategies: []Strategy{
				ocrPattern(`(?i)([0-9]+\.?[0-9]*)\s*L(?:itres?|trs?|TR)?\b`),
				ocrPattern(`(?i)(?:VOLUME|QTY|DISPENSED)[:\s]*([0-9]+\.?[0-9]*)`),
			},
			Type:        TypeNumber,
			RequiredFor: []string{"fuel"},
		},
		FieldExtractor{
			Name: "fuelType",
			Strategies: []Strategy{
				ocrPattern(`(?i)\b(DIESEL|AGO|PETROL|PMS|UNLEADED|SUPER|V-POWER|KEROSENE|DPK|LPG)\b`),
			},
			Type:      TypeText,
			Transform: "normalize_fuel",
		},
		FieldExtractor{
			Name: "pricePerLitre",
			Strategies: []Strategy{
				ocrPattern(`(?i)(?:@|PRICE|RATE)[:\s]*([0-9]+\.?[0-9]*)`),
			},
			Type: TypeNumber,
		},
		FieldExtractor{
			Name: "pumpNumber",
			Strategies: []Strategy{
				ocrPattern(`(?i)(?:PUMP|NOZZLE)\s*[:#]?\s*([0-9A-Z]+)`),
			},
			Type: TypeText,
		},
		FieldExtractor{
			Name: "vehicleNumber",
			Strategies: []Strategy{
				ocrPattern(`\b([A-Z]{3}\s?[0-9]{3}[A-Z]?)\b`),
			},
			Type:      TypeText,
			Transform: "uppercase",
		},
	)
}

// DefaultRegistry builds the stock catalog: chain templates for the common
// Kenyan fuel and grocery chains plus the generic fallbacks.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	fuel := func(id, name, chain string) *Template {
		return &Template{
			ID:          id,
			Name:        name,
			ChainName:   chain,
			Category:    "fuel",
			Version:     1,
			Fields:      fuelFields(),
			PriceRanges: FuelPriceRanges,
			CrossChecks: []string{"litres_price_total"},
		}
	}

	for _, t := range []*Template{
		fuel("total-fuel", "Total Energies fuel receipt", "Total"),
		fuel("shell-fuel", "Shell fuel receipt", "Shell"),
		{
			ID:        "carrefour-grocery",
			Name:      "Carrefour grocery receipt",
			ChainName: "Carrefour",
			Category:  "grocery",
			Version:   1,
			Fields:    coreFields(),
		},
		{
			ID:                  "generic-kra",
			Name:                "Generic verified receipt",
			Version:             1,
			Fields:              coreFields(),
			RequireVerification: true,
		},
		{
			ID:      "generic-ocr",
			Name:    "Generic receipt",
			Version: 1,
			Fields:  fuelFields(),
		},
	} {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
	return r
}
