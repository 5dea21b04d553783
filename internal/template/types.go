package template

// StrategyKind tags one entry in a field's ordered extraction list.
type StrategyKind int

const (
	// KindCodeKey looks the field up in the decoded code payload.
	KindCodeKey StrategyKind = iota
	// KindVerifierField looks the field up in the authority-verified payload.
	KindVerifierField
	// KindOCRPattern runs a regex with one capture group over the raw text.
	KindOCRPattern
)

func (k StrategyKind) String() string {
	switch k {
	case KindCodeKey:
		return "code"
	case KindVerifierField:
		return "verifier"
	case KindOCRPattern:
		return "ocr"
	}
	return "unknown"
}

// Strategy is one way to extract a field. Exactly one of the value fields is
// meaningful depending on Kind.
type Strategy struct {
	Kind          StrategyKind
	CodeKey       string
	VerifierField string
	OCRPattern    string
}

// DataType declares how a raw extracted string is converted.
type DataType string

const (
	TypeText   DataType = "text"
	TypeNumber DataType = "number"
	TypeDate   DataType = "date"
)

// FieldExtractor is the extraction rule for one receipt field. Strategies are
// tried in order; resolution order is data, not code.
type FieldExtractor struct {
	Name        string
	Strategies  []Strategy
	Type        DataType
	Transform   string
	Required    bool
	RequiredFor []string
}

// requiredFor reports whether the field is mandatory for the given category.
func (f FieldExtractor) requiredFor(category string) bool {
	if f.Required {
		return true
	}
	for _, c := range f.RequiredFor {
		if c == category {
			return true
		}
	}
	return false
}

// PriceRange is a plausibility band for a per-unit price.
type PriceRange struct {
	Min float64
	Max float64
}

// Template is a scoped set of extraction and validation rules. Scope is the
// most specific non-empty of StoreID, ChainName, Category; a template with
// none of the three is global.
type Template struct {
	ID                  string
	Name                string
	StoreID             string
	ChainName           string
	Category            string
	Version             int
	Fields              []FieldExtractor
	PriceRanges         map[string]PriceRange
	RequireVerification bool
	CrossChecks         []string

	// Usage metrics, maintained by the registry.
	UsageCount   int
	SuccessCount int
}

// SuccessRate is the fraction of uses that ended in a success status.
func (t *Template) SuccessRate() float64 {
	if t.UsageCount == 0 {
		return 0
	}
	return float64(t.SuccessCount) / float64(t.UsageCount)
}

// FieldValue is one resolved field with its provenance.
type FieldValue struct {
	Raw    string
	Text   string
	Number *float64
	Source StrategyKind
}

// SignalBundle is the per-receipt input to field resolution: flattened code
// and verifier payloads plus the raw OCR text.
type SignalBundle struct {
	CodeFields     map[string]string
	VerifierFields map[string]string
	OCRText        string
}
