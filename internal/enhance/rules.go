package enhance

import (
	"fmt"
	"strings"
	"time"

	"github.com/mafutapass/receipts/internal/template"
)

// Amount anomaly thresholds in KES.
const (
	largeAmountThreshold = 10000.0
	smallAmountThreshold = 10.0
	bulkLitresThreshold  = 50.0
)

type categoryRule struct {
	category         string
	keywords         []string
	merchantPatterns []string
}

// Rule sets for the free categorization pass. Keywords score 1, merchant
// patterns score 2; a total of 2 assigns the category.
var categoryRules = []categoryRule{
	{
		category:         "fuel",
		keywords:         []string{"petrol", "diesel", "fuel", "litre", "ltr", "pump", "ago", "pms", "dpk", "unleaded", "kerosene", "forecourt"},
		merchantPatterns: []string{"shell", "total", "rubis", "ola energy", "engen", "petrocity", "hashi"},
	},
	{
		category:         "grocery",
		keywords:         []string{"supermarket", "grocery", "butchery", "bakery", "vegetables", "dairy", "mboga"},
		merchantPatterns: []string{"naivas", "carrefour", "quickmart", "chandarana", "cleanshelf", "magunas"},
	},
	{
		category:         "restaurant",
		keywords:         []string{"restaurant", "cafe", "coffee", "pizza", "chicken", "grill", "bar", "waiter", "table"},
		merchantPatterns: []string{"java house", "kfc", "artcaffe", "galitos", "big square"},
	},
	{
		category:         "retail",
		keywords:         []string{"boutique", "electronics", "hardware", "clothing", "footwear", "furniture"},
		merchantPatterns: []string{"game stores", "hotpoint", "textbook centre"},
	},
	{
		category:         "service",
		keywords:         []string{"service", "repair", "salon", "barber", "clinic", "car wash", "parking", "consultation"},
		merchantPatterns: []string{"kenya power", "nairobi water"},
	},
}

// categorizeByRules scores every category against the merchant name and raw
// text, then enriches the winner with insights and anomaly flags.
func categorizeByRules(input Input) *Enhancement {
	haystack := strings.ToLower(input.MerchantName + "\n" + input.Text)
	merchant := strings.ToLower(input.MerchantName)

	bestCategory := FallbackCategory
	bestScore := 0
	for _, rule := range categoryRules {
		score := 0
		for _, kw := range rule.keywords {
			if strings.Contains(haystack, kw) {
				score++
			}
		}
		for _, pat := range rule.merchantPatterns {
			if strings.Contains(merchant, pat) {
				score += 2
			}
		}
		if score > bestScore {
			bestScore = score
			bestCategory = rule.category
		}
	}

	result := &Enhancement{Category: FallbackCategory, Confidence: 50}
	if bestScore >= 2 {
		result.Category = bestCategory
		result.Confidence = 50 + 10*bestScore
		if result.Confidence > 85 {
			result.Confidence = 85
		}
		result.Tags = append(result.Tags, bestCategory)
	}

	if result.Category == "fuel" {
		enrichFuel(input, result)
		if result.Confidence < 75 {
			result.Confidence = 75
		}
	}

	addAmountAnomalies(input, result)
	addTimingInsights(input, result)

	if input.VerifiedMerchant != "" {
		result.Tags = append(result.Tags, "verified")
	}
	return result
}

func enrichFuel(input Input, result *Enhancement) {
	if input.FuelType != "" {
		fuel := template.NormalizeFuelType(input.FuelType)
		result.Subcategory = fuel
		result.Tags = append(result.Tags, strings.ToLower(fuel))

		if input.PricePerLitre != nil {
			if r, ok := template.FuelPriceRanges[fuel]; ok {
				switch {
				case *input.PricePerLitre > r.Max:
					result.Insights = append(result.Insights,
						fmt.Sprintf("price per litre %.2f above normal %s range", *input.PricePerLitre, fuel))
				case *input.PricePerLitre < r.Min:
					result.Insights = append(result.Insights,
						fmt.Sprintf("price per litre %.2f below normal %s range", *input.PricePerLitre, fuel))
				}
			}
		}
	}

	if input.Litres != nil && *input.Litres > bulkLitresThreshold {
		result.Insights = append(result.Insights, "bulk fuel purchase")
	}
}

func addAmountAnomalies(input Input, result *Enhancement) {
	if input.TotalAmount == nil {
		return
	}
	switch {
	case *input.TotalAmount > largeAmountThreshold:
		result.Anomalies = append(result.Anomalies, "unusually large transaction")
	case *input.TotalAmount < smallAmountThreshold:
		result.Anomalies = append(result.Anomalies, "unusually small transaction")
	}
}

func addTimingInsights(input Input, result *Enhancement) {
	if input.CaptureTime.IsZero() {
		return
	}
	switch input.CaptureTime.Weekday() {
	case time.Saturday, time.Sunday:
		result.Insights = append(result.Insights, "weekend purchase")
	}
}
