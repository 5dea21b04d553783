package enhance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// DefaultModelName is the Gemini model used for receipt categorization.
const DefaultModelName = "gemini-2.0-flash"

// GeminiModel is the concrete Model backed by the Gemini API.
type GeminiModel struct {
	modelName string
}

// NewGeminiModel creates a Gemini-backed categorizer. An empty name selects
// the default model.
func NewGeminiModel(modelName string) *GeminiModel {
	if modelName == "" {
		modelName = DefaultModelName
	}
	return &GeminiModel{modelName: modelName}
}

// Categorize sends the receipt context (and image, when available) to Gemini
// and expects a STRICT JSON object back.
func (m *GeminiModel) Categorize(ctx context.Context, input Input) (*Enhancement, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("enhance: create genai client: %w", err)
	}

	parts := []*genai.Part{{Text: buildPrompt(input)}}
	if len(input.ImageBytes) > 0 {
		mime := input.ImageMIME
		if mime == "" {
			mime = "image/jpeg"
		}
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{
				MIMEType: mime,
				Data:     input.ImageBytes,
			},
		})
	}

	contents := []*genai.Content{{Role: "user", Parts: parts}}

	resp, err := client.Models.GenerateContent(ctx, m.modelName, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("enhance: generate content: %w", err)
	}

	rawText := resp.Text()
	if rawText == "" {
		return nil, fmt.Errorf("enhance: empty response from model")
	}

	var result Enhancement
	if err := json.Unmarshal([]byte(cleanModelJSON(rawText)), &result); err != nil {
		return nil, fmt.Errorf("enhance: unmarshal JSON: %w\nraw response: %s", err, rawText)
	}
	if result.Category == "" {
		return nil, fmt.Errorf("enhance: model response missing category")
	}
	if result.Confidence < 0 || result.Confidence > 100 {
		return nil, fmt.Errorf("enhance: model confidence %d out of range", result.Confidence)
	}
	return &result, nil
}

func buildPrompt(input Input) string {
	var b strings.Builder

	b.WriteString("You are a receipt categorizer for Kenyan expense receipts.\n\n")
	b.WriteString("Task:\n")
	b.WriteString("- Categorize the receipt described below.\n")
	b.WriteString("- Output STRICT JSON only (no comments, no extra text).\n")
	b.WriteString("- Output a single JSON object.\n\n")
	b.WriteString("The object must have these fields:\n")
	b.WriteString("- \"category\": string, one of \"fuel\", \"grocery\", \"restaurant\", \"retail\", \"service\", \"other\"\n")
	b.WriteString("- \"subcategory\": string or empty (e.g. fuel type)\n")
	b.WriteString("- \"tags\": array of short strings\n")
	b.WriteString("- \"insights\": array of short observations about the purchase\n")
	b.WriteString("- \"anomalies\": array of short strings, empty if nothing looks unusual\n")
	b.WriteString("- \"confidence\": integer 0-100\n\n")

	b.WriteString("Receipt context:\n")
	if input.MerchantName != "" {
		fmt.Fprintf(&b, "- merchant: %s\n", input.MerchantName)
	}
	if input.TotalAmount != nil {
		fmt.Fprintf(&b, "- total amount: %.2f KES\n", *input.TotalAmount)
	}
	if input.FuelType != "" {
		fmt.Fprintf(&b, "- fuel type: %s\n", input.FuelType)
	}
	if input.Litres != nil {
		fmt.Fprintf(&b, "- litres: %.2f\n", *input.Litres)
	}

	if input.VerifiedMerchant != "" {
		b.WriteString("\nThe following fields are already verified with the tax authority;\n")
		b.WriteString("treat them as ground truth and only categorize:\n")
		fmt.Fprintf(&b, "- verified merchant: %s\n", input.VerifiedMerchant)
		if input.VerifiedTotal != nil {
			fmt.Fprintf(&b, "- verified total: %.2f KES\n", *input.VerifiedTotal)
		}
		if input.VerifiedDate != "" {
			fmt.Fprintf(&b, "- verified date: %s\n", input.VerifiedDate)
		}
	}

	if input.Text != "" {
		fmt.Fprintf(&b, "\nRaw receipt text:\n%s\n", input.Text)
	}

	b.WriteString("\nRules:\n")
	b.WriteString("- Return ONLY valid raw JSON.\n")
	b.WriteString("- Do NOT wrap the response in code fences.\n")
	b.WriteString("- Do NOT use ```json or any Markdown.\n")
	b.WriteString("- Output must begin with \"{\" and end with \"}\".\n")
	return b.String()
}

func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	// If there is still junk around the JSON object, keep only from the
	// first '{' to the last '}'.
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}

var _ Model = (*GeminiModel)(nil)
