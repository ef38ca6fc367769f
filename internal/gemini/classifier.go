package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gitlab.com/yelinaung/finsync/internal/category"
	"gitlab.com/yelinaung/finsync/internal/logger"
	"google.golang.org/genai"
)

// MaxDescriptionLength is the maximum merchant text length embedded in
// prompts.
const MaxDescriptionLength = 200

// batchTimeout bounds one batch classification call.
const batchTimeout = 30 * time.Second

// classifierItem is the wire shape of one classified transaction. The id is
// echoed back from the request so answers correlate by id, not position.
type classifierItem struct {
	ID          string `json:"id"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
	IsFixedCost bool   `json:"is_fixed_cost"`
	Confidence  string `json:"confidence"`
	Reasoning   string `json:"reasoning,omitempty"`
}

// ClassifyBatch classifies many transactions in one model call. Implements
// category.Classifier.
func (c *Client) ClassifyBatch(ctx context.Context, reqs []category.ClassifyRequest) ([]category.ClassifyResponse, error) {
	if c.generator == nil {
		return nil, fmt.Errorf("gemini client not initialized")
	}
	if len(reqs) == 0 {
		return nil, nil
	}

	prompt := buildClassifyPrompt(reqs)
	logger.Log.Debug().Int("batch_size", len(reqs)).Msg("ClassifyBatch: sending prompt to Gemini")

	timeoutCtx, cancel := context.WithTimeout(ctx, batchTimeout)
	defer cancel()

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: prompt},
			},
		},
	}

	temp := float32(0.2)
	config := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: int32(4096),
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{
				{Text: "You are a JSON API. You MUST respond with ONLY valid JSON, no preamble or explanation. Output a single JSON array."},
			},
		},
		ResponseMIMEType: "application/json",
		ResponseSchema: &genai.Schema{
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"id": {
						Type:        genai.TypeString,
						Description: "The id of the input transaction, echoed back unchanged",
					},
					"category": {
						Type:        genai.TypeString,
						Enum:        category.Categories(),
						Description: "The most appropriate category from the fixed list",
					},
					"subcategory": {
						Type:        genai.TypeString,
						Description: "A subcategory belonging to the chosen category",
					},
					"is_fixed_cost": {
						Type:        genai.TypeBoolean,
						Description: "True for recurring, monthly-predictable spends; false for one-off spends; false when ambiguous",
					},
					"confidence": {
						Type: genai.TypeString,
						Enum: []string{"high", "medium", "low"},
					},
					"reasoning": {
						Type:        genai.TypeString,
						Description: "Brief explanation for the categorization",
					},
				},
				Required: []string{"id", "category", "subcategory", "is_fixed_cost", "confidence"},
			},
		},
	}

	resp, err := c.generator.GenerateContent(timeoutCtx, ModelName, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini API call failed: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("no response from Gemini")
	}

	fullText := resp.Text()
	if fullText == "" {
		return nil, fmt.Errorf("no text content in response")
	}

	jsonText := extractJSONArray(fullText)
	if jsonText == "" {
		return nil, fmt.Errorf("no JSON array found in response")
	}

	var items []classifierItem
	if err := json.Unmarshal([]byte(jsonText), &items); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w", err)
	}

	results := make([]category.ClassifyResponse, 0, len(items))
	for _, item := range items {
		results = append(results, category.ClassifyResponse{
			ID:          item.ID,
			Category:    item.Category,
			Subcategory: item.Subcategory,
			IsFixedCost: item.IsFixedCost,
			Confidence:  item.Confidence,
			Reasoning:   sanitizeReasoning(item.Reasoning),
		})
	}

	logger.Log.Debug().
		Int("batch_size", len(reqs)).
		Int("answers", len(results)).
		Msg("ClassifyBatch: parsed Gemini response")

	return results, nil
}

// buildClassifyPrompt renders the taxonomy and the batch of transactions.
func buildClassifyPrompt(reqs []category.ClassifyRequest) string {
	var sb strings.Builder

	sb.WriteString("Categorize each financial transaction below.\n\nCategories and their subcategories:\n")
	for _, def := range category.Taxonomy {
		sb.WriteString("- ")
		sb.WriteString(def.Name)
		sb.WriteString(": ")
		subs := make([]string, 0, len(def.Subcategories))
		for _, s := range def.Subcategories {
			subs = append(subs, s.Name)
		}
		sb.WriteString(strings.Join(subs, ", "))
		sb.WriteString("\n")
	}

	sb.WriteString(`
Rules:
- Choose exactly one category and one of its subcategories per transaction
- "debt" covers credit card bills, loan installments and interest
- "transfer" covers money moved between people or own accounts, not purchases
- is_fixed_cost is true for recurring monthly-predictable spends (rent,
  subscriptions, tuition), false for one-off spends; default to false when ambiguous
- Echo each transaction's id back unchanged

Transactions:
`)

	for _, req := range reqs {
		line := map[string]string{
			"id":          req.ID,
			"description": SanitizeForPrompt(req.Description, MaxDescriptionLength),
		}
		if req.Amount != "" {
			line["amount"] = req.Amount
		}
		if req.ProviderCategory != "" {
			line["providerCategory"] = SanitizeForPrompt(req.ProviderCategory, 80)
		}
		if req.CounterpartyName != "" {
			line["counterpartyName"] = SanitizeForPrompt(req.CounterpartyName, 80)
		}
		encoded, err := json.Marshal(line)
		if err != nil {
			continue
		}
		sb.Write(encoded)
		sb.WriteString("\n")
	}

	sb.WriteString("\nReturn a JSON array with one object per transaction: ")
	sb.WriteString(`[{"id": "...", "category": "...", "subcategory": "...", "is_fixed_cost": false, "confidence": "high|medium|low", "reasoning": "..."}]`)

	return sb.String()
}

// extractJSONArray extracts a JSON array from text that may contain
// preamble. Gemini sometimes returns responses like "Here is the JSON:\n[...]"
// even when ResponseMIMEType is set to application/json.
func extractJSONArray(text string) string {
	text = strings.TrimSpace(text)

	start := strings.Index(text, "[")
	if start == -1 {
		return ""
	}

	end := strings.LastIndex(text, "]")
	if end == -1 || end <= start {
		return ""
	}

	return text[start : end+1]
}

// SanitizeForPrompt sanitizes user input to prevent prompt injection attacks.
// It removes or escapes characters that could break prompt structure,
// and truncates to the given maxLength.
func SanitizeForPrompt(input string, maxLength int) string {
	input = strings.ReplaceAll(input, `"`, `'`)
	input = strings.ReplaceAll(input, "`", "'")
	input = strings.ReplaceAll(input, "\x00", "")

	// Normalize whitespace: splits on any whitespace and rejoins with single
	// spaces, handling newline injection in one pass.
	input = strings.Join(strings.Fields(input), " ")

	if len(input) > maxLength {
		input = strings.TrimSpace(input[:maxLength])
	}

	return input
}

// sanitizeReasoning sanitizes the reasoning field from the LLM response
// before it is persisted or displayed.
func sanitizeReasoning(reasoning string) string {
	reasoning = strings.Join(strings.Fields(reasoning), " ")

	const maxReasoningLength = 500
	if len(reasoning) > maxReasoningLength {
		reasoning = strings.TrimSpace(reasoning[:maxReasoningLength])
	}

	return reasoning
}
