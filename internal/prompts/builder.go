// Package prompts renders the assistant's model prompts and parses the replies.
package prompts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"storefront-assistant/internal/models"
)

const (
	// DefaultHistoryWindow is how many prior turns the intent prompt includes.
	DefaultHistoryWindow = 6
	// MaxDescriptionRunes truncates product descriptions inside the ranking prompt.
	MaxDescriptionRunes = 240
)

var funcs = template.FuncMap{
	"price": func(v float64) string { return fmt.Sprintf("%.2f", v) },
	"join":  strings.Join,
}

var intentTmpl = template.Must(template.New("intent").Funcs(funcs).Parse(`You are the shopping assistant of an online store. Analyse the customer's message and extract their intent.

Available categories (id: name):
{{- range .Categories}}
- {{.ID}}: {{.Name}}{{if .ParentID}} (subcategory of {{.ParentID}}){{end}}
{{- else}}
- (no categories)
{{- end}}
{{if .History}}
Recent conversation:
{{- range .History}}
{{.Role}}: {{.Content}}
{{- end}}
{{end}}
Customer message: {{.Query}}

Reply with ONE JSON object and nothing else, using exactly these fields:
{
  "category": string id from the list above or null,
  "subcategory": string id from the list above or null,
  "requirements": [string],
  "budget": {"min": number or null, "max": number or null},
  "preferences": [string],
  "useCase": string,
  "confidence": number between 0 and 1,
  "productRequestData": null or {"name": string, "category": string or null, "maxBudget": number, "specifications": [string]}
}
Use null when a value is unknown. If the customer asks for a specific named item that does not fit any category above, fill "productRequestData" with what they want; use maxBudget 0 when no budget was given.`))

var rankTmpl = template.Must(template.New("rank").Funcs(funcs).Parse(`You are the shopping assistant of an online store. Rank the candidate products for the customer and write a short recommendation.

Customer message: {{.Query}}
Extracted intent: {{.IntentJSON}}

Candidate products:
{{- range .Products}}
- id: {{.ID}} | name: {{.Name}} | price: {{price .Price}}{{if .Tags}} | tags: {{join .Tags ", "}}{{end}}
  {{.Description}}
{{- end}}

Reply with ONE JSON object and nothing else:
{
  "rankings": [{"productId": string id from the list, "matchScore": number 0-100, "highlights": [string], "whyRecommended": string}],
  "summary": string
}
Order rankings from best to worst match and only use ids from the list. The summary is a short friendly pitch addressed to the customer.
Reply in the same language the customer used.`))

var decisionTmpl = template.Must(template.New("decision").Funcs(funcs).Parse(`You are the shopping assistant of an online store. The catalog has no product matching the customer's message.

Customer message: {{.Query}}
Extracted intent: {{.IntentJSON}}

Decide between:
- "request": the customer clearly wants a specific item. A product request will be filed for the staff. This needs at least a product name; a budget of 0 means unknown and is acceptable.
- "clarify": the message is too vague to file a request. Ask one short clarifying question.

Reply with ONE JSON object and nothing else:
{"action": "request" or "clarify", "response": string shown to the customer, "requestData": {"name": string, "category": string or null, "maxBudget": number, "specifications": [string]} or null}
Reply in the same language the customer used.`))

// IntentInput feeds the intent extraction prompt.
type IntentInput struct {
	Query         string
	History       []models.ChatMessage
	Categories    []models.Category
	HistoryWindow int
}

// RankInput feeds the combined rank and summarize prompt.
type RankInput struct {
	Query    string
	Intent   *models.IntentAnalysis
	Products []models.Product
}

// DecisionInput feeds the missing product decision prompt.
type DecisionInput struct {
	Query  string
	Intent *models.IntentAnalysis
}

// BuildIntentPrompt renders the intent extraction prompt. Only the most recent
// HistoryWindow turns are included.
func BuildIntentPrompt(in IntentInput) (string, error) {
	window := in.HistoryWindow
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	history := in.History
	if len(history) > window {
		history = history[len(history)-window:]
	}

	return render(intentTmpl, struct {
		Query      string
		History    []models.ChatMessage
		Categories []models.Category
	}{
		Query:      strings.TrimSpace(in.Query),
		History:    history,
		Categories: in.Categories,
	})
}

// BuildRankPrompt renders the rank and summarize prompt over in.Products as given.
func BuildRankPrompt(in RankInput) (string, error) {
	products := make([]models.Product, len(in.Products))
	for i, p := range in.Products {
		products[i] = models.Product{
			ID:          p.ID,
			Name:        p.Name,
			Price:       p.Price,
			Tags:        p.Tags,
			Description: truncate(oneLine(p.Description), MaxDescriptionRunes),
		}
	}

	return render(rankTmpl, struct {
		Query      string
		IntentJSON string
		Products   []models.Product
	}{
		Query:      strings.TrimSpace(in.Query),
		IntentJSON: intentJSON(in.Intent),
		Products:   products,
	})
}

// BuildDecisionPrompt renders the missing product decision prompt.
func BuildDecisionPrompt(in DecisionInput) (string, error) {
	return render(decisionTmpl, struct {
		Query      string
		IntentJSON string
	}{
		Query:      strings.TrimSpace(in.Query),
		IntentJSON: intentJSON(in.Intent),
	})
}

func render(t *template.Template, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", t.Name(), err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func intentJSON(intent *models.IntentAnalysis) string {
	if intent == nil {
		return "null"
	}
	b, err := json.Marshal(intent)
	if err != nil {
		return "null"
	}
	return string(b)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
