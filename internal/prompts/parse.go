package prompts

import (
	"encoding/json"
	"strings"

	apperrors "storefront-assistant/internal/common/errors"
	"storefront-assistant/internal/common/validation"
	"storefront-assistant/internal/models"
)

const (
	ActionRequest = "request"
	ActionClarify = "clarify"
)

// Ranking is one entry of the model's rank reply.
type Ranking struct {
	ProductID      string   `json:"productId"`
	MatchScore     float64  `json:"matchScore"`
	Highlights     []string `json:"highlights"`
	WhyRecommended string   `json:"whyRecommended"`
}

// RankResponse is the combined rank and summarize reply.
type RankResponse struct {
	Rankings []Ranking `json:"rankings"`
	Summary  string    `json:"summary"`
}

// Decision is the missing product decision reply.
type Decision struct {
	Action      string                     `json:"action"`
	Response    string                     `json:"response"`
	RequestData *models.ProductRequestData `json:"requestData"`
}

const requestDataSchema = `{
  "type": ["object", "null"],
  "properties": {
    "name": {"type": ["string", "null"]},
    "category": {"type": ["string", "null"]},
    "maxBudget": {"type": ["number", "null"]},
    "specifications": {"type": ["array", "null"], "items": {"type": "string"}}
  }
}`

var intentSchema = validation.MustCompile("intent", `{
  "type": "object",
  "required": ["requirements", "budget", "confidence"],
  "properties": {
    "category": {"type": ["string", "null"]},
    "subcategory": {"type": ["string", "null"]},
    "requirements": {"type": "array", "items": {"type": "string"}},
    "budget": {
      "type": "object",
      "properties": {
        "min": {"type": ["number", "null"]},
        "max": {"type": ["number", "null"]}
      }
    },
    "preferences": {"type": ["array", "null"], "items": {"type": "string"}},
    "useCase": {"type": ["string", "null"]},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "productRequestData": `+requestDataSchema+`
  }
}`)

var rankSchema = validation.MustCompile("rank", `{
  "type": "object",
  "required": ["rankings", "summary"],
  "properties": {
    "rankings": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["productId", "matchScore"],
        "properties": {
          "productId": {"type": "string"},
          "matchScore": {"type": "number"},
          "highlights": {"type": ["array", "null"], "items": {"type": "string"}},
          "whyRecommended": {"type": ["string", "null"]}
        }
      }
    },
    "summary": {"type": "string"}
  }
}`)

var decisionSchema = validation.MustCompile("decision", `{
  "type": "object",
  "required": ["action", "response"],
  "properties": {
    "action": {"type": "string", "enum": ["request", "clarify"]},
    "response": {"type": "string"},
    "requestData": `+requestDataSchema+`
  }
}`)

// StripCodeFence removes a Markdown code fence wrapping text, with or without
// a language tag. Text that is already valid JSON, or whose first fence sits
// after the JSON has opened, is returned trimmed.
func StripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if json.Valid([]byte(s)) {
		return s
	}
	start := strings.Index(s, "```")
	if start == -1 || strings.ContainsAny(s[:start], "{[") {
		return s
	}

	body := s[start+3:]
	if nl := strings.IndexByte(body, '\n'); nl != -1 && !strings.ContainsAny(body[:nl], "{[") {
		body = body[nl+1:]
	} else {
		body = strings.TrimPrefix(body, "json")
	}
	if end := strings.LastIndex(body, "```"); end != -1 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// ParseIntent decodes the intent extraction reply.
func ParseIntent(text string) (*models.IntentAnalysis, error) {
	var intent models.IntentAnalysis
	if err := decode("intent", intentSchema, text, &intent); err != nil {
		return nil, err
	}
	if intent.Requirements == nil {
		intent.Requirements = []string{}
	}
	if intent.Preferences == nil {
		intent.Preferences = []string{}
	}
	if intent.ProductRequestData != nil && strings.TrimSpace(intent.ProductRequestData.Name) == "" {
		intent.ProductRequestData = nil
	}
	return &intent, nil
}

// ParseRanking decodes the combined rank and summarize reply.
func ParseRanking(text string) (*RankResponse, error) {
	var resp RankResponse
	if err := decode("rank", rankSchema, text, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ParseDecision decodes the missing product decision reply.
func ParseDecision(text string) (*Decision, error) {
	var d Decision
	if err := decode("decision", decisionSchema, text, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func decode(stage string, schema *validation.Schema, text string, out interface{}) error {
	doc := []byte(StripCodeFence(text))
	var probe interface{}
	if err := json.Unmarshal(doc, &probe); err != nil {
		return apperrors.NewParseError(stage, err)
	}

	res, err := schema.ValidateJSON(doc)
	if err != nil {
		return apperrors.NewParseError(stage, err)
	}
	if err := res.Err(); err != nil {
		return apperrors.NewParseError(stage, err)
	}

	if err := json.Unmarshal(doc, out); err != nil {
		return apperrors.NewParseError(stage, err)
	}
	return nil
}
