// internal/models/recommendation.go
package models

// ChatMessage is one prior conversation turn.
type ChatMessage struct {
	Role    string `json:"role"` // "user" | "assistant"
	Content string `json:"content"`
}

// RequestContext narrows a recommendation request.
type RequestContext struct {
	CategoryID        string   `json:"categoryId,omitempty"`
	Budget            *float64 `json:"budget,omitempty"`
	ExcludeProductIDs []string `json:"excludeProductIds,omitempty"`
	UserContact       string   `json:"userContact,omitempty"`
}

// RecommendationRequest is the inbound contract from the chat UI.
type RecommendationRequest struct {
	Query      string          `json:"query"`
	Messages   []ChatMessage   `json:"messages,omitempty"`
	MaxResults int             `json:"maxResults,omitempty"`
	Context    *RequestContext `json:"context,omitempty"`
}

// Budget bounds a price range; nil means unbounded.
type Budget struct {
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
}

// ProductRequestData is the structured request a model extracts for an unstocked item.
type ProductRequestData struct {
	Name           string   `json:"name"`
	Category       string   `json:"category,omitempty"`
	MaxBudget      float64  `json:"maxBudget"`
	Specifications []string `json:"specifications,omitempty"`
}

// IntentAnalysis is the structured interpretation of a user query.
type IntentAnalysis struct {
	Category           *string             `json:"category"`
	Subcategory        *string             `json:"subcategory"`
	Requirements       []string            `json:"requirements"`
	Budget             Budget              `json:"budget"`
	Preferences        []string            `json:"preferences"`
	UseCase            string              `json:"useCase"`
	Confidence         float64             `json:"confidence"`
	ProductRequestData *ProductRequestData `json:"productRequestData"`
}

// ProductMatch is one ranked recommendation.
type ProductMatch struct {
	Product        Product  `json:"product"`
	MatchScore     float64  `json:"matchScore"`
	Highlights     []string `json:"highlights"`
	WhyRecommended string   `json:"whyRecommended"`
}

// RecommendationResult is returned to the caller and stored in the result cache.
type RecommendationResult struct {
	Success          bool            `json:"success"`
	Intent           *IntentAnalysis `json:"intent,omitempty"`
	Recommendations  []ProductMatch  `json:"recommendations"`
	Summary          string          `json:"summary"`
	Error            string          `json:"error,omitempty"`
	ProcessingTimeMs int64           `json:"processingTimeMs"`
	ProductRequestID string          `json:"productRequestId,omitempty"`
}
