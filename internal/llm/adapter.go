// Package llm talks to chat-completion vendors and falls back across them.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"storefront-assistant/internal/common/config"
)

const (
	KindGroq   = "groq"
	KindGemini = "gemini"
)

// VendorError is a vendor-declared error payload.
type VendorError struct {
	Message     string
	Status      string
	RateLimited bool
}

// Adapter maps the common call contract onto one vendor's envelope.
type Adapter interface {
	Kind() string
	// NewRequest builds the HTTP request for a single rendered prompt.
	NewRequest(ctx context.Context, apiKey, prompt string) (*http.Request, error)
	// ExtractError returns the vendor error envelope, or nil if body has none.
	ExtractError(body []byte) *VendorError
	// ExtractText returns the model output; false when the text field is absent.
	ExtractText(body []byte) (string, bool)
}

// NewAdapter returns the adapter for cfg.Kind.
func NewAdapter(cfg config.ProviderConfig) (Adapter, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	switch cfg.Kind {
	case KindGroq:
		return &groqAdapter{
			baseURL:     base,
			model:       cfg.Model,
			temperature: cfg.Temperature,
			maxTokens:   cfg.MaxTokens,
		}, nil
	case KindGemini:
		return &geminiAdapter{
			baseURL:     base,
			model:       cfg.Model,
			temperature: cfg.Temperature,
			maxTokens:   cfg.MaxTokens,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported provider kind %q", cfg.Kind)
	}
}
