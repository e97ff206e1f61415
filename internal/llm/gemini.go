package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// geminiAdapter speaks the generateContent envelope. The key travels as a query parameter.
type geminiAdapter struct {
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content *struct {
			Parts []struct {
				Text *string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

type geminiErrorEnvelope struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (a *geminiAdapter) Kind() string { return KindGemini }

func (a *geminiAdapter) NewRequest(ctx context.Context, apiKey, prompt string) (*http.Request, error) {
	body := geminiRequest{Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}}}
	body.GenerationConfig.Temperature = a.temperature
	body.GenerationConfig.MaxOutputTokens = a.maxTokens

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode gemini request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", a.baseURL, url.PathEscape(a.model), url.QueryEscape(apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (a *geminiAdapter) ExtractError(body []byte) *VendorError {
	var env geminiErrorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Error == nil {
		return nil
	}
	return &VendorError{
		Message:     env.Error.Message,
		Status:      env.Error.Status,
		RateLimited: env.Error.Status == "RESOURCE_EXHAUSTED" || env.Error.Code == http.StatusTooManyRequests,
	}
}

func (a *geminiAdapter) ExtractText(body []byte) (string, bool) {
	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", false
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", false
	}
	parts := resp.Candidates[0].Content.Parts
	if len(parts) == 0 || parts[0].Text == nil {
		return "", false
	}
	return *parts[0].Text, true
}
