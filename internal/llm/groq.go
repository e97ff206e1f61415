package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// groqAdapter speaks the OpenAI-compatible chat/completions envelope.
type groqAdapter struct {
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
}

type groqMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type groqRequest struct {
	Model       string        `json:"model"`
	Messages    []groqMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type groqResponse struct {
	Choices []struct {
		Message *struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type groqErrorEnvelope struct {
	Error *struct {
		Message string      `json:"message"`
		Type    string      `json:"type"`
		Code    interface{} `json:"code"`
	} `json:"error"`
}

func (a *groqAdapter) Kind() string { return KindGroq }

func (a *groqAdapter) NewRequest(ctx context.Context, apiKey, prompt string) (*http.Request, error) {
	payload, err := json.Marshal(groqRequest{
		Model:       a.model,
		Messages:    []groqMessage{{Role: "user", Content: prompt}},
		Temperature: a.temperature,
		MaxTokens:   a.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode groq request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (a *groqAdapter) ExtractError(body []byte) *VendorError {
	var env groqErrorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Error == nil {
		return nil
	}
	code := fmt.Sprint(env.Error.Code)
	return &VendorError{
		Message:     env.Error.Message,
		Status:      env.Error.Type,
		RateLimited: code == "rate_limit_exceeded" || strings.Contains(env.Error.Type, "rate_limit"),
	}
}

func (a *groqAdapter) ExtractText(body []byte) (string, bool) {
	var resp groqResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", false
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil || resp.Choices[0].Message.Content == nil {
		return "", false
	}
	return *resp.Choices[0].Message.Content, true
}
