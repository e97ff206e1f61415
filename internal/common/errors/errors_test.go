package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStandardError_IsMatchesOnCode(t *testing.T) {
	err := NewRateLimitedError("groq", "429 Too Many Requests")
	wrapped := fmt.Errorf("invoke: %w", err)

	assert.True(t, stderrors.Is(wrapped, ErrRateLimited))
	assert.False(t, stderrors.Is(wrapped, ErrProviderError))
	assert.False(t, stderrors.Is(wrapped, ErrKeysExhausted))
}

func TestStandardError_UnwrapExposesCause(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := NewProviderError("gemini", 0, "transport failure", cause)

	assert.True(t, stderrors.Is(err, cause))
	assert.Contains(t, err.Error(), "PROVIDER_ERROR")
}

func TestNormalize(t *testing.T) {
	t.Run("passes StandardError through", func(t *testing.T) {
		original := NewParseError("intent", stderrors.New("unexpected token"))
		assert.Same(t, original, Normalize(fmt.Errorf("wrap: %w", original)))
	})

	t.Run("wraps foreign errors as internal", func(t *testing.T) {
		got := Normalize(stderrors.New("boom"))
		assert.Equal(t, ErrCodeInternal, got.Code)
		assert.Equal(t, "boom", got.Details)
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, Normalize(nil))
	})
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", NewRateLimitedError("groq", ""), true},
		{"provider error", NewProviderError("groq", 500, "oops", nil), true},
		{"keys exhausted", NewKeysExhaustedError("groq"), false},
		{"malformed", NewMalformedResponseError("groq", "no choices"), false},
		{"parse", NewParseError("rank", nil), false},
		{"foreign", stderrors.New("x"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestGetErrorCategory(t *testing.T) {
	assert.Equal(t, "VALIDATION", GetErrorCategory(ErrCodeInvalidRequest))
	assert.Equal(t, "CREDENTIALS", GetErrorCategory(ErrCodeKeysExhausted))
	assert.Equal(t, "PROVIDER", GetErrorCategory(ErrCodeRateLimited))
	assert.Equal(t, "PROVIDER", GetErrorCategory(ErrCodeProviderError))
	assert.Equal(t, "MODEL_OUTPUT", GetErrorCategory(ErrCodeParseError))
	assert.Equal(t, "MODEL_OUTPUT", GetErrorCategory(ErrCodeMalformedResponse))
	assert.Equal(t, "COLLABORATOR", GetErrorCategory(ErrCodeProductRequestFailed))
	assert.Equal(t, "OTHER", GetErrorCategory(ErrCodeInternal))
}
