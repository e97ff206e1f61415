package llm

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"storefront-assistant/internal/common/config"
	apperrors "storefront-assistant/internal/common/errors"
	commonhttp "storefront-assistant/internal/common/http"
	"storefront-assistant/internal/common/logger"
	"storefront-assistant/internal/common/metrics"
	"storefront-assistant/internal/keys"
)

const (
	DefaultMaxAttempts = 3
	DefaultCallTimeout = 20 * time.Second
)

// KeySource is the part of the key registry a provider client needs.
type KeySource interface {
	SelectActiveKey(providerID string) (keys.APIKeyRecord, error)
	RecordSuccess(providerID, key string)
	RecordFailure(providerID, key string)
	RecordRateLimited(providerID, key string)
}

// Client is the ProviderClient for one vendor. Call makes up to maxAttempts
// HTTP requests, re-selecting a key before each one.
type Client struct {
	id          string
	adapter     Adapter
	keys        KeySource
	http        commonhttp.Doer
	limiter     *rate.Limiter
	maxAttempts int
	callTimeout time.Duration
	newBackOff  func() backoff.BackOff
	logger      logger.Logger
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the transport.
func WithHTTPClient(d commonhttp.Doer) ClientOption {
	return func(c *Client) {
		if d != nil {
			c.http = d
		}
	}
}

// WithBackOff replaces the wait policy between attempts.
func WithBackOff(factory func() backoff.BackOff) ClientOption {
	return func(c *Client) {
		if factory != nil {
			c.newBackOff = factory
		}
	}
}

// WithRateLimit throttles outgoing calls to requestsPerMinute. Zero disables it.
func WithRateLimit(requestsPerMinute int) ClientOption {
	return func(c *Client) {
		if requestsPerMinute <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), requestsPerMinute)
	}
}

func defaultBackOff() backoff.BackOff {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 300 * time.Millisecond
	expo.MaxInterval = 3 * time.Second
	expo.Multiplier = 2
	expo.MaxElapsedTime = 0
	return expo
}

// NewClient builds the provider client described by cfg.
func NewClient(cfg config.ProviderConfig, ks KeySource, log logger.Logger, opts ...ClientOption) (*Client, error) {
	adapter, err := NewAdapter(cfg)
	if err != nil {
		return nil, err
	}

	c := &Client{
		id:          cfg.ID,
		adapter:     adapter,
		keys:        ks,
		maxAttempts: cfg.MaxAttempts,
		callTimeout: config.GetDuration(cfg.Timeout),
		newBackOff:  defaultBackOff,
		logger: log.With(map[string]interface{}{
			"component": "llm-client",
			"provider":  cfg.ID,
			"kind":      cfg.Kind,
		}),
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = DefaultMaxAttempts
	}
	if c.callTimeout <= 0 {
		c.callTimeout = DefaultCallTimeout
	}
	c.http = commonhttp.NewClient(c.callTimeout)
	WithRateLimit(cfg.RequestsPerMinute)(c)

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) ID() string { return c.id }

func (c *Client) CallTimeout() time.Duration { return c.callTimeout }

// Call sends prompt and returns the model's raw text.
func (c *Client) Call(ctx context.Context, prompt string) (string, error) {
	ctx, span := otel.Tracer("storefront-assistant/llm").Start(ctx, "llm.call")
	span.SetAttributes(attribute.String("llm.provider", c.id))
	defer span.End()

	attempt := 0
	op := func() (string, error) {
		attempt++
		text, err := c.attempt(ctx, prompt, attempt)
		if err != nil && (ctx.Err() != nil || !apperrors.IsRetryable(err)) {
			return "", backoff.Permanent(err)
		}
		return text, err
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(c.maxAttempts-1)), ctx)
	text, err := backoff.RetryWithData[string](op, bo)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			err = apperrors.NewProviderError(c.id, 0, "call cancelled or timed out", ctxErr)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperrors.CodeOf(err)))
		c.logger.Warn("provider call failed", map[string]interface{}{
			"attempts": attempt,
			"code":     string(apperrors.CodeOf(err)),
			"error":    err,
		})
		return "", err
	}
	span.SetAttributes(attribute.Int("llm.attempts", attempt))
	return text, nil
}

// attempt performs exactly one HTTP call. Local failures are returned as
// backoff.Permanent; vendor outcomes are classified by Call.
func (c *Client) attempt(ctx context.Context, prompt string, n int) (string, error) {
	rec, err := c.keys.SelectActiveKey(c.id)
	if err != nil {
		metrics.LLMRequests.WithLabelValues(c.id, "no_key").Inc()
		return "", err
	}
	log := c.logger.With(map[string]interface{}{"key": keys.MaskKey(rec.Key), "attempt": n})

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", backoff.Permanent(apperrors.NewProviderError(c.id, 0, "rate limiter wait aborted", err))
		}
	}

	req, err := c.adapter.NewRequest(ctx, rec.Key, prompt)
	if err != nil {
		return "", backoff.Permanent(apperrors.NewProviderError(c.id, 0, "could not build request", err))
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.LLMRequestDuration.WithLabelValues(c.id).Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		c.keys.RecordFailure(c.id, rec.Key)
		metrics.LLMRequests.WithLabelValues(c.id, "error").Inc()
		log.Warn("provider transport error", map[string]interface{}{"error": err})
		return "", apperrors.NewProviderError(c.id, 0, "transport error", err)
	}

	body, err := commonhttp.ReadBody(resp)
	if err != nil {
		c.keys.RecordFailure(c.id, rec.Key)
		metrics.LLMRequests.WithLabelValues(c.id, "error").Inc()
		return "", apperrors.NewProviderError(c.id, resp.StatusCode, "unreadable body", err)
	}

	vendorErr := c.adapter.ExtractError(body)

	if resp.StatusCode == http.StatusTooManyRequests || (vendorErr != nil && vendorErr.RateLimited) {
		c.keys.RecordRateLimited(c.id, rec.Key)
		metrics.LLMRequests.WithLabelValues(c.id, "rate_limited").Inc()
		log.Warn("provider rate limited", map[string]interface{}{"status": resp.StatusCode})
		details := http.StatusText(http.StatusTooManyRequests)
		if vendorErr != nil && vendorErr.Message != "" {
			details = vendorErr.Message
		}
		return "", apperrors.NewRateLimitedError(c.id, details)
	}

	if !commonhttp.IsSuccess(resp.StatusCode) || vendorErr != nil {
		c.keys.RecordFailure(c.id, rec.Key)
		metrics.LLMRequests.WithLabelValues(c.id, "error").Inc()
		message := http.StatusText(resp.StatusCode)
		if vendorErr != nil && vendorErr.Message != "" {
			message = vendorErr.Message
		}
		log.Warn("provider returned error", map[string]interface{}{
			"status":  resp.StatusCode,
			"message": message,
		})
		return "", apperrors.NewProviderError(c.id, resp.StatusCode, message, nil)
	}

	c.keys.RecordSuccess(c.id, rec.Key)

	text, ok := c.adapter.ExtractText(body)
	if !ok {
		metrics.LLMRequests.WithLabelValues(c.id, "malformed").Inc()
		log.Error("provider response missing text", map[string]interface{}{"status": resp.StatusCode})
		return "", apperrors.NewMalformedResponseError(c.id, "expected text field is absent")
	}

	metrics.LLMRequests.WithLabelValues(c.id, "success").Inc()
	log.Debug("provider call succeeded", map[string]interface{}{
		"durationMs": time.Since(start).Milliseconds(),
	})
	return text, nil
}
