package llm

import (
	"context"
	"time"

	apperrors "storefront-assistant/internal/common/errors"
	"storefront-assistant/internal/common/logger"
	"storefront-assistant/internal/common/metrics"
)

// Provider is one vendor the router can call.
type Provider interface {
	ID() string
	CallTimeout() time.Duration
	Call(ctx context.Context, prompt string) (string, error)
}

// Invoker is what the recommendation pipeline depends on.
type Invoker interface {
	Invoke(ctx context.Context, prompt string) (string, error)
}

// CallRecorder observes the outcome of every provider call.
type CallRecorder interface {
	RecordProviderCall(ctx context.Context, provider, outcome string)
}

// Router tries providers in their fixed order. It keeps no state between calls.
type Router struct {
	providers []Provider
	recorder  CallRecorder
	logger    logger.Logger
}

func NewRouter(log logger.Logger, providers ...Provider) *Router {
	return &Router{
		providers: providers,
		logger:    log.With(map[string]interface{}{"component": "llm-router"}),
	}
}

// WithRecorder attaches rec and returns the router.
func (r *Router) WithRecorder(rec CallRecorder) *Router {
	r.recorder = rec
	return r
}

// Invoke returns the first provider's successful output. When every provider
// fails the last provider's error is returned unchanged.
func (r *Router) Invoke(ctx context.Context, prompt string) (string, error) {
	if len(r.providers) == 0 {
		return "", apperrors.NewKeysExhaustedError("none")
	}

	var lastErr error
	for i, p := range r.providers {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return "", lastErr
			}
			return "", apperrors.NewProviderError(p.ID(), 0, "request cancelled before provider call", err)
		}

		text, err := r.callWithTimeout(ctx, p, prompt)
		r.record(ctx, p.ID(), err)
		if err == nil {
			if i > 0 {
				r.logger.Info("fallback provider succeeded", map[string]interface{}{"provider": p.ID()})
			}
			return text, nil
		}

		lastErr = err
		if i < len(r.providers)-1 {
			metrics.LLMFallbacks.WithLabelValues(p.ID()).Inc()
			r.logger.Warn("provider failed, falling back", map[string]interface{}{
				"provider": p.ID(),
				"next":     r.providers[i+1].ID(),
				"code":     string(apperrors.CodeOf(err)),
			})
		}
	}

	r.logger.Error("all providers failed", map[string]interface{}{"error": lastErr})
	return "", lastErr
}

func (r *Router) record(ctx context.Context, provider string, err error) {
	if r.recorder == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = string(apperrors.CodeOf(err))
	}
	r.recorder.RecordProviderCall(ctx, provider, outcome)
}

func (r *Router) callWithTimeout(ctx context.Context, p Provider, prompt string) (string, error) {
	timeout := p.CallTimeout()
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Call(callCtx, prompt)
}

// Providers returns the provider ids in fallback order.
func (r *Router) Providers() []string {
	ids := make([]string, len(r.providers))
	for i, p := range r.providers {
		ids[i] = p.ID()
	}
	return ids
}
