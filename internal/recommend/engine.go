// Package recommend turns a shopper's free-text query into ranked products or a
// captured product request.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"storefront-assistant/internal/cache"
	"storefront-assistant/internal/catalog"
	apperrors "storefront-assistant/internal/common/errors"
	"storefront-assistant/internal/common/logger"
	"storefront-assistant/internal/common/metrics"
	"storefront-assistant/internal/llm"
	"storefront-assistant/internal/models"
	"storefront-assistant/internal/prompts"
)

const (
	DefaultMaxCandidates = 20
	DefaultMaxResults    = 5

	// CachePrefix starts every result cache key.
	CachePrefix = "recommend:"
)

// Outcome paths, used as metric labels.
const (
	PathCache   = "cache"
	PathRanked  = "ranked"
	PathRequest = "request"
	PathClarify = "clarify"
	PathError   = "error"
)

// Recorder receives one observation per pipeline run.
type Recorder interface {
	RecordRecommendation(ctx context.Context, path string, duration time.Duration)
}

// Options tune the pipeline. Zero values take the defaults.
type Options struct {
	MaxCandidates     int
	DefaultMaxResults int
	HistoryWindow     int
	ResultTTL         time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxCandidates <= 0 {
		o.MaxCandidates = DefaultMaxCandidates
	}
	if o.DefaultMaxResults <= 0 {
		o.DefaultMaxResults = DefaultMaxResults
	}
	if o.HistoryWindow <= 0 {
		o.HistoryWindow = prompts.DefaultHistoryWindow
	}
	if o.ResultTTL <= 0 {
		o.ResultTTL = cache.DefaultResultTTL
	}
	return o
}

// Engine runs the recommendation pipeline. It is safe for concurrent use.
type Engine struct {
	llm      llm.Invoker
	catalog  catalog.Catalog
	sink     catalog.ProductRequestSink
	results  cache.Store[models.RecommendationResult]
	opts     Options
	recorder Recorder
	tracer   trace.Tracer
	now      func() time.Time
	logger   logger.Logger
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

func WithRecorder(r Recorder) EngineOption {
	return func(e *Engine) { e.recorder = r }
}

func WithTracer(t trace.Tracer) EngineOption {
	return func(e *Engine) { e.tracer = t }
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func NewEngine(
	invoker llm.Invoker,
	cat catalog.Catalog,
	sink catalog.ProductRequestSink,
	results cache.Store[models.RecommendationResult],
	opts Options,
	log logger.Logger,
	extra ...EngineOption,
) *Engine {
	e := &Engine{
		llm:     invoker,
		catalog: cat,
		sink:    sink,
		results: results,
		opts:    opts.withDefaults(),
		tracer:  otel.Tracer("storefront-assistant/recommend"),
		now:     time.Now,
		logger:  log.With(map[string]interface{}{"component": "recommend"}),
	}
	for _, o := range extra {
		o(e)
	}
	return e
}

// CacheKey derives the result cache key from the trimmed, lowercased query.
// Request context and result limits are folded in so that narrowed requests
// do not share an answer with the plain query.
func CacheKey(req models.RecommendationRequest) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(strings.TrimSpace(req.Query)))
	if req.MaxResults > 0 {
		b.WriteString("|n=")
		b.WriteString(strconv.Itoa(req.MaxResults))
	}
	if c := req.Context; c != nil {
		if c.CategoryID != "" {
			b.WriteString("|c=")
			b.WriteString(c.CategoryID)
		}
		if c.Budget != nil {
			b.WriteString("|b=")
			b.WriteString(strconv.FormatFloat(*c.Budget, 'f', -1, 64))
		}
		if len(c.ExcludeProductIDs) > 0 {
			ids := append([]string(nil), c.ExcludeProductIDs...)
			sort.Strings(ids)
			b.WriteString("|x=")
			b.WriteString(strings.Join(ids, ","))
		}
	}
	return CachePrefix + strconv.FormatUint(xxhash.Sum64String(b.String()), 16)
}

// Recommend never returns an error: every failure becomes a result with
// Success false, an error message and empty recommendations.
func (e *Engine) Recommend(ctx context.Context, req models.RecommendationRequest) (result models.RecommendationResult) {
	start := e.now()
	metrics.RecommendationsActive.Inc()

	ctx, span := e.tracer.Start(ctx, "recommend")
	path := PathError

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("recommendation pipeline panicked", map[string]interface{}{"panic": fmt.Sprint(r)})
			result = failure(apperrors.NewInternalError(fmt.Sprint(r)))
			path = PathError
		}

		elapsed := e.now().Sub(start)
		result.ProcessingTimeMs = elapsed.Milliseconds()

		metrics.RecommendationsActive.Dec()
		metrics.Recommendations.WithLabelValues(path).Inc()
		metrics.RecommendationDuration.WithLabelValues(path).Observe(elapsed.Seconds())
		if e.recorder != nil {
			e.recorder.RecordRecommendation(ctx, path, elapsed)
		}

		span.SetAttributes(attribute.String("recommend.path", path))
		if !result.Success {
			span.SetStatus(codes.Error, result.Error)
		}
		span.End()
	}()

	res, p, err := e.run(ctx, req)
	if err != nil {
		e.logFailure(err)
		return failure(err)
	}
	path = p
	return res
}

func (e *Engine) run(ctx context.Context, req models.RecommendationRequest) (models.RecommendationResult, string, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return models.RecommendationResult{}, PathError, apperrors.NewInvalidRequestError("query must not be empty")
	}

	key := CacheKey(req)
	if cached, ok, err := e.results.Get(ctx, key); err != nil {
		e.logger.Warn("result cache read failed", map[string]interface{}{"error": err.Error()})
	} else if ok {
		return cached, PathCache, nil
	}

	categories, err := e.catalog.ListCategories(ctx)
	if err != nil {
		return models.RecommendationResult{}, PathError, err
	}

	intent, err := e.analyzeIntent(ctx, query, req.Messages, categories)
	if err != nil {
		return models.RecommendationResult{}, PathError, err
	}

	if intent.ProductRequestData != nil {
		return e.resolveMissing(ctx, query, intent, req.Context)
	}

	products, err := e.catalog.ListAvailableProducts(ctx)
	if err != nil {
		return models.RecommendationResult{}, PathError, err
	}

	candidates := FilterProducts(products, categories, intent, req.Context)
	e.logger.Debug("catalog filtered", map[string]interface{}{
		"available":  len(products),
		"candidates": len(candidates),
	})
	if len(candidates) == 0 {
		return e.resolveMissing(ctx, query, intent, req.Context)
	}
	if len(candidates) > e.opts.MaxCandidates {
		candidates = candidates[:e.opts.MaxCandidates]
	}

	ranked, err := e.rank(ctx, query, intent, candidates)
	if err != nil {
		return models.RecommendationResult{}, PathError, err
	}

	limit := req.MaxResults
	if limit <= 0 {
		limit = e.opts.DefaultMaxResults
	}
	result := models.RecommendationResult{
		Success:         true,
		Intent:          intent,
		Recommendations: BuildMatches(ranked.Rankings, candidates, limit),
		Summary:         ranked.Summary,
	}

	if err := e.results.Set(ctx, key, result, e.opts.ResultTTL); err != nil {
		e.logger.Warn("result cache write failed", map[string]interface{}{"error": err.Error()})
	}
	return result, PathRanked, nil
}

func (e *Engine) analyzeIntent(ctx context.Context, query string, history []models.ChatMessage, categories []models.Category) (*models.IntentAnalysis, error) {
	ctx, span := e.tracer.Start(ctx, "recommend.intent")
	defer span.End()

	prompt, err := prompts.BuildIntentPrompt(prompts.IntentInput{
		Query:         query,
		History:       history,
		Categories:    categories,
		HistoryWindow: e.opts.HistoryWindow,
	})
	if err != nil {
		return nil, apperrors.NewInternalError(err.Error())
	}

	text, err := e.llm.Invoke(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	intent, err := prompts.ParseIntent(text)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Float64("intent.confidence", intent.Confidence))
	return intent, nil
}

func (e *Engine) rank(ctx context.Context, query string, intent *models.IntentAnalysis, candidates []models.Product) (*prompts.RankResponse, error) {
	ctx, span := e.tracer.Start(ctx, "recommend.rank", trace.WithAttributes(
		attribute.Int("rank.candidates", len(candidates)),
	))
	defer span.End()

	prompt, err := prompts.BuildRankPrompt(prompts.RankInput{
		Query:    query,
		Intent:   intent,
		Products: candidates,
	})
	if err != nil {
		return nil, apperrors.NewInternalError(err.Error())
	}

	text, err := e.llm.Invoke(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	ranked, err := prompts.ParseRanking(text)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return ranked, nil
}

// resolveMissing asks the model whether to file a product request or ask the
// shopper a clarifying question.
func (e *Engine) resolveMissing(ctx context.Context, query string, intent *models.IntentAnalysis, reqCtx *models.RequestContext) (models.RecommendationResult, string, error) {
	ctx, span := e.tracer.Start(ctx, "recommend.decision")
	defer span.End()

	prompt, err := prompts.BuildDecisionPrompt(prompts.DecisionInput{Query: query, Intent: intent})
	if err != nil {
		return models.RecommendationResult{}, PathError, apperrors.NewInternalError(err.Error())
	}
	text, err := e.llm.Invoke(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		return models.RecommendationResult{}, PathError, err
	}
	decision, err := prompts.ParseDecision(text)
	if err != nil {
		span.RecordError(err)
		return models.RecommendationResult{}, PathError, err
	}
	span.SetAttributes(attribute.String("decision.action", decision.Action))

	clarify := models.RecommendationResult{
		Success:         true,
		Intent:          intent,
		Recommendations: []models.ProductMatch{},
		Summary:         decision.Response,
	}

	data := decision.RequestData
	if data == nil {
		data = intent.ProductRequestData
	}
	if decision.Action != prompts.ActionRequest {
		return clarify, PathClarify, nil
	}
	if data == nil || strings.TrimSpace(data.Name) == "" {
		e.logger.Warn("request decision without a product name, asking instead", map[string]interface{}{})
		return clarify, PathClarify, nil
	}

	id, err := e.submitRequest(ctx, query, data, reqCtx)
	if err != nil {
		return models.RecommendationResult{}, PathError, err
	}
	e.logger.Info("product request submitted", map[string]interface{}{
		"requestId": id,
		"name":      data.Name,
	})

	res := clarify
	res.ProductRequestID = id
	return res, PathRequest, nil
}

func (e *Engine) submitRequest(ctx context.Context, query string, data *models.ProductRequestData, reqCtx *models.RequestContext) (string, error) {
	if e.sink == nil {
		return "", apperrors.NewProductRequestFailedError(errors.New("no product request sink configured"))
	}

	specs := data.Specifications
	if specs == nil {
		specs = []string{}
	}
	pr := models.ProductRequest{
		Name:           strings.TrimSpace(data.Name),
		Description:    query,
		Category:       data.Category,
		MaxBudget:      data.MaxBudget,
		Specifications: specs,
	}
	if reqCtx != nil {
		pr.UserContact = reqCtx.UserContact
	}

	res, err := e.sink.CreateProductRequest(ctx, pr)
	if err != nil {
		return "", err
	}
	if !res.Success {
		return "", apperrors.NewProductRequestFailedError(errors.New(res.Error))
	}
	return res.ID, nil
}

// ClearCache drops cached results whose key starts with prefix.
func (e *Engine) ClearCache(ctx context.Context, prefix string) (int, error) {
	return e.results.ClearPrefix(ctx, prefix)
}

func (e *Engine) logFailure(err error) {
	code := apperrors.CodeOf(err)
	fields := map[string]interface{}{
		"code":     string(code),
		"category": apperrors.GetErrorCategory(code),
		"error":    err.Error(),
	}
	switch {
	case errors.Is(err, apperrors.ErrInvalidRequest):
		e.logger.Debug("recommendation request rejected", fields)
	case errors.Is(err, apperrors.ErrParseError):
		e.logger.Error("model output could not be parsed", fields)
	default:
		e.logger.Warn("recommendation failed", fields)
	}
}

func failure(err error) models.RecommendationResult {
	return models.RecommendationResult{
		Success:         false,
		Error:           err.Error(),
		Recommendations: []models.ProductMatch{},
		Summary:         "",
	}
}
