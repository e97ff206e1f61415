package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storefront-assistant/internal/common/logger"
	"storefront-assistant/internal/keys"
	"storefront-assistant/internal/models"
	"storefront-assistant/internal/recommend"
)

// ==========================
// Mock Implementations
// ==========================

type stubRecommender struct {
	last        models.RecommendationRequest
	calls       int
	clearedWith []string
	clearErr    error
}

func (s *stubRecommender) Recommend(_ context.Context, req models.RecommendationRequest) models.RecommendationResult {
	s.calls++
	s.last = req
	if strings.TrimSpace(req.Query) == "" {
		return models.RecommendationResult{Success: false, Error: "INVALID_REQUEST: Invalid request", Recommendations: []models.ProductMatch{}}
	}
	return models.RecommendationResult{
		Success: true,
		Recommendations: []models.ProductMatch{
			{Product: models.Product{ID: "p1", Name: "Road Runner", Price: 4500}, MatchScore: 90, Highlights: []string{}},
		},
		Summary: "Try the Road Runner.",
	}
}

func (s *stubRecommender) ClearCache(_ context.Context, prefix string) (int, error) {
	s.clearedWith = append(s.clearedWith, prefix)
	return 3, s.clearErr
}

type stubCatalogCache struct {
	invalidated int
	prefixes    []string
}

func (s *stubCatalogCache) Invalidate(context.Context) (int, error) {
	s.invalidated++
	return 2, nil
}

func (s *stubCatalogCache) ClearPrefix(_ context.Context, prefix string) (int, error) {
	s.prefixes = append(s.prefixes, prefix)
	return 1, nil
}

// ==========================
// Test Helper Functions
// ==========================

func createTestLogger(t *testing.T) logger.Logger {
	return logger.NewZapAdapter(zaptest.NewLogger(t))
}

type testServer struct {
	handler  http.Handler
	rec      *stubRecommender
	registry *keys.Registry
	catalog  *stubCatalogCache
}

func newTestServer(t *testing.T, adminToken string) *testServer {
	log := createTestLogger(t)
	reg := keys.NewRegistry(log)
	reg.Register("groq", []string{"gsk_first_key_0001", "gsk_second_key_0002"})
	reg.Register("gemini", []string{"AIza_only_key_0003"})

	rec := &stubRecommender{}
	cat := &stubCatalogCache{}
	h := NewHandler(rec, reg, cat, log)
	return &testServer{
		handler:  Routes(h, adminToken, log),
		rec:      rec,
		registry: reg,
		catalog:  cat,
	}
}

func (s *testServer) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
}

// ==========================
// Recommend
// ==========================

func TestHandleRecommend_Success(t *testing.T) {
	s := newTestServer(t, "")

	w := s.do(http.MethodPost, "/api/ai/recommend", `{
		"query": "running shoe under 5000",
		"messages": [{"role": "user", "content": "hi"}],
		"maxResults": 3,
		"context": {"budget": 5000, "excludeProductIds": ["p9"]}
	}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var res models.RecommendationResult
	decode(t, w, &res)
	assert.True(t, res.Success)
	require.Len(t, res.Recommendations, 1)

	assert.Equal(t, 3, s.rec.last.MaxResults)
	require.NotNil(t, s.rec.last.Context)
	assert.Equal(t, []string{"p9"}, s.rec.last.Context.ExcludeProductIDs)
	assert.Len(t, s.rec.last.Messages, 1)
}

func TestHandleRecommend_EmptyQueryIsNotHTTPError(t *testing.T) {
	s := newTestServer(t, "")

	w := s.do(http.MethodPost, "/api/ai/recommend", `{"query": ""}`)
	require.Equal(t, http.StatusOK, w.Code)

	var res models.RecommendationResult
	decode(t, w, &res)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}

func TestHandleRecommend_BadBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{query:`},
		{"wrong type", `{"query": 42}`},
		{"bad role", `{"query": "x", "messages": [{"role": "system", "content": "hi"}]}`},
		{"negative budget", `{"query": "x", "context": {"budget": -1}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, "")
			w := s.do(http.MethodPost, "/api/ai/recommend", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Zero(t, s.rec.calls)
		})
	}
}

func TestHandleRecommend_MethodNotAllowed(t *testing.T) {
	s := newTestServer(t, "")
	w := s.do(http.MethodGet, "/api/ai/recommend", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

// ==========================
// Key Health & Admin
// ==========================

func TestHandleKeyHealth(t *testing.T) {
	s := newTestServer(t, "")
	s.registry.RecordRateLimited("gemini", "AIza_only_key_0003")

	w := s.do(http.MethodGet, "/api/health/llm-keys", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "gsk_first_key_0001", "secrets are masked")

	var body struct {
		Status    string                `json:"status"`
		Providers []keys.HealthSnapshot `json:"providers"`
	}
	decode(t, w, &body)
	assert.Equal(t, "degraded", body.Status)
	require.Len(t, body.Providers, 2)
	assert.Equal(t, "groq", body.Providers[0].ProviderID)
	assert.Equal(t, 2, body.Providers[0].TotalKeys)
	assert.True(t, body.Providers[1].Keys[0].RateLimited)
}

func TestHandleUpdateKeys(t *testing.T) {
	s := newTestServer(t, "secret-token")

	w := s.do(http.MethodPut, "/api/admin/providers/groq/keys", `{"keys": ["gsk_second_key_0002", "gsk_third_key_0004"]}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPut, "/api/admin/providers/groq/keys",
		`{"keys": ["gsk_second_key_0002", "gsk_third_key_0004"]}`,
		"Authorization", "Bearer secret-token")
	require.Equal(t, http.StatusOK, w.Code)

	var snap keys.HealthSnapshot
	decode(t, w, &snap)
	assert.Equal(t, 2, snap.TotalKeys)

	rec, err := s.registry.SelectActiveKey("groq")
	require.NoError(t, err)
	assert.Equal(t, "gsk_second_key_0002", rec.Key)
}

func TestHandleUpdateKeys_Errors(t *testing.T) {
	s := newTestServer(t, "")

	w := s.do(http.MethodPut, "/api/admin/providers/openai/keys", `{"keys": ["k"]}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodPut, "/api/admin/providers/groq/keys", `{"keys": "k"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPut, "/api/admin/providers/groq/keys", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleInvalidateCache(t *testing.T) {
	s := newTestServer(t, "")

	w := s.do(http.MethodPost, "/api/admin/cache/invalidate", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Removed int `json:"removed"`
	}
	decode(t, w, &body)
	assert.Equal(t, 5, body.Removed)
	assert.Equal(t, 1, s.catalog.invalidated)
	assert.Equal(t, []string{recommend.CachePrefix}, s.rec.clearedWith)

	w = s.do(http.MethodPost, "/api/admin/cache/invalidate", `{"prefix": "products"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"products"}, s.catalog.prefixes)
	assert.Equal(t, recommend.CachePrefix, s.rec.clearedWith[1], "catalog changes drop every cached result")

	w = s.do(http.MethodPost, "/api/admin/cache/invalidate", `{"prefix": "recommend:abc"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "recommend:abc", s.rec.clearedWith[2])
}

func TestHandleInvalidateCache_Failure(t *testing.T) {
	s := newTestServer(t, "")
	s.rec.clearErr = errors.New("redis down")

	w := s.do(http.MethodPost, "/api/admin/cache/invalidate", `{"prefix": "recommend:"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

// ==========================
// Infrastructure Routes
// ==========================

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, "")

	w := s.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	var health map[string]string
	decode(t, w, &health)
	assert.Equal(t, "healthy", health["status"])
	_, err := time.Parse(time.RFC3339, health["time"])
	assert.NoError(t, err)

	w = s.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestID(t *testing.T) {
	s := newTestServer(t, "")

	w := s.do(http.MethodGet, "/health", "")
	assert.Len(t, w.Header().Get("X-Request-ID"), 36)

	w = s.do(http.MethodGet, "/health", "", "X-Request-ID", "req-abc")
	assert.Equal(t, "req-abc", w.Header().Get("X-Request-ID"))
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, "")
	w := s.do(http.MethodOptions, "/api/ai/recommend", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
