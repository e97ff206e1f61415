package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"storefront-assistant/internal/common/logger"
	"storefront-assistant/internal/common/validation"
	"storefront-assistant/internal/keys"
	"storefront-assistant/internal/models"
	"storefront-assistant/internal/recommend"
)

const maxBodyBytes = 1 << 20

// Recommender runs the recommendation pipeline.
type Recommender interface {
	Recommend(ctx context.Context, req models.RecommendationRequest) models.RecommendationResult
	ClearCache(ctx context.Context, prefix string) (int, error)
}

// KeyAdmin exposes key health and externally supplied key lists.
type KeyAdmin interface {
	Providers() []string
	HealthSnapshot(providerID string) keys.HealthSnapshot
	MergeKeyList(providerID string, newKeys []string)
}

// CatalogCache is the catalog read cache.
type CatalogCache interface {
	Invalidate(ctx context.Context) (int, error)
	ClearPrefix(ctx context.Context, prefix string) (int, error)
}

var recommendRequestSchema = validation.MustCompile("recommend-request", `{
  "type": "object",
  "properties": {
    "query": {"type": "string"},
    "messages": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["role", "content"],
        "properties": {
          "role": {"enum": ["user", "assistant"]},
          "content": {"type": "string"}
        }
      }
    },
    "maxResults": {"type": "integer", "minimum": 0, "maximum": 20},
    "context": {
      "type": "object",
      "properties": {
        "categoryId": {"type": "string"},
        "budget": {"type": ["number", "null"], "minimum": 0},
        "excludeProductIds": {"type": "array", "items": {"type": "string"}},
        "userContact": {"type": "string"}
      }
    }
  }
}`)

var keyListSchema = validation.MustCompile("key-list", `{
  "type": "object",
  "required": ["keys"],
  "properties": {
    "keys": {"type": "array", "items": {"type": "string", "minLength": 1}}
  }
}`)

// Handler serves the assistant API.
type Handler struct {
	recommender Recommender
	keys        KeyAdmin
	catalog     CatalogCache
	logger      logger.Logger
}

func NewHandler(rec Recommender, ka KeyAdmin, cc CatalogCache, log logger.Logger) *Handler {
	return &Handler{
		recommender: rec,
		keys:        ka,
		catalog:     cc,
		logger:      log.With(map[string]interface{}{"component": "api"}),
	}
}

// HandleRecommend handles POST /api/ai/recommend. Pipeline failures are
// reported in the body with success=false, never as an HTTP error.
func (h *Handler) HandleRecommend(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readValidated(w, r, recommendRequestSchema)
	if !ok {
		return
	}

	var req models.RecommendationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	respondJSON(w, http.StatusOK, h.recommender.Recommend(r.Context(), req))
}

// HandleKeyHealth handles GET /api/health/llm-keys.
func (h *Handler) HandleKeyHealth(w http.ResponseWriter, r *http.Request) {
	providers := h.keys.Providers()
	snapshots := make([]keys.HealthSnapshot, 0, len(providers))
	healthy := 0
	for _, id := range providers {
		snap := h.keys.HealthSnapshot(id)
		for _, k := range snap.Keys {
			if k.Healthy {
				healthy++
				break
			}
		}
		snapshots = append(snapshots, snap)
	}

	status := "healthy"
	switch {
	case len(providers) == 0 || healthy == 0:
		status = "unavailable"
	case healthy < len(providers):
		status = "degraded"
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"providers": snapshots,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleUpdateKeys handles PUT /api/admin/providers/{provider}/keys.
func (h *Handler) HandleUpdateKeys(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	if !h.knownProvider(provider) {
		respondError(w, http.StatusNotFound, "unknown provider")
		return
	}

	body, ok := h.readValidated(w, r, keyListSchema)
	if !ok {
		return
	}
	var req struct {
		Keys []string `json:"keys"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.keys.MergeKeyList(provider, req.Keys)
	h.logger.Info("provider keys updated", map[string]interface{}{
		"provider": provider,
		"count":    len(req.Keys),
	})
	respondJSON(w, http.StatusOK, h.keys.HealthSnapshot(provider))
}

// HandleInvalidateCache handles POST /api/admin/cache/invalidate. An empty
// prefix clears catalog reads and every cached recommendation. A prefix under
// recommend.CachePrefix only clears matching recommendations.
func (h *Handler) HandleInvalidateCache(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prefix string `json:"prefix"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil && err != io.EOF {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	prefix := strings.TrimSpace(req.Prefix)
	ctx := r.Context()

	var catalogRemoved, resultsRemoved int
	var err error
	if prefix == "" {
		if h.catalog != nil {
			catalogRemoved, err = h.catalog.Invalidate(ctx)
		}
		if err == nil {
			resultsRemoved, err = h.recommender.ClearCache(ctx, recommend.CachePrefix)
		}
	} else {
		if h.catalog != nil {
			catalogRemoved, err = h.catalog.ClearPrefix(ctx, prefix)
		}
		// Results built from invalidated catalog entries go too.
		resultPrefix := recommend.CachePrefix
		if strings.HasPrefix(prefix, recommend.CachePrefix) {
			resultPrefix = prefix
		}
		if err == nil {
			resultsRemoved, err = h.recommender.ClearCache(ctx, resultPrefix)
		}
	}
	if err != nil {
		h.logger.Error("cache invalidation failed", map[string]interface{}{"prefix": prefix, "error": err.Error()})
		respondError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}

	h.logger.Info("cache invalidated", map[string]interface{}{
		"prefix":  prefix,
		"catalog": catalogRemoved,
		"results": resultsRemoved,
	})
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"prefix":  prefix,
		"removed": catalogRemoved + resultsRemoved,
	})
}

func (h *Handler) knownProvider(id string) bool {
	for _, p := range h.keys.Providers() {
		if p == id {
			return true
		}
	}
	return false
}

func (h *Handler) readValidated(w http.ResponseWriter, r *http.Request, schema *validation.Schema) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	if !json.Valid(body) {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}

	result, err := schema.ValidateJSON(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	if !result.Valid {
		respondError(w, http.StatusBadRequest, "request validation failed", result.GetErrorMessages()...)
		return nil, false
	}
	return body, true
}
