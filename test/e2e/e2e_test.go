// test/e2e/e2e_test.go
package e2e

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storefront-assistant/internal/api"
	"storefront-assistant/internal/cache"
	"storefront-assistant/internal/catalog"
	"storefront-assistant/internal/common/config"
	"storefront-assistant/internal/common/database"
	"storefront-assistant/internal/common/logger"
	"storefront-assistant/internal/keys"
	"storefront-assistant/internal/llm"
	"storefront-assistant/internal/models"
	"storefront-assistant/internal/recommend"
)

// These tests need PostgreSQL on localhost:5432 and Redis on localhost:6379.
// Run with E2E=1 go test ./test/e2e/...

var zapLog *zap.Logger

func TestMain(m *testing.M) {
	if os.Getenv("E2E") == "" {
		os.Exit(0)
	}
	zapLog, _ = zap.NewDevelopment()
	code := m.Run()
	_ = zapLog.Sync()
	os.Exit(code)
}

// ==========================
// Fake LLM vendor
// ==========================

// vendorServer speaks the OpenAI-compatible envelope and answers by prompt kind.
type vendorServer struct {
	*httptest.Server
	calls atomic.Int32
}

func newVendorServer(t *testing.T) *vendorServer {
	v := &vendorServer{}
	v.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v.calls.Add(1)
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		prompt := req.Messages[0].Content

		var reply string
		switch {
		case strings.Contains(prompt, "extract their intent") && strings.Contains(prompt, "bamboo"):
			reply = `{"category":null,"subcategory":null,"requirements":["bamboo"],"budget":{"min":null,"max":null},"preferences":[],"useCase":"yoga","confidence":0.8,"productRequestData":{"name":"Bamboo yoga mat","category":"fitness","maxBudget":2500,"specifications":["6mm","non-slip"]}}`
		case strings.Contains(prompt, "extract their intent"):
			reply = `{"category":"cat_shoes","subcategory":null,"requirements":["running"],"budget":{"min":null,"max":5000},"preferences":[],"useCase":"running","confidence":0.9,"productRequestData":null}`
		case strings.Contains(prompt, "Rank the candidate products"):
			reply = `{"rankings":[{"productId":"e2e_road_runner","matchScore":92,"highlights":["light"],"whyRecommended":"fits the budget"}],"summary":"The Road Runner fits."}`
		default:
			reply = `{"action":"request","response":"We will look into stocking it.","requestData":{"name":"Bamboo yoga mat","category":"fitness","maxBudget":2500,"specifications":["6mm","non-slip"]}}`
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": reply}},
			},
		})
	}))
	t.Cleanup(v.Close)
	return v
}

// ==========================
// Infrastructure setup
// ==========================

func loadConfig(t *testing.T) *config.Config {
	cfg, err := config.Load()
	require.NoError(t, err)

	cfg.Database.Postgres.Host = "localhost"
	cfg.Database.Redis.Address = "localhost:6379"
	return cfg
}

func connectPostgres(t *testing.T, cfg *config.Config) *sql.DB {
	pg, err := database.NewPostgres(cfg.Database.Postgres)
	require.NoError(t, err, "❌ PostgreSQL connection failed")
	require.NoError(t, pg.Ping(context.Background()), "❌ PostgreSQL ping failed")
	t.Cleanup(func() { _ = pg.Close() })
	t.Log("✅ PostgreSQL connected")
	return pg.DB
}

func connectRedis(t *testing.T, cfg *config.Config) *database.RedisClient {
	rdb, err := database.NewRedis(cfg.Database.Redis)
	require.NoError(t, err, "❌ Redis client creation failed")
	require.NoError(t, rdb.Ping(context.Background()), "❌ Redis ping failed")
	t.Cleanup(func() { _ = rdb.Close() })
	t.Log("✅ Redis connected")
	return rdb
}

func seedCatalog(t *testing.T, db *sql.DB) {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS categories (
			id VARCHAR(255) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			parent_id VARCHAR(255)
		)`,
		`CREATE TABLE IF NOT EXISTS products (
			id VARCHAR(255) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			description TEXT,
			price NUMERIC(12,2) NOT NULL,
			original_price NUMERIC(12,2),
			category_id VARCHAR(255) REFERENCES categories(id),
			subcategory_id VARCHAR(255),
			tags TEXT[] DEFAULT '{}',
			image_url TEXT,
			available BOOLEAN DEFAULT TRUE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS product_requests (
			id VARCHAR(255) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			description TEXT,
			user_contact VARCHAR(255),
			category VARCHAR(255),
			max_budget NUMERIC(12,2),
			specifications TEXT[] DEFAULT '{}',
			status VARCHAR(50) DEFAULT 'pending',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`DELETE FROM products WHERE id LIKE 'e2e_%'`,
		`INSERT INTO categories (id, name) VALUES ('cat_shoes', 'Shoes') ON CONFLICT (id) DO NOTHING`,
	}
	for _, stmt := range statements {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}

	products := []struct {
		id, name  string
		price     float64
		tags      []string
		available bool
	}{
		{"e2e_road_runner", "Road Runner", 4500, []string{"running"}, true},
		{"e2e_carbon_racer", "Carbon Racer", 8000, []string{"running", "racing"}, true},
		{"e2e_retired", "Retired Trainer", 3000, []string{"running"}, false},
	}
	for _, p := range products {
		_, err := db.Exec(
			`INSERT INTO products (id, name, description, price, category_id, tags, available) VALUES ($1, $2, '', $3, 'cat_shoes', $4, $5)`,
			p.id, p.name, p.price, pq.Array(p.tags), p.available,
		)
		require.NoError(t, err)
	}
	t.Log("✅ Catalog seeded")
}

type stack struct {
	server  *httptest.Server
	vendor  *vendorServer
	db      *sql.DB
	results cache.Store[models.RecommendationResult]
}

func newStack(t *testing.T) *stack {
	cfg := loadConfig(t)
	db := connectPostgres(t, cfg)
	rdb := connectRedis(t, cfg)
	seedCatalog(t, db)

	log := logger.NewZapAdapter(zapLog)
	vendor := newVendorServer(t)

	prefix := "e2e:" + time.Now().Format("150405.000") + ":"
	store := catalog.NewPostgresStore(db)
	cached := catalog.NewCachedCatalog(
		store,
		cache.NewRedisStore[[]models.Product](rdb.Client, "catalog-products", prefix+"catalog:", time.Minute),
		cache.NewRedisStore[[]models.Category](rdb.Client, "catalog-categories", prefix+"catalog:", time.Minute),
		time.Minute, log,
	)
	results := cache.NewRedisStore[models.RecommendationResult](rdb.Client, "results", prefix+"results:", time.Minute)

	registry := keys.NewRegistry(log)
	registry.Register("groq", []string{"gsk_e2e_key_0001"})
	client, err := llm.NewClient(config.ProviderConfig{
		ID:      "groq",
		Kind:    "groq",
		BaseURL: vendor.URL,
		Model:   "test-model",
		Timeout: 5000,
	}, registry, log)
	require.NoError(t, err)

	engine := recommend.NewEngine(llm.NewRouter(log, client), cached, store, results, recommend.Options{}, log)
	handler := api.NewHandler(engine, registry, cached, log)
	server := httptest.NewServer(api.Routes(handler, "e2e-token", log))
	t.Cleanup(server.Close)
	t.Cleanup(func() { _, _ = results.ClearPrefix(context.Background(), "") })

	return &stack{server: server, vendor: vendor, db: db, results: results}
}

func (s *stack) recommend(t *testing.T, body string) models.RecommendationResult {
	resp, err := http.Post(s.server.URL+"/api/ai/recommend", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res models.RecommendationResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	return res
}

// ==========================
// Scenarios
// ==========================

func TestE2E_RankedRecommendationIsCached(t *testing.T) {
	s := newStack(t)

	first := s.recommend(t, `{"query": "running shoes under 5000"}`)
	require.True(t, first.Success, first.Error)
	require.Len(t, first.Recommendations, 1)
	assert.Equal(t, "e2e_road_runner", first.Recommendations[0].Product.ID)
	assert.Equal(t, int32(2), s.vendor.calls.Load())

	second := s.recommend(t, `{"query": "  Running shoes under 5000 "}`)
	require.True(t, second.Success)
	assert.Equal(t, first.Recommendations, second.Recommendations)
	assert.Equal(t, int32(2), s.vendor.calls.Load(), "second request is served from Redis")
}

func TestE2E_MissingProductIsRequested(t *testing.T) {
	s := newStack(t)

	res := s.recommend(t, `{"query": "bamboo yoga mat", "context": {"userContact": "shopper@example.com"}}`)
	require.True(t, res.Success, res.Error)
	assert.Empty(t, res.Recommendations)
	require.NotEmpty(t, res.ProductRequestID)

	var name, status, contact string
	var specs []string
	err := s.db.QueryRow(
		`SELECT name, status, user_contact, specifications FROM product_requests WHERE id = $1`,
		res.ProductRequestID,
	).Scan(&name, &status, &contact, pq.Array(&specs))
	require.NoError(t, err)
	assert.Equal(t, "Bamboo yoga mat", name)
	assert.Equal(t, "pending", status)
	assert.Equal(t, "shopper@example.com", contact)
	assert.Equal(t, []string{"6mm", "non-slip"}, specs)
}

func TestE2E_KeyHealthAndAdmin(t *testing.T) {
	s := newStack(t)

	resp, err := http.Get(s.server.URL + "/api/health/llm-keys")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodPost, s.server.URL+"/api/admin/cache/invalidate", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ = http.NewRequest(http.MethodPost, s.server.URL+"/api/admin/cache/invalidate", nil)
	req.Header.Set("Authorization", "Bearer e2e-token")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
