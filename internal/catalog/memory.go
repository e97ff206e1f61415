package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"

	"storefront-assistant/internal/models"
)

// MemoryStore serves a fixed catalog and keeps product requests in memory.
type MemoryStore struct {
	mu         sync.RWMutex
	products   []models.Product
	categories []models.Category
	requests   map[string]models.ProductRequest
}

// Fixtures is the on-disk shape read by LoadFixtures.
type Fixtures struct {
	Products   []models.Product  `json:"products"`
	Categories []models.Category `json:"categories"`
}

func NewMemoryStore(products []models.Product, categories []models.Category) *MemoryStore {
	return &MemoryStore{
		products:   products,
		categories: categories,
		requests:   make(map[string]models.ProductRequest),
	}
}

// LoadFixtures builds a MemoryStore from a JSON fixtures file.
func LoadFixtures(path string) (*MemoryStore, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog fixtures: %w", err)
	}
	var f Fixtures
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog fixtures %s: %w", path, err)
	}
	return NewMemoryStore(f.Products, f.Categories), nil
}

func (m *MemoryStore) ListAvailableProducts(_ context.Context) ([]models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return onlyAvailable(m.products), nil
}

func (m *MemoryStore) ListCategories(_ context.Context) ([]models.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Category, len(m.categories))
	copy(out, m.categories)
	return out, nil
}

func (m *MemoryStore) CreateProductRequest(_ context.Context, req models.ProductRequest) (models.ProductRequestResult, error) {
	if req.Name == "" {
		return models.ProductRequestResult{Success: false, Error: "name is required"}, nil
	}

	id := uuid.NewString()
	m.mu.Lock()
	m.requests[id] = req
	m.mu.Unlock()
	return models.ProductRequestResult{Success: true, ID: id}, nil
}

// ProductRequests returns a copy of the recorded requests keyed by id.
func (m *MemoryStore) ProductRequests() map[string]models.ProductRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]models.ProductRequest, len(m.requests))
	for k, v := range m.requests {
		out[k] = v
	}
	return out
}
