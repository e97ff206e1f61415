package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"

	apperrors "storefront-assistant/internal/common/errors"
	"storefront-assistant/internal/models"
)

const (
	DefaultProductIndex  = "products"
	DefaultCategoryIndex = "categories"
	DefaultRequestIndex  = "product_requests"

	searchPageSize = 1000
)

// ElasticsearchStore reads the catalog from search indices.
type ElasticsearchStore struct {
	transport     esapi.Transport
	productIndex  string
	categoryIndex string
	requestIndex  string
	pageSize      int
}

// NewElasticsearchStore accepts any esapi.Transport, normally *elasticsearch.Client.
// Empty index names fall back to the defaults.
func NewElasticsearchStore(transport esapi.Transport, productIndex, categoryIndex string) *ElasticsearchStore {
	if productIndex == "" {
		productIndex = DefaultProductIndex
	}
	if categoryIndex == "" {
		categoryIndex = DefaultCategoryIndex
	}
	return &ElasticsearchStore{
		transport:     transport,
		productIndex:  productIndex,
		categoryIndex: categoryIndex,
		requestIndex:  DefaultRequestIndex,
		pageSize:      searchPageSize,
	}
}

type searchHit[T any] struct {
	ID     string        `json:"_id"`
	Source T             `json:"_source"`
	Sort   []interface{} `json:"sort"`
}

type searchResponse[T any] struct {
	Hits struct {
		Hits []searchHit[T] `json:"hits"`
	} `json:"hits"`
}

func (s *ElasticsearchStore) ListAvailableProducts(ctx context.Context) ([]models.Product, error) {
	query := map[string]interface{}{
		"sort": keywordSort("id"),
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []interface{}{
					map[string]interface{}{"term": map[string]interface{}{"available": true}},
				},
			},
		},
	}

	hits, err := searchAll[models.Product](ctx, s.transport, s.productIndex, query, s.pageSize)
	if err != nil {
		return nil, apperrors.NewCatalogUnavailableError("search products", err)
	}

	products := make([]models.Product, 0, len(hits))
	for _, hit := range hits {
		p := hit.Source
		if p.ID == "" {
			p.ID = hit.ID
		}
		if p.Tags == nil {
			p.Tags = []string{}
		}
		products = append(products, p)
	}
	// the index may hold stale docs if the filter field is unmapped
	return onlyAvailable(products), nil
}

func (s *ElasticsearchStore) ListCategories(ctx context.Context) ([]models.Category, error) {
	query := map[string]interface{}{
		"query": map[string]interface{}{"match_all": map[string]interface{}{}},
		"sort":  keywordSort("name", "id"),
	}

	hits, err := searchAll[models.Category](ctx, s.transport, s.categoryIndex, query, s.pageSize)
	if err != nil {
		return nil, apperrors.NewCatalogUnavailableError("search categories", err)
	}

	categories := make([]models.Category, 0, len(hits))
	for _, hit := range hits {
		c := hit.Source
		if c.ID == "" {
			c.ID = hit.ID
		}
		categories = append(categories, c)
	}
	return categories, nil
}

type productRequestDocument struct {
	models.ProductRequest
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *ElasticsearchStore) CreateProductRequest(ctx context.Context, req models.ProductRequest) (models.ProductRequestResult, error) {
	id := uuid.NewString()
	doc, err := json.Marshal(productRequestDocument{
		ProductRequest: req,
		Status:         "pending",
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return models.ProductRequestResult{Success: false, Error: err.Error()}, apperrors.NewProductRequestFailedError(err)
	}

	res, err := esapi.IndexRequest{
		Index:      s.requestIndex,
		DocumentID: id,
		Body:       bytes.NewReader(doc),
	}.Do(ctx, s.transport)
	if err != nil {
		return models.ProductRequestResult{Success: false, Error: err.Error()}, apperrors.NewProductRequestFailedError(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		err := fmt.Errorf("index %s: %s", s.requestIndex, res.Status())
		return models.ProductRequestResult{Success: false, Error: err.Error()}, apperrors.NewProductRequestFailedError(err)
	}
	return models.ProductRequestResult{Success: true, ID: id}, nil
}

// keywordSort sorts ascending on the keyword subfield of each field. The last
// field must be unique so search_after pages never skip or repeat a document.
func keywordSort(fields ...string) []interface{} {
	sort := make([]interface{}, 0, len(fields))
	for _, f := range fields {
		sort = append(sort, map[string]interface{}{
			f + ".keyword": map[string]interface{}{"order": "asc", "unmapped_type": "keyword"},
		})
	}
	return sort
}

// searchAll pages through every hit of a sorted query with search_after.
func searchAll[T any](ctx context.Context, transport esapi.Transport, index string, query map[string]interface{}, pageSize int) ([]searchHit[T], error) {
	query["size"] = pageSize
	var all []searchHit[T]
	for {
		res, err := search[T](ctx, transport, index, query)
		if err != nil {
			return nil, err
		}
		hits := res.Hits.Hits
		all = append(all, hits...)
		if len(hits) < pageSize || len(hits[len(hits)-1].Sort) == 0 {
			return all, nil
		}
		query["search_after"] = hits[len(hits)-1].Sort
	}
}

func search[T any](ctx context.Context, transport esapi.Transport, index string, query map[string]interface{}) (*searchResponse[T], error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	res, err := esapi.SearchRequest{
		Index: []string{index},
		Body:  bytes.NewReader(body),
	}.Do(ctx, transport)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return nil, fmt.Errorf("elasticsearch error [%s]: %s", res.Status(), string(msg))
	}

	var out searchResponse[T]
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return &out, nil
}
