// Package catalog holds the product catalog readers and the product request sinks.
package catalog

import (
	"context"

	"storefront-assistant/internal/models"
)

// Catalog is the read side the recommendation pipeline depends on.
type Catalog interface {
	// ListAvailableProducts returns products with Available == true.
	ListAvailableProducts(ctx context.Context) ([]models.Product, error)
	ListCategories(ctx context.Context) ([]models.Category, error)
}

// ProductRequestSink records demand for items the catalog does not carry.
type ProductRequestSink interface {
	CreateProductRequest(ctx context.Context, req models.ProductRequest) (models.ProductRequestResult, error)
}

// Store is a backend that serves both sides.
type Store interface {
	Catalog
	ProductRequestSink
}

func onlyAvailable(products []models.Product) []models.Product {
	out := make([]models.Product, 0, len(products))
	for _, p := range products {
		if p.Available {
			out = append(out, p)
		}
	}
	return out
}
