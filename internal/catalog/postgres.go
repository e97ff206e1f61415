package catalog

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	apperrors "storefront-assistant/internal/common/errors"
	"storefront-assistant/internal/models"
)

const (
	queryAvailableProducts = `SELECT id, name, description, price, original_price, category_id, subcategory_id, tags, image_url, available FROM products WHERE available = TRUE ORDER BY created_at DESC`
	queryCategories        = `SELECT id, name, parent_id FROM categories ORDER BY name`
	insertProductRequest   = `INSERT INTO product_requests (id, name, description, user_contact, category, max_budget, specifications, status, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
)

// PostgresStore reads the catalog from the products and categories tables and
// writes product requests to product_requests.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) ListAvailableProducts(ctx context.Context) ([]models.Product, error) {
	rows, err := s.db.QueryContext(ctx, queryAvailableProducts)
	if err != nil {
		return nil, apperrors.NewCatalogUnavailableError("list products", err)
	}
	defer rows.Close()

	products := make([]models.Product, 0)
	for rows.Next() {
		var (
			p             models.Product
			originalPrice sql.NullFloat64
			subcategoryID sql.NullString
			imageURL      sql.NullString
			tags          []string
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &originalPrice,
			&p.CategoryID, &subcategoryID, pq.Array(&tags), &imageURL, &p.Available); err != nil {
			return nil, apperrors.NewCatalogUnavailableError("scan product", err)
		}
		if originalPrice.Valid {
			v := originalPrice.Float64
			p.OriginalPrice = &v
		}
		p.SubcategoryID = subcategoryID.String
		p.ImageURL = imageURL.String
		if tags == nil {
			tags = []string{}
		}
		p.Tags = tags
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewCatalogUnavailableError("list products", err)
	}
	return products, nil
}

func (s *PostgresStore) ListCategories(ctx context.Context) ([]models.Category, error) {
	rows, err := s.db.QueryContext(ctx, queryCategories)
	if err != nil {
		return nil, apperrors.NewCatalogUnavailableError("list categories", err)
	}
	defer rows.Close()

	categories := make([]models.Category, 0)
	for rows.Next() {
		var (
			c        models.Category
			parentID sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.Name, &parentID); err != nil {
			return nil, apperrors.NewCatalogUnavailableError("scan category", err)
		}
		c.ParentID = parentID.String
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewCatalogUnavailableError("list categories", err)
	}
	return categories, nil
}

func (s *PostgresStore) CreateProductRequest(ctx context.Context, req models.ProductRequest) (models.ProductRequestResult, error) {
	id := uuid.NewString()
	specs := req.Specifications
	if specs == nil {
		specs = []string{}
	}

	_, err := s.db.ExecContext(ctx, insertProductRequest,
		id, req.Name, req.Description, req.UserContact, req.Category, req.MaxBudget,
		pq.Array(specs), "pending", time.Now().UTC(),
	)
	if err != nil {
		return models.ProductRequestResult{Success: false, Error: err.Error()},
			apperrors.NewProductRequestFailedError(err)
	}
	return models.ProductRequestResult{Success: true, ID: id}, nil
}
