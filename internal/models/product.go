// internal/models/product.go
package models

// Product is a catalog item as read from the catalog collaborator.
type Product struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Price         float64  `json:"price"`
	OriginalPrice *float64 `json:"originalPrice,omitempty"`
	CategoryID    string   `json:"categoryId"`
	SubcategoryID string   `json:"subcategoryId,omitempty"`
	Tags          []string `json:"tags"`
	ImageURL      string   `json:"imageUrl"`
	Available     bool     `json:"available"`
}

// Category is a node in the catalog category tree.
type Category struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parentId,omitempty"`
}

// ProductRequest captures demand for an item the catalog does not carry.
type ProductRequest struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	UserContact    string   `json:"userContact"`
	Category       string   `json:"category"`
	MaxBudget      float64  `json:"maxBudget"`
	Specifications []string `json:"specifications"`
}

// ProductRequestResult is the outcome of createProductRequest.
type ProductRequestResult struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
}
