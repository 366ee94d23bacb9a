package orders

import (
	"context"

	apperrors "orderflow/pkg/errors"
)

// Product is a catalog entry as seen by order pricing
type Product struct {
	ID         string
	Name       string
	PriceCents int64
}

// Catalog prices order lines at creation time. The order keeps the quoted
// price, later catalog changes never reprice an existing order.
type Catalog interface {
	Product(ctx context.Context, productID string) (Product, error)
}

// StaticCatalog serves a fixed product list, with an optional flat default
// price for unknown products.
type StaticCatalog struct {
	products map[string]Product
	// DefaultPriceCents prices products missing from the list when > 0
	DefaultPriceCents int64
}

// NewStaticCatalog builds a catalog from a product list
func NewStaticCatalog(products []Product) *StaticCatalog {
	m := make(map[string]Product, len(products))
	for _, p := range products {
		m[p.ID] = p
	}
	return &StaticCatalog{products: m}
}

func (c *StaticCatalog) Product(ctx context.Context, productID string) (Product, error) {
	if p, ok := c.products[productID]; ok {
		return p, nil
	}
	if c.DefaultPriceCents > 0 {
		return Product{ID: productID, Name: productID, PriceCents: c.DefaultPriceCents}, nil
	}
	return Product{}, apperrors.NewNotFound("product", productID)
}
