package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product represents a marketplace listing: maggot-farming produce such as
// fresh or dried BSF larvae, kasgot fertilizer, and starter kits.
type Product struct {
	ID       string
	FarmerID string
	Name     string
	Price    decimal.Decimal
	Category string
	Stock    int
}

// PriceRupiah returns the price as whole rupiah, the unit the gateway
// expects. IDR has no subunit.
func (p Product) PriceRupiah() int64 {
	return p.Price.Truncate(0).IntPart()
}

// Repository defines read operations for the product catalog. Stock mutation
// happens inside order transitions, not here.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
