package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product stock is mutated only through Reserve and Release; it never goes
// negative.
type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	CreatedAt time.Time       `json:"-"`
	UpdatedAt time.Time       `json:"-"`
}
