package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	IsActive  bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CanFulfil reports whether the product can be sold in the given quantity
// according to the last read. The conditional stock update is still the
// final word.
func (p *Product) CanFulfil(quantity int) bool {
	return p.IsActive && p.Stock >= quantity
}
