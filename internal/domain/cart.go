package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	MinItemQuantity = 1
	MaxItemQuantity = 999
)

type CartItem struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	Size      string    `json:"size,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Filled from the catalog when the cart is viewed.
	ProductName string          `json:"product_name,omitempty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	InStock     int             `json:"in_stock"`
	IsActive    bool            `json:"is_active"`
}

func (i CartItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Cart struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Items     []CartItem `json:"items"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type CartTotals struct {
	Subtotal  decimal.Decimal `json:"subtotal"`
	ItemCount int             `json:"item_count"`
}

// Totals is derived on every call and never stored.
func (c *Cart) Totals() CartTotals {
	t := CartTotals{Subtotal: decimal.Zero}
	for _, item := range c.Items {
		t.Subtotal = t.Subtotal.Add(item.LineTotal())
		t.ItemCount += item.Quantity
	}
	return t
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// ValidateQuantity checks a quantity supplied for an add.
func ValidateQuantity(q int) error {
	if q < MinItemQuantity || q > MaxItemQuantity {
		return ErrInvalidQuantity
	}
	return nil
}
