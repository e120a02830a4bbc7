package domain

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	MinShippingAddressLen = 10
	MaxShippingAddressLen = 500
	MaxNoteLen            = 500
)

type ShippingInfo struct {
	Address string `json:"shipping_address"`
	Note    string `json:"note,omitempty"`
}

func (s ShippingInfo) Validate() error {
	n := utf8.RuneCountInString(strings.TrimSpace(s.Address))
	if n < MinShippingAddressLen || n > MaxShippingAddressLen {
		return fmt.Errorf("%w: shipping address must be between %d and %d characters",
			ErrInvalidShipping, MinShippingAddressLen, MaxShippingAddressLen)
	}
	if utf8.RuneCountInString(s.Note) > MaxNoteLen {
		return fmt.Errorf("%w: note must be at most %d characters", ErrInvalidShipping, MaxNoteLen)
	}
	return nil
}

type OrderItem struct {
	ID          string          `json:"id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	Size        string          `json:"size,omitempty"`
	Price       decimal.Decimal `json:"price"`
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Order struct {
	ID          string          `json:"id"`
	OrderNumber string          `json:"order_number"`
	UserID      string          `json:"user_id"`
	Shipping    ShippingInfo    `json:"shipping"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Status      OrderStatus     `json:"status"`
	Items       []OrderItem     `json:"items"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NewOrder builds a PENDING order and computes its total once from the frozen
// item prices. The order number is assigned by the repository on insert.
func NewOrder(userID string, shipping ShippingInfo, items []OrderItem, now time.Time) *Order {
	total := decimal.Zero
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = uuid.NewString()
		}
		total = total.Add(items[i].LineTotal())
	}
	return &Order{
		ID:          uuid.NewString(),
		UserID:      userID,
		Shipping:    shipping,
		TotalAmount: total,
		Status:      OrderStatusPending,
		Items:       items,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

const orderNumberAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// NewOrderNumber returns a human readable number such as ORD-1718000000000-7KQ2M9X.
func NewOrderNumber(now time.Time) string {
	var buf [7]byte
	_, _ = rand.Read(buf[:])
	for i, b := range buf {
		buf[i] = orderNumberAlphabet[int(b)%len(orderNumberAlphabet)]
	}
	return fmt.Sprintf("ORD-%d-%s", now.UnixMilli(), buf[:])
}
