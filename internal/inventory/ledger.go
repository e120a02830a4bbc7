// Package inventory reserves and restores product stock. All stock changes go
// through product.Repository.AdjustStock, which never lets stock go negative.
package inventory

import (
	"context"
	"fmt"
	"sort"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/product"
)

// Line is a quantity of one product to reserve or restore.
type Line struct {
	ProductID string
	Quantity  int
}

// ReserveError names the product a batch operation stopped at.
type ReserveError struct {
	ProductID string
	Quantity  int
	Err       error
}

func (e *ReserveError) Error() string {
	return fmt.Sprintf("reserve %d of product %s: %v", e.Quantity, e.ProductID, e.Err)
}

func (e *ReserveError) Unwrap() error {
	return e.Err
}

// Ledger owns available stock. Every change goes through the catalog's
// AdjustStock so a reservation is one conditional update.
type Ledger struct {
	stock product.StockAdjuster
}

func NewLedger(stock product.StockAdjuster) *Ledger {
	return &Ledger{stock: stock}
}

// Reserve takes quantity units of a product or fails with
// domain.ErrInsufficientStock leaving stock untouched.
func (l *Ledger) Reserve(ctx context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("reserve %d: %w", quantity, domain.ErrInvalidQuantity)
	}
	return l.stock.AdjustStock(ctx, productID, -quantity)
}

// Restore puts quantity units back. It is unconditional.
func (l *Ledger) Restore(ctx context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("restore %d: %w", quantity, domain.ErrInvalidQuantity)
	}
	return l.stock.AdjustStock(ctx, productID, quantity)
}

// ReserveAll reserves every line in ascending product id order so concurrent
// batches lock rows in the same sequence. It stops at the first failure; the
// caller's transaction is expected to undo earlier lines.
func (l *Ledger) ReserveAll(ctx context.Context, lines []Line) error {
	for _, line := range MergeLines(lines) {
		if err := l.Reserve(ctx, line.ProductID, line.Quantity); err != nil {
			return &ReserveError{ProductID: line.ProductID, Quantity: line.Quantity, Err: err}
		}
	}
	return nil
}

// RestoreAll restores every line in ascending product id order.
func (l *Ledger) RestoreAll(ctx context.Context, lines []Line) error {
	for _, line := range MergeLines(lines) {
		if err := l.Restore(ctx, line.ProductID, line.Quantity); err != nil {
			return fmt.Errorf("restore product %s: %w", line.ProductID, err)
		}
	}
	return nil
}

// MergeLines sums quantities per product and sorts by product id.
func MergeLines(lines []Line) []Line {
	totals := make(map[string]int, len(lines))
	for _, line := range lines {
		totals[line.ProductID] += line.Quantity
	}

	merged := make([]Line, 0, len(totals))
	for id, q := range totals {
		merged = append(merged, Line{ProductID: id, Quantity: q})
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].ProductID < merged[j].ProductID
	})
	return merged
}
