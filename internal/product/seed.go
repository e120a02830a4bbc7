package product

import (
	"context"
	"fmt"

	"github.com/fjod/storefront/internal/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var demoCatalog = []struct {
	name  string
	price string
	stock int
}{
	{"Batik Tulis Shirt", "100.00", 25},
	{"Songket Scarf", "50.00", 40},
	{"Tenun Ikat Bag", "75.50", 15},
	{"Lurik Jacket", "129.90", 10},
	{"Wayang Kulit Print", "45.00", 5},
}

// Seed loads a small demo catalog when the products table is empty. It
// returns the number of products created.
func Seed(ctx context.Context, repo *Repository, log *zap.Logger) (int, error) {
	existing, err := repo.ListProducts(ctx)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		log.Info("catalog already populated, skipping seed", zap.Int("products", len(existing)))
		return 0, nil
	}

	for _, item := range demoCatalog {
		p := &domain.Product{
			Name:     item.name,
			Price:    decimal.RequireFromString(item.price),
			Stock:    item.stock,
			IsActive: true,
		}
		if err := repo.Create(ctx, p); err != nil {
			return 0, fmt.Errorf("seed %q: %w", item.name, err)
		}
	}
	log.Info("catalog seeded", zap.Int("products", len(demoCatalog)))
	return len(demoCatalog), nil
}
