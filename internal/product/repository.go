package product

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/storage"
	"github.com/google/uuid"
)

var ErrProductExists = errors.New("product already exists")

// Catalog is the read side the cart and checkout depend on.
type Catalog interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
}

// StockAdjuster is the single entry point for stock mutation.
type StockAdjuster interface {
	AdjustStock(ctx context.Context, id string, delta int) error
}

type Repository struct {
	db storage.DBTX
}

func NewRepository(db storage.DBTX) *Repository {
	return &Repository{db: db}
}

// WithTx returns a copy of the repository bound to tx.
func (r *Repository) WithTx(tx *sql.Tx) *Repository {
	return &Repository{db: tx}
}

func (r *Repository) Create(ctx context.Context, p *domain.Product) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Stock < 0 {
		return fmt.Errorf("create product %s: %w", p.ID, domain.ErrInvalidQuantity)
	}
	now := storage.Now()
	p.CreatedAt, p.UpdatedAt = now, now

	query := `INSERT INTO products (id, name, price, stock, is_active, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		p.ID,
		p.Name,
		p.Price.StringFixed(2),
		p.Stock,
		p.IsActive,
		p.CreatedAt,
		p.UpdatedAt)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return ErrProductExists
		}
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (r *Repository) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	query := `SELECT id, name, price, stock, is_active, created_at, updated_at
	          FROM products WHERE id = $1`

	var p domain.Product
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID,
		&p.Name,
		&p.Price,
		&p.Stock,
		&p.IsActive,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query product by id: %w", err)
	}
	return &p, nil
}

func (r *Repository) ListProducts(ctx context.Context) ([]*domain.Product, error) {
	query := `SELECT id, name, price, stock, is_active, created_at, updated_at
	          FROM products ORDER BY name, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []*domain.Product
	for rows.Next() {
		p := &domain.Product{}
		if err := rows.Scan(
			&p.ID,
			&p.Name,
			&p.Price,
			&p.Stock,
			&p.IsActive,
			&p.CreatedAt,
			&p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return products, nil
}

// AdjustStock adds delta to the product's stock in one statement. A negative
// delta only applies when enough stock remains, otherwise
// domain.ErrInsufficientStock is returned and nothing changes.
func (r *Repository) AdjustStock(ctx context.Context, id string, delta int) error {
	var (
		res sql.Result
		err error
	)
	if delta < 0 {
		res, err = r.db.ExecContext(ctx,
			`UPDATE products SET stock = stock + $1, updated_at = $2 WHERE id = $3 AND stock >= $4`,
			delta, storage.Now(), id, -delta)
	} else {
		res, err = r.db.ExecContext(ctx,
			`UPDATE products SET stock = stock + $1, updated_at = $2 WHERE id = $3`,
			delta, storage.Now(), id)
	}
	if err != nil {
		return fmt.Errorf("adjust stock for %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("adjust stock rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	exists, err := r.exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrProductNotFound
	}
	return domain.ErrInsufficientStock
}

func (r *Repository) SetActive(ctx context.Context, id string, active bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE products SET is_active = $1, updated_at = $2 WHERE id = $3`,
		active, storage.Now(), id)
	if err != nil {
		return fmt.Errorf("set product active: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

func (r *Repository) exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM products WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check product exists: %w", err)
	}
	return true, nil
}
