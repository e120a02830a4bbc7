package cart

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/storage"
	"github.com/google/uuid"
)

var ErrCartNotFound = errors.New("cart not found")

type Repository struct {
	db storage.DBTX
}

func NewRepository(db storage.DBTX) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *sql.Tx) *Repository {
	return &Repository{db: tx}
}

// GetOrCreate returns the user's cart, creating an empty one on first access.
func (r *Repository) GetOrCreate(ctx context.Context, userID string) (*domain.Cart, error) {
	now := storage.Now()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO carts (id, user_id, created_at, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO NOTHING`,
		uuid.NewString(), userID, now, now)
	if err != nil {
		return nil, fmt.Errorf("create cart: %w", err)
	}
	return r.FindByUser(ctx, userID)
}

// FindByUser loads the cart and its items joined with current catalog data.
func (r *Repository) FindByUser(ctx context.Context, userID string) (*domain.Cart, error) {
	var c domain.Cart
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, updated_at FROM carts WHERE user_id = $1`, userID).
		Scan(&c.ID, &c.UserID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCartNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query cart by user: %w", err)
	}

	items, err := r.items(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	c.Items = items
	return &c, nil
}

func (r *Repository) items(ctx context.Context, cartID string) ([]domain.CartItem, error) {
	query := `SELECT ci.id, ci.product_id, ci.quantity, ci.size, ci.created_at, ci.updated_at,
	                 p.name, p.price, p.stock, p.is_active
	          FROM cart_items ci
	          JOIN products p ON p.id = ci.product_id
	          WHERE ci.cart_id = $1
	          ORDER BY ci.created_at, ci.id`

	rows, err := r.db.QueryContext(ctx, query, cartID)
	if err != nil {
		return nil, fmt.Errorf("query cart items: %w", err)
	}
	defer rows.Close()

	items := []domain.CartItem{}
	for rows.Next() {
		var it domain.CartItem
		if err := rows.Scan(
			&it.ID,
			&it.ProductID,
			&it.Quantity,
			&it.Size,
			&it.CreatedAt,
			&it.UpdatedAt,
			&it.ProductName,
			&it.UnitPrice,
			&it.InStock,
			&it.IsActive,
		); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return items, nil
}

// AddItem inserts a line or, when the (product, size) pair is already in the
// cart, increments its quantity.
func (r *Repository) AddItem(ctx context.Context, cartID, productID string, quantity int, size string) error {
	now := storage.Now()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO cart_items (id, cart_id, product_id, quantity, size, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (cart_id, product_id, size)
		 DO UPDATE SET quantity = cart_items.quantity + excluded.quantity, updated_at = excluded.updated_at`,
		uuid.NewString(), cartID, productID, quantity, size, now, now)
	if err != nil {
		return fmt.Errorf("upsert cart item: %w", err)
	}
	return r.touch(ctx, cartID)
}

// SetQuantity overwrites a line's quantity. A quantity of zero or less
// deletes the line.
func (r *Repository) SetQuantity(ctx context.Context, cartID, itemID string, quantity int) error {
	if quantity <= 0 {
		return r.RemoveItem(ctx, cartID, itemID)
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE cart_items SET quantity = $1, updated_at = $2 WHERE id = $3 AND cart_id = $4`,
		quantity, storage.Now(), itemID, cartID)
	if err != nil {
		return fmt.Errorf("update cart item quantity: %w", err)
	}
	if err := expectOne(res); err != nil {
		return err
	}
	return r.touch(ctx, cartID)
}

func (r *Repository) RemoveItem(ctx context.Context, cartID, itemID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM cart_items WHERE id = $1 AND cart_id = $2`, itemID, cartID)
	if err != nil {
		return fmt.Errorf("delete cart item: %w", err)
	}
	if err := expectOne(res); err != nil {
		return err
	}
	return r.touch(ctx, cartID)
}

// Clear empties the cart but keeps the cart row.
func (r *Repository) Clear(ctx context.Context, cartID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return r.touch(ctx, cartID)
}

func (r *Repository) touch(ctx context.Context, cartID string) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE carts SET updated_at = $1 WHERE id = $2`, storage.Now(), cartID); err != nil {
		return fmt.Errorf("touch cart: %w", err)
	}
	return nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrCartItemNotFound
	}
	return nil
}
