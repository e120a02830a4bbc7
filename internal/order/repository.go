package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/storage"
)

// numberAttempts is how many order numbers Create tries before giving up.
const numberAttempts = 2

const orderColumns = `id, order_number, user_id, shipping_address, note, total_amount, status, created_at, updated_at`

type Repository struct {
	db        storage.DBTX
	newNumber func(time.Time) string
}

func NewRepository(db storage.DBTX) *Repository {
	return &Repository{db: db, newNumber: domain.NewOrderNumber}
}

func (r *Repository) WithTx(tx *sql.Tx) *Repository {
	return &Repository{db: tx, newNumber: r.newNumber}
}

// Create inserts the order header and its items. The order number is
// generated here; on a number collision a fresh one is tried once more.
func (r *Repository) Create(ctx context.Context, o *domain.Order) error {
	query := `INSERT INTO orders (` + orderColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	          ON CONFLICT (order_number) DO NOTHING`

	inserted := false
	for attempt := 0; attempt < numberAttempts && !inserted; attempt++ {
		o.OrderNumber = r.newNumber(o.CreatedAt)
		res, err := r.db.ExecContext(ctx, query,
			o.ID,
			o.OrderNumber,
			o.UserID,
			o.Shipping.Address,
			o.Shipping.Note,
			o.TotalAmount.StringFixed(2),
			string(o.Status),
			o.CreatedAt,
			o.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("insert order rows affected: %w", err)
		}
		inserted = n == 1
	}
	if !inserted {
		return domain.ErrOrderNumberCollide
	}

	for _, item := range o.Items {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO order_items (id, order_id, product_id, product_name, quantity, size, price)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			item.ID,
			o.ID,
			item.ProductID,
			item.ProductName,
			item.Quantity,
			item.Size,
			item.Price.StringFixed(2))
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

func (r *Repository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)

	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order by id: %w", err)
	}

	if err := r.loadItems(ctx, []*domain.Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

// ListByUser returns one page of the user's orders, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID string, page domain.PageRequest) (domain.Page[*domain.Order], error) {
	return r.list(ctx, "user_id = $1", []any{userID}, page)
}

// ListAll returns one page of every order, newest first, optionally only
// those in the given status.
func (r *Repository) ListAll(ctx context.Context, page domain.PageRequest, status *domain.OrderStatus) (domain.Page[*domain.Order], error) {
	if status != nil {
		return r.list(ctx, "status = $1", []any{string(*status)}, page)
	}
	return r.list(ctx, "", nil, page)
}

func (r *Repository) list(ctx context.Context, where string, args []any, page domain.PageRequest) (domain.Page[*domain.Order], error) {
	page = page.Normalize()
	filter := ""
	if where != "" {
		filter = " WHERE " + where
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`+filter, args...).Scan(&total); err != nil {
		return domain.Page[*domain.Order]{}, fmt.Errorf("count orders: %w", err)
	}

	n := len(args)
	query := fmt.Sprintf(`SELECT %s FROM orders%s ORDER BY created_at DESC, seq DESC LIMIT $%d OFFSET $%d`,
		orderColumns, filter, n+1, n+2)
	rows, err := r.db.QueryContext(ctx, query, append(args, page.Limit, page.Offset())...)
	if err != nil {
		return domain.Page[*domain.Order]{}, fmt.Errorf("query orders: %w", err)
	}

	var orders []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return domain.Page[*domain.Order]{}, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return domain.Page[*domain.Order]{}, fmt.Errorf("row iteration error: %w", err)
	}
	// release the connection before loading items
	rows.Close()

	if err := r.loadItems(ctx, orders); err != nil {
		return domain.Page[*domain.Order]{}, err
	}
	return domain.NewPage(orders, total, page), nil
}

// CompareAndSetStatus moves the order from one status to another only if it
// is still in from. It reports whether the write happened.
func (r *Repository) CompareAndSetStatus(ctx context.Context, id string, from, to domain.OrderStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(to), storage.Now(), id, string(from))
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update order status rows affected: %w", err)
	}
	return n == 1, nil
}

func (r *Repository) loadItems(ctx context.Context, orders []*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}

	byID := make(map[string]*domain.Order, len(orders))
	placeholders := make([]string, len(orders))
	args := make([]any, len(orders))
	for i, o := range orders {
		o.Items = []domain.OrderItem{}
		byID[o.ID] = o
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = o.ID
	}

	query := `SELECT id, order_id, product_id, product_name, quantity, size, price
	          FROM order_items WHERE order_id IN (` + strings.Join(placeholders, ", ") + `)
	          ORDER BY order_id, product_id, size`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item    domain.OrderItem
			orderID string
		)
		if err := rows.Scan(
			&item.ID,
			&orderID,
			&item.ProductID,
			&item.ProductName,
			&item.Quantity,
			&item.Size,
			&item.Price,
		); err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		if o, ok := byID[orderID]; ok {
			o.Items = append(o.Items, item)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("row iteration error: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (*domain.Order, error) {
	var o domain.Order
	if err := s.Scan(
		&o.ID,
		&o.OrderNumber,
		&o.UserID,
		&o.Shipping.Address,
		&o.Shipping.Note,
		&o.TotalAmount,
		&o.Status,
		&o.CreatedAt,
		&o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &o, nil
}
