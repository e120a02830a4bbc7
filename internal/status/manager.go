package status

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/inventory"
	"github.com/fjod/storefront/internal/order"
	"github.com/fjod/storefront/internal/outbox"
	"github.com/fjod/storefront/internal/product"
	"github.com/fjod/storefront/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// orderStore is the part of the order repository a transition runs against.
type orderStore interface {
	FindByID(ctx context.Context, id string) (*domain.Order, error)
	CompareAndSetStatus(ctx context.Context, id string, from, to domain.OrderStatus) (bool, error)
}

// Manager applies order status transitions. Entering CANCELLED returns the
// order's items to stock in the same transaction as the status write.
type Manager struct {
	db       *sql.DB
	ordersIn func(tx *sql.Tx) orderStore
	products *product.Repository
	events   *outbox.Repository
	log      *zap.Logger
	tracer   trace.Tracer
}

func NewManager(db *sql.DB, log *zap.Logger) *Manager {
	orders := order.NewRepository(db)
	return &Manager{
		db:       db,
		ordersIn: func(tx *sql.Tx) orderStore { return orders.WithTx(tx) },
		products: product.NewRepository(db),
		events:   outbox.NewRepository(db),
		log:      log,
		tracer:   otel.Tracer("storefront/status"),
	}
}

// UpdateStatus moves an order to the given status. Any edge outside the
// transition table fails with *domain.InvalidTransitionError and leaves the
// order untouched.
func (m *Manager) UpdateStatus(ctx context.Context, orderID string, to domain.OrderStatus) (*domain.Order, error) {
	return m.transition(ctx, orderID, to, nil)
}

// CancelForUser cancels an order on behalf of its owner. Orders of other
// users are reported as not found.
func (m *Manager) CancelForUser(ctx context.Context, userID, orderID string) (*domain.Order, error) {
	return m.transition(ctx, orderID, domain.OrderStatusCancelled, func(o *domain.Order) error {
		if o.UserID != userID {
			return domain.ErrOrderNotFound
		}
		return nil
	})
}

func (m *Manager) transition(ctx context.Context, orderID string, to domain.OrderStatus, check func(*domain.Order) error) (*domain.Order, error) {
	ctx, span := m.tracer.Start(ctx, "status.UpdateStatus", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("order.status.to", to.String()),
	))
	defer span.End()

	if !to.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownStatus, to)
	}

	var (
		updated *domain.Order
		from    domain.OrderStatus
	)
	err := storage.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		orders := m.ordersIn(tx)

		o, err := orders.FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(o); err != nil {
				return err
			}
		}
		from = o.Status
		if !domain.CanTransition(from, to) {
			return &domain.InvalidTransitionError{From: from, To: to}
		}

		swapped, err := orders.CompareAndSetStatus(ctx, orderID, from, to)
		if err != nil {
			return err
		}
		if !swapped {
			// someone else moved the order since we read it
			current, err := orders.FindByID(ctx, orderID)
			if err != nil {
				return err
			}
			return &domain.InvalidTransitionError{From: current.Status, To: to}
		}

		if to == domain.OrderStatusCancelled {
			ledger := inventory.NewLedger(m.products.WithTx(tx))
			if err := ledger.RestoreAll(ctx, linesOf(o)); err != nil {
				return fmt.Errorf("restore stock for order %s: %w", orderID, err)
			}
		}

		now := storage.Now()
		if err := m.events.WithTx(tx).Append(ctx, o.ID, outbox.EventOrderStatusChanged, outbox.OrderStatusChanged{
			OrderID:     o.ID,
			OrderNumber: o.OrderNumber,
			UserID:      o.UserID,
			From:        from,
			To:          to,
			ChangedAt:   now,
		}); err != nil {
			return err
		}

		o.Status = to
		o.UpdatedAt = now
		updated = o
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	m.log.Info("order status changed",
		zap.String("order_id", orderID),
		zap.String("order_number", updated.OrderNumber),
		zap.String("from", from.String()),
		zap.String("to", to.String()))
	return updated, nil
}

func linesOf(o *domain.Order) []inventory.Line {
	lines := make([]inventory.Line, 0, len(o.Items))
	for _, it := range o.Items {
		lines = append(lines, inventory.Line{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return lines
}
