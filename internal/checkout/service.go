package checkout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fjod/storefront/internal/cart"
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

// CartInvalidator drops any cached view of a user's cart.
type CartInvalidator interface {
	Invalidate(userID string)
}

type Service struct {
	db          *sql.DB
	carts       *cart.Repository
	products    *product.Repository
	orders      *order.Repository
	events      *outbox.Repository
	invalidator CartInvalidator
	log         *zap.Logger
	tracer      trace.Tracer
}

func NewService(db *sql.DB, invalidator CartInvalidator, log *zap.Logger) *Service {
	return &Service{
		db:          db,
		carts:       cart.NewRepository(db),
		products:    product.NewRepository(db),
		orders:      order.NewRepository(db),
		events:      outbox.NewRepository(db),
		invalidator: invalidator,
		log:         log,
		tracer:      otel.Tracer("storefront/checkout"),
	}
}

// Checkout turns the user's cart into a PENDING order. Order creation, stock
// reservation, emptying the cart and the order.created event commit together
// or not at all.
func (s *Service) Checkout(ctx context.Context, userID string, shipping domain.ShippingInfo) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.Checkout", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	if err := shipping.Validate(); err != nil {
		return nil, err
	}

	var created *domain.Order
	err := storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		carts := s.carts.WithTx(tx)
		products := s.products.WithTx(tx)

		c, err := carts.FindByUser(ctx, userID)
		if errors.Is(err, cart.ErrCartNotFound) {
			return domain.ErrEmptyCart
		}
		if err != nil {
			return err
		}
		if c.IsEmpty() {
			return domain.ErrEmptyCart
		}

		items, catalog, err := priceItems(ctx, products, c.Items)
		if err != nil {
			return err
		}

		o := domain.NewOrder(userID, shipping, items, storage.Now())
		if err := s.orders.WithTx(tx).Create(ctx, o); err != nil {
			return err
		}

		lines := make([]inventory.Line, 0, len(items))
		for _, it := range items {
			lines = append(lines, inventory.Line{ProductID: it.ProductID, Quantity: it.Quantity})
		}
		if err := inventory.NewLedger(products).ReserveAll(ctx, lines); err != nil {
			return reservationFailure(ctx, products, catalog, err)
		}

		if err := carts.Clear(ctx, c.ID); err != nil {
			return err
		}

		if err := s.events.WithTx(tx).Append(ctx, o.ID, outbox.EventOrderCreated, outbox.NewOrderCreated(o)); err != nil {
			return err
		}

		created = o
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Info("checkout rejected", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}

	if s.invalidator != nil {
		s.invalidator.Invalidate(userID)
	}

	span.SetAttributes(attribute.String("order.id", created.ID))
	s.log.Info("order placed",
		zap.String("user_id", userID),
		zap.String("order_id", created.ID),
		zap.String("order_number", created.OrderNumber),
		zap.String("total", created.TotalAmount.StringFixed(2)),
		zap.Int("items", len(created.Items)))
	return created, nil
}

// priceItems re-reads every product and freezes its current price onto the
// order line. The stock comparison here is a fast path only; the conditional
// decrement during reservation decides.
func priceItems(ctx context.Context, catalog product.Catalog, cartItems []domain.CartItem) ([]domain.OrderItem, map[string]*domain.Product, error) {
	products := make(map[string]*domain.Product, len(cartItems))
	requested := make(map[string]int, len(cartItems))
	items := make([]domain.OrderItem, 0, len(cartItems))

	for _, ci := range cartItems {
		p, ok := products[ci.ProductID]
		if !ok {
			var err error
			p, err = catalog.GetProduct(ctx, ci.ProductID)
			if err != nil {
				return nil, nil, err
			}
			products[p.ID] = p
		}
		if !p.IsActive {
			return nil, nil, fmt.Errorf("%w: %s", domain.ErrProductInactive, p.Name)
		}

		requested[p.ID] += ci.Quantity
		if !p.CanFulfil(requested[p.ID]) {
			return nil, nil, &domain.OutOfStockError{
				ProductID: p.ID,
				Name:      p.Name,
				Requested: requested[p.ID],
				Available: p.Stock,
			}
		}

		items = append(items, domain.OrderItem{
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    ci.Quantity,
			Size:        ci.Size,
			Price:       p.Price,
		})
	}
	return items, products, nil
}

// reservationFailure turns a failed conditional decrement into an
// OutOfStockError naming the product.
func reservationFailure(ctx context.Context, catalog product.Catalog, known map[string]*domain.Product, err error) error {
	var reserveErr *inventory.ReserveError
	if !errors.As(err, &reserveErr) || !errors.Is(err, domain.ErrInsufficientStock) {
		return err
	}

	out := &domain.OutOfStockError{ProductID: reserveErr.ProductID, Requested: reserveErr.Quantity}
	if p, ok := known[reserveErr.ProductID]; ok {
		out.Name = p.Name
	}
	if current, errGet := catalog.GetProduct(ctx, reserveErr.ProductID); errGet == nil {
		out.Name = current.Name
		out.Available = current.Stock
	}
	return out
}
