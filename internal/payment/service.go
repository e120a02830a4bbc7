// Package payment turns payment processor notifications into order status
// changes.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fjod/storefront/internal/domain"
	"go.uber.org/zap"
)

var ErrUnknownPaymentStatus = errors.New("unknown payment status")

// ProviderStatus is the payment processor's view of a payment, normalised
// across providers.
type ProviderStatus string

const (
	PaymentPending   ProviderStatus = "pending"
	PaymentSucceeded ProviderStatus = "succeeded"
	PaymentFailed    ProviderStatus = "failed"
	PaymentExpired   ProviderStatus = "expired"
	PaymentCanceled  ProviderStatus = "canceled"
)

type Notification struct {
	OrderID   string         `json:"order_id"`
	Status    ProviderStatus `json:"status"`
	Reference string         `json:"reference,omitempty"`
}

// TargetStatus maps a payment outcome to the order status it should drive.
func TargetStatus(s ProviderStatus) (domain.OrderStatus, error) {
	switch ProviderStatus(strings.ToLower(string(s))) {
	case PaymentPending:
		return domain.OrderStatusProcessing, nil
	case PaymentSucceeded, "settlement", "capture":
		return domain.OrderStatusPaid, nil
	case PaymentFailed, PaymentExpired, PaymentCanceled, "deny", "cancel", "expire":
		return domain.OrderStatusCancelled, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPaymentStatus, s)
	}
}

type StatusUpdater interface {
	UpdateStatus(ctx context.Context, orderID string, to domain.OrderStatus) (*domain.Order, error)
}

type OrderReader interface {
	FindByID(ctx context.Context, id string) (*domain.Order, error)
}

// Service applies payment notifications to orders. Notifications are
// idempotent: one for an order already at or past its target is a no-op.
type Service struct {
	updater StatusUpdater
	orders  OrderReader
	log     *zap.Logger
}

const replanAttempts = 3

func NewService(updater StatusUpdater, orders OrderReader, log *zap.Logger) *Service {
	return &Service{updater: updater, orders: orders, log: log}
}

func (s *Service) HandleNotification(ctx context.Context, n Notification) (*domain.Order, error) {
	target, err := TargetStatus(n.Status)
	if err != nil {
		return nil, err
	}

	o, err := s.orders.FindByID(ctx, n.OrderID)
	if err != nil {
		return nil, err
	}

	// A lost race re-reads the order and plans again; the walk is at most
	// two edges long so a handful of rounds is plenty.
	var lost error
	for attempt := 0; ; attempt++ {
		path := PathTo(o.Status, target)
		if len(path) == 0 {
			if o.Status != target {
				s.log.Warn("payment notification ignored",
					zap.String("order_id", o.ID),
					zap.String("order_status", o.Status.String()),
					zap.String("payment_status", string(n.Status)),
					zap.String("reference", n.Reference))
			}
			return o, nil
		}
		if attempt == replanAttempts {
			break
		}

		for _, step := range path {
			o, err = s.updater.UpdateStatus(ctx, n.OrderID, step)
			if err != nil {
				break
			}
		}
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, domain.ErrInvalidTransition) {
			return nil, err
		}
		lost = err
		if o, err = s.orders.FindByID(ctx, n.OrderID); err != nil {
			return nil, err
		}
	}

	s.log.Warn("payment notification lost every race",
		zap.String("order_id", o.ID),
		zap.String("order_status", o.Status.String()),
		zap.String("target_status", target.String()),
		zap.Int("attempts", replanAttempts))
	return nil, lost
}

// PathTo returns the shortest list of statuses that walks from one status to
// another along legal edges, excluding from. It is empty when to is
// unreachable or equal to from.
func PathTo(from, to domain.OrderStatus) []domain.OrderStatus {
	if from == to {
		return nil
	}
	prev := map[domain.OrderStatus]domain.OrderStatus{from: ""}
	queue := []domain.OrderStatus{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range domain.AllowedTransitions(cur) {
			if _, seen := prev[next]; seen {
				continue
			}
			prev[next] = cur
			if next == to {
				var path []domain.OrderStatus
				for s := to; s != from; s = prev[s] {
					path = append([]domain.OrderStatus{s}, path...)
				}
				return path
			}
			queue = append(queue, next)
		}
	}
	return nil
}
