package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/payment"
	"go.uber.org/zap"
)

type NotificationHandler interface {
	HandleNotification(ctx context.Context, n payment.Notification) (*domain.Order, error)
}

type WebhookParser interface {
	Parse(payload []byte, signature string) (payment.Notification, error)
}

type PaymentHandler struct {
	payments NotificationHandler
	stripe   WebhookParser
	log      *zap.Logger
	timeout  time.Duration
	maxBody  int64
}

func NewPaymentHandler(payments NotificationHandler, stripe WebhookParser, log *zap.Logger, timeout time.Duration, maxBody int64) *PaymentHandler {
	return &PaymentHandler{
		payments: payments,
		stripe:   stripe,
		log:      log,
		timeout:  timeout,
		maxBody:  maxBody,
	}
}

type NotificationResponseDTO struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// POST /api/v1/payments/notifications
func (h *PaymentHandler) Notify(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var n payment.Notification
	if err := decodeJSON(r, &n); err != nil || n.OrderID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "order_id and status are required")
		return
	}
	h.apply(ctx, w, n)
}

// POST /api/v1/payments/stripe/webhook
func (h *PaymentHandler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	payload, err := io.ReadAll(io.LimitReader(r.Body, h.maxBody))
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "read_failed", "failed to read request body")
		return
	}

	n, err := h.stripe.Parse(payload, r.Header.Get("Stripe-Signature"))
	if errors.Is(err, payment.ErrEventIgnored) {
		respondJSON(w, http.StatusOK, map[string]string{"message": "event type not handled"})
		return
	}
	if err != nil {
		h.log.Warn("stripe webhook rejected", zap.Error(err))
		respondServiceError(w, h.log, err)
		return
	}
	h.apply(ctx, w, n)
}

func (h *PaymentHandler) apply(ctx context.Context, w http.ResponseWriter, n payment.Notification) {
	o, err := h.payments.HandleNotification(ctx, n)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, NotificationResponseDTO{OrderID: o.ID, Status: o.Status.String()})
}
