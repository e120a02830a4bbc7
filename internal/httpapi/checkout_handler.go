package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"go.uber.org/zap"
)

type CheckoutService interface {
	Checkout(ctx context.Context, userID string, shipping domain.ShippingInfo) (*domain.Order, error)
}

type CheckoutHandler struct {
	checkout CheckoutService
	log      *zap.Logger
	timeout  time.Duration
}

func NewCheckoutHandler(checkout CheckoutService, log *zap.Logger, timeout time.Duration) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: checkout,
		log:      log,
		timeout:  timeout,
	}
}

type CheckoutRequestDTO struct {
	ShippingAddress string `json:"shipping_address"`
	Note            string `json:"note,omitempty"`
}

// POST /api/v1/checkout
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	var req CheckoutRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	o, err := h.checkout.Checkout(ctx, p.UserID, domain.ShippingInfo{
		Address: req.ShippingAddress,
		Note:    req.Note,
	})
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, o)
}
