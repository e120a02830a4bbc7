package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type OrderReader interface {
	FindByID(ctx context.Context, id string) (*domain.Order, error)
	ListByUser(ctx context.Context, userID string, page domain.PageRequest) (domain.Page[*domain.Order], error)
	ListAll(ctx context.Context, page domain.PageRequest, status *domain.OrderStatus) (domain.Page[*domain.Order], error)
}

type StatusManager interface {
	UpdateStatus(ctx context.Context, orderID string, to domain.OrderStatus) (*domain.Order, error)
	CancelForUser(ctx context.Context, userID, orderID string) (*domain.Order, error)
}

type OrdersHandler struct {
	orders  OrderReader
	status  StatusManager
	log     *zap.Logger
	timeout time.Duration
}

func NewOrdersHandler(orders OrderReader, status StatusManager, log *zap.Logger, timeout time.Duration) *OrdersHandler {
	return &OrdersHandler{
		orders:  orders,
		status:  status,
		log:     log,
		timeout: timeout,
	}
}

type UpdateStatusRequestDTO struct {
	Status string `json:"status"`
}

// GET /api/v1/orders?scope=mine|all&page=&limit=&status=
//
// scope=all needs the admin role; the status filter applies to it only.
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	page, err := parsePage(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_pagination", err.Error())
		return
	}

	var result domain.Page[*domain.Order]
	switch r.URL.Query().Get("scope") {
	case "", "mine":
		result, err = h.orders.ListByUser(ctx, p.UserID, page)
	case "all":
		if !p.IsAdmin() {
			respondError(w, http.StatusForbidden, "permission_denied", "admin role required")
			return
		}
		var filter *domain.OrderStatus
		if raw := r.URL.Query().Get("status"); raw != "" {
			s, errParse := domain.ParseOrderStatus(raw)
			if errParse != nil {
				respondServiceError(w, h.log, errParse)
				return
			}
			filter = &s
		}
		result, err = h.orders.ListAll(ctx, page, filter)
	default:
		respondError(w, http.StatusBadRequest, "invalid_scope", "scope must be mine or all")
		return
	}
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// GET /api/v1/orders/{order_id}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	o, err := h.orders.FindByID(ctx, chi.URLParam(r, "order_id"))
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	// other users' orders do not exist as far as the caller can tell
	if o.UserID != p.UserID && !p.IsAdmin() {
		respondServiceError(w, h.log, domain.ErrOrderNotFound)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

// PATCH /api/v1/orders/{order_id}
func (h *OrdersHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req UpdateStatusRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	to, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}

	o, err := h.status.UpdateStatus(ctx, chi.URLParam(r, "order_id"), to)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

// POST /api/v1/orders/{order_id}/cancel
func (h *OrdersHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	o, err := h.status.CancelForUser(ctx, p.UserID, chi.URLParam(r, "order_id"))
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}
