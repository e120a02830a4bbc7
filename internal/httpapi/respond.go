package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/payment"
	"github.com/fjod/storefront/internal/product"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// respondServiceError converts an engine error to an HTTP status and code.
// Anything unrecognised is logged and reported as a 500 without detail.
func respondServiceError(w http.ResponseWriter, log *zap.Logger, err error) {
	var (
		oos *domain.OutOfStockError
		ite *domain.InvalidTransitionError
	)

	switch {
	case errors.As(err, &oos):
		respondJSON(w, http.StatusConflict, ErrorResponse{
			Error:   fmt.Sprintf("%s is out of stock", oos.Name),
			Code:    "out_of_stock",
			Details: fmt.Sprintf("product_id=%s requested=%d available=%d", oos.ProductID, oos.Requested, oos.Available),
		})
	case errors.As(err, &ite):
		respondJSON(w, http.StatusConflict, ErrorResponse{
			Error:   fmt.Sprintf("cannot change order status from %s to %s", ite.From, ite.To),
			Code:    "invalid_transition",
			Details: fmt.Sprintf("from=%s to=%s", ite.From, ite.To),
		})
	case errors.Is(err, domain.ErrEmptyCart):
		respondError(w, http.StatusUnprocessableEntity, "empty_cart", "cart is empty")
	case errors.Is(err, domain.ErrProductInactive):
		respondError(w, http.StatusUnprocessableEntity, "product_inactive", err.Error())
	case errors.Is(err, domain.ErrProductNotFound):
		respondError(w, http.StatusNotFound, "product_not_found", "product not found")
	case errors.Is(err, domain.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, "order_not_found", "order not found")
	case errors.Is(err, domain.ErrCartItemNotFound):
		respondError(w, http.StatusNotFound, "cart_item_not_found", "cart item not found")
	case errors.Is(err, domain.ErrInvalidQuantity):
		respondError(w, http.StatusBadRequest, "invalid_quantity", err.Error())
	case errors.Is(err, domain.ErrInvalidShipping):
		respondError(w, http.StatusBadRequest, "invalid_shipping", err.Error())
	case errors.Is(err, domain.ErrUnknownStatus):
		respondError(w, http.StatusBadRequest, "invalid_status", err.Error())
	case errors.Is(err, product.ErrProductExists):
		respondError(w, http.StatusConflict, "already_exists", "product already exists")
	case errors.Is(err, payment.ErrUnknownPaymentStatus),
		errors.Is(err, payment.ErrMissingOrderID),
		errors.Is(err, payment.ErrInvalidSignature):
		respondError(w, http.StatusBadRequest, "invalid_notification", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		log.Error("request failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func parsePage(r *http.Request) (domain.PageRequest, error) {
	var req domain.PageRequest
	q := r.URL.Query()
	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return req, fmt.Errorf("page must be a positive integer")
		}
		if n > domain.MaxPage {
			return req, fmt.Errorf("page must not exceed %d", domain.MaxPage)
		}
		req.Page = n
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return req, fmt.Errorf("limit must be a positive integer")
		}
		req.Limit = n
	}
	return req.Normalize(), nil
}
