package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type ProductStore interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]*domain.Product, error)
	Create(ctx context.Context, p *domain.Product) error
	SetActive(ctx context.Context, id string, active bool) error
}

type Restocker interface {
	Restore(ctx context.Context, productID string, quantity int) error
}

type ProductHandler struct {
	products ProductStore
	stock    Restocker
	log      *zap.Logger
	timeout  time.Duration
}

func NewProductHandler(products ProductStore, stock Restocker, log *zap.Logger, timeout time.Duration) *ProductHandler {
	return &ProductHandler{
		products: products,
		stock:    stock,
		log:      log,
		timeout:  timeout,
	}
}

type CreateProductRequestDTO struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Stock    int             `json:"stock"`
	IsActive *bool           `json:"is_active,omitempty"`
}

type RestockRequestDTO struct {
	Quantity int `json:"quantity"`
}

type SetActiveRequestDTO struct {
	IsActive *bool `json:"is_active"`
}

// GET /api/v1/products
func (h *ProductHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	products, err := h.products.ListProducts(ctx)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	if products == nil {
		products = []*domain.Product{}
	}
	respondJSON(w, http.StatusOK, products)
}

// GET /api/v1/products/{product_id}
func (h *ProductHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	p, err := h.products.GetProduct(ctx, chi.URLParam(r, "product_id"))
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// POST /api/v1/admin/products
func (h *ProductHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req CreateProductRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondError(w, http.StatusBadRequest, "invalid_name", "name is required")
		return
	}
	if !req.Price.IsPositive() {
		respondError(w, http.StatusBadRequest, "invalid_price", "price must be positive")
		return
	}
	if req.Stock < 0 {
		respondError(w, http.StatusBadRequest, "invalid_stock", "stock must not be negative")
		return
	}

	p := &domain.Product{
		Name:     strings.TrimSpace(req.Name),
		Price:    req.Price.Round(2),
		Stock:    req.Stock,
		IsActive: req.IsActive == nil || *req.IsActive,
	}
	if err := h.products.Create(ctx, p); err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

// POST /api/v1/admin/products/{product_id}/restock
func (h *ProductHandler) Restock(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req RestockRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	id := chi.URLParam(r, "product_id")
	if err := h.stock.Restore(ctx, id, req.Quantity); err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	h.log.Info("product restocked", zap.String("product_id", id), zap.Int("quantity", req.Quantity))

	p, err := h.products.GetProduct(ctx, id)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// PATCH /api/v1/admin/products/{product_id}
func (h *ProductHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req SetActiveRequestDTO
	if err := decodeJSON(r, &req); err != nil || req.IsActive == nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "is_active is required")
		return
	}

	id := chi.URLParam(r, "product_id")
	if err := h.products.SetActive(ctx, id, *req.IsActive); err != nil {
		respondServiceError(w, h.log, err)
		return
	}

	p, err := h.products.GetProduct(ctx, id)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}
