package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Handlers struct {
	Cart     *CartHandler
	Checkout *CheckoutHandler
	Orders   *OrdersHandler
	Products *ProductHandler
	// Payments may be nil; its routes are mounted only when present.
	Payments *PaymentHandler
}

type RouterConfig struct {
	Auth              *Authenticator
	RequestTimeout    time.Duration
	MaxBodyBytes      int64
	NotificationToken string
	StripeEnabled     bool
}

func NewRouter(cfg RouterConfig, h Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	if cfg.MaxBodyBytes > 0 {
		r.Use(middleware.RequestSize(cfg.MaxBodyBytes))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/products", h.Products.ListProducts)
		r.Get("/products/{product_id}", h.Products.GetProduct)

		if h.Payments != nil {
			if cfg.NotificationToken != "" {
				r.With(RequireToken(cfg.NotificationToken)).Post("/payments/notifications", h.Payments.Notify)
			}
			if cfg.StripeEnabled {
				// authenticated by the Stripe-Signature header
				r.Post("/payments/stripe/webhook", h.Payments.StripeWebhook)
			}
		}

		r.Group(func(r chi.Router) {
			r.Use(cfg.Auth.Middleware)

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", h.Cart.GetCart)
				r.Delete("/", h.Cart.ClearCart)
				r.Post("/items", h.Cart.AddItem)
				r.Patch("/items/{item_id}", h.Cart.UpdateQuantity)
				r.Delete("/items/{item_id}", h.Cart.RemoveItem)
			})

			r.Post("/checkout", h.Checkout.Checkout)

			r.Route("/orders", func(r chi.Router) {
				r.Get("/", h.Orders.ListOrders)
				r.Get("/{order_id}", h.Orders.GetOrder)
				r.Post("/{order_id}/cancel", h.Orders.CancelOrder)
				r.With(RequireAdmin).Patch("/{order_id}", h.Orders.UpdateStatus)
			})

			r.Route("/admin/products", func(r chi.Router) {
				r.Use(RequireAdmin)
				r.Post("/", h.Products.CreateProduct)
				r.Post("/{product_id}/restock", h.Products.Restock)
				r.Patch("/{product_id}", h.Products.SetActive)
			})
		})
	})

	return r
}
