package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/payment"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret-0123456789"

func token(t *testing.T, userID, role string) string {
	t.Helper()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

type CartMock struct {
	mu    sync.Mutex
	cart  *domain.Cart
	err   error
	calls []string
}

func (c *CartMock) record(call string) (*domain.Cart, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
	if c.err != nil {
		return nil, c.err
	}
	return c.cart, nil
}

func (c *CartMock) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	return c.record("get:" + userID)
}

func (c *CartMock) AddItem(ctx context.Context, userID, productID string, quantity int, size string) (*domain.Cart, error) {
	return c.record("add:" + userID + ":" + productID)
}

func (c *CartMock) SetQuantity(ctx context.Context, userID, itemID string, quantity int) (*domain.Cart, error) {
	return c.record("set:" + userID + ":" + itemID)
}

func (c *CartMock) RemoveItem(ctx context.Context, userID, itemID string) (*domain.Cart, error) {
	return c.record("remove:" + userID + ":" + itemID)
}

func (c *CartMock) Clear(ctx context.Context, userID string) (*domain.Cart, error) {
	return c.record("clear:" + userID)
}

type CheckoutMock struct {
	order *domain.Order
	err   error
}

func (c CheckoutMock) Checkout(ctx context.Context, userID string, shipping domain.ShippingInfo) (*domain.Order, error) {
	if err := shipping.Validate(); err != nil {
		return nil, err
	}
	return c.order, c.err
}

type OrdersMock struct {
	orders map[string]*domain.Order
	filter *domain.OrderStatus
}

func (m *OrdersMock) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o, nil
}

func (m *OrdersMock) ListByUser(ctx context.Context, userID string, page domain.PageRequest) (domain.Page[*domain.Order], error) {
	var out []*domain.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return domain.NewPage(out, len(out), page), nil
}

func (m *OrdersMock) ListAll(ctx context.Context, page domain.PageRequest, status *domain.OrderStatus) (domain.Page[*domain.Order], error) {
	m.filter = status
	var out []*domain.Order
	for _, o := range m.orders {
		out = append(out, o)
	}
	return domain.NewPage(out, len(out), page), nil
}

type StatusMock struct {
	err error
}

func (s StatusMock) UpdateStatus(ctx context.Context, orderID string, to domain.OrderStatus) (*domain.Order, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &domain.Order{ID: orderID, Status: to}, nil
}

func (s StatusMock) CancelForUser(ctx context.Context, userID, orderID string) (*domain.Order, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &domain.Order{ID: orderID, UserID: userID, Status: domain.OrderStatusCancelled}, nil
}

type PaymentsMock struct {
	got payment.Notification
	err error
}

func (p *PaymentsMock) HandleNotification(ctx context.Context, n payment.Notification) (*domain.Order, error) {
	p.got = n
	if p.err != nil {
		return nil, p.err
	}
	return &domain.Order{ID: n.OrderID, Status: domain.OrderStatusPaid}, nil
}

type WebhookMock struct {
	n   payment.Notification
	err error
}

func (m WebhookMock) Parse(payload []byte, signature string) (payment.Notification, error) {
	return m.n, m.err
}

type testServer struct {
	handler  http.Handler
	cart     *CartMock
	orders   *OrdersMock
	payments *PaymentsMock
}

func newTestServer(t *testing.T, checkout CheckoutMock, status StatusMock, webhook WebhookMock) *testServer {
	log := zap.NewNop()
	cart := &CartMock{cart: &domain.Cart{ID: "c-1", UserID: "alice", Items: []domain.CartItem{
		{ID: "i-1", ProductID: "p-1", Quantity: 2, UnitPrice: decimal.NewFromInt(100)},
	}}}
	orders := &OrdersMock{orders: map[string]*domain.Order{
		"o-alice": {ID: "o-alice", UserID: "alice", Status: domain.OrderStatusPending},
		"o-bob":   {ID: "o-bob", UserID: "bob", Status: domain.OrderStatusPending},
	}}
	payments := &PaymentsMock{}

	h := NewRouter(RouterConfig{
		Auth:              NewAuthenticator(testSecret, ""),
		RequestTimeout:    5 * time.Second,
		MaxBodyBytes:      1 << 20,
		NotificationToken: "notify-token",
		StripeEnabled:     true,
	}, Handlers{
		Cart:     NewCartHandler(cart, log, 5*time.Second),
		Checkout: NewCheckoutHandler(checkout, log, 5*time.Second),
		Orders:   NewOrdersHandler(orders, status, log, 5*time.Second),
		Products: NewProductHandler(nil, nil, log, 5*time.Second),
		Payments: NewPaymentHandler(payments, webhook, log, 5*time.Second, 1<<20),
	})
	return &testServer{handler: h, cart: cart, orders: orders, payments: payments}
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestAuth_RejectsMissingAndBadTokens(t *testing.T) {
	s := newTestServer(t, CheckoutMock{}, StatusMock{}, WebhookMock{})

	rec := s.do(t, http.MethodGet, "/api/v1/cart", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/cart", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	wrong, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}).SignedString([]byte("another-secret-entirely"))
	require.NoError(t, err)
	rec = s.do(t, http.MethodGet, "/api/v1/cart", wrong, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	rec = s.do(t, http.MethodGet, "/api/v1/cart", expired, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Empty(t, s.cart.calls)
}

func TestGetCart_Success(t *testing.T) {
	s := newTestServer(t, CheckoutMock{}, StatusMock{}, WebhookMock{})

	rec := s.do(t, http.MethodGet, "/api/v1/cart", token(t, "alice", ""), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		ID     string `json:"id"`
		Totals struct {
			Subtotal  decimal.Decimal `json:"subtotal"`
			ItemCount int             `json:"item_count"`
		} `json:"totals"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "c-1", resp.ID)
	assert.True(t, decimal.NewFromInt(200).Equal(resp.Totals.Subtotal))
	assert.Equal(t, 2, resp.Totals.ItemCount)
	assert.Equal(t, []string{"get:alice"}, s.cart.calls)
}

func TestAddItem_Validation(t *testing.T) {
	s := newTestServer(t, CheckoutMock{}, StatusMock{}, WebhookMock{})
	bearer := token(t, "alice", "")

	tests := []struct {
		name string
		body any
		code string
	}{
		{"missing product", AddItemRequestDTO{Quantity: 1}, "invalid_product_id"},
		{"zero quantity", AddItemRequestDTO{ProductID: "p-1", Quantity: 0}, "invalid_quantity"},
		{"too many", AddItemRequestDTO{ProductID: "p-1", Quantity: 1000}, "invalid_quantity"},
		{"unknown field", map[string]any{"product_id": "p-1", "quantity": 1, "price": 1}, "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/v1/cart/items", bearer, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}
	assert.Empty(t, s.cart.calls)

	rec := s.do(t, http.MethodPost, "/api/v1/cart/items", bearer, AddItemRequestDTO{ProductID: "p-1", Quantity: 2, Size: "M"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []string{"add:alice:p-1"}, s.cart.calls)
}

func TestCartMutations_RouteToService(t *testing.T) {
	s := newTestServer(t, CheckoutMock{}, StatusMock{}, WebhookMock{})
	bearer := token(t, "alice", "")

	rec := s.do(t, http.MethodPatch, "/api/v1/cart/items/i-1", bearer, map[string]int{"quantity": 0})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPatch, "/api/v1/cart/items/i-1", bearer, map[string]int{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/v1/cart/items/i-1", bearer, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/v1/cart", bearer, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []string{"set:alice:i-1", "remove:alice:i-1", "clear:alice"}, s.cart.calls)
}

func TestCartItemNotFound(t *testing.T) {
	s := newTestServer(t, CheckoutMock{}, StatusMock{}, WebhookMock{})
	s.cart.err = domain.ErrCartItemNotFound

	rec := s.do(t, http.MethodDelete, "/api/v1/cart/items/elsewhere", token(t, "alice", ""), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "cart_item_not_found", decodeError(t, rec).Code)
}

func TestCheckout_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"empty cart", domain.ErrEmptyCart, http.StatusUnprocessableEntity, "empty_cart"},
		{"out of stock", &domain.OutOfStockError{ProductID: "p-1", Name: "Keris", Requested: 2, Available: 1}, http.StatusConflict, "out_of_stock"},
		{"inactive", domain.ErrProductInactive, http.StatusUnprocessableEntity, "product_inactive"},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
		{"unexpected", errors.New("disk on fire"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, CheckoutMock{err: tt.err}, StatusMock{}, WebhookMock{})
			rec := s.do(t, http.MethodPost, "/api/v1/checkout", token(t, "alice", ""),
				CheckoutRequestDTO{ShippingAddress: "Jl. Asia Afrika 8, Bandung"})
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}
}

func TestCheckout_OutOfStockNamesProduct(t *testing.T) {
	s := newTestServer(t, CheckoutMock{err: &domain.OutOfStockError{ProductID: "p-9", Name: "Keris", Requested: 2, Available: 1}}, StatusMock{}, WebhookMock{})

	rec := s.do(t, http.MethodPost, "/api/v1/checkout", token(t, "alice", ""),
		CheckoutRequestDTO{ShippingAddress: "Jl. Asia Afrika 8, Bandung"})
	resp := decodeError(t, rec)
	assert.Contains(t, resp.Error, "Keris")
	assert.Contains(t, resp.Details, "product_id=p-9")
}

func TestCheckout_Created(t *testing.T) {
	o := &domain.Order{ID: "o-1", OrderNumber: "ORD-1-ABCDEFG", Status: domain.OrderStatusPending, TotalAmount: decimal.NewFromInt(250)}
	s := newTestServer(t, CheckoutMock{order: o}, StatusMock{}, WebhookMock{})

	rec := s.do(t, http.MethodPost, "/api/v1/checkout", token(t, "alice", ""),
		CheckoutRequestDTO{ShippingAddress: "short"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_shipping", decodeError(t, rec).Code)

	rec = s.do(t, http.MethodPost, "/api/v1/checkout", token(t, "alice", ""),
		CheckoutRequestDTO{ShippingAddress: "Jl. Asia Afrika 8, Bandung"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var got domain.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "ORD-1-ABCDEFG", got.OrderNumber)
	assert.Equal(t, domain.OrderStatusPending, got.Status)
}

func TestGetOrder_Ownership(t *testing.T) {
	s := newTestServer(t, CheckoutMock{}, StatusMock{}, WebhookMock{})

	rec := s.do(t, http.MethodGet, "/api/v1/orders/o-alice", token(t, "alice", ""), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/orders/o-bob", token(t, "alice", ""), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/orders/o-bob", token(t, "root", RoleAdmin), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/orders/missing", token(t, "root", RoleAdmin), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListOrders_Scopes(t *testing.T) {
	s := newTestServer(t, CheckoutMock{}, StatusMock{}, WebhookMock{})

	rec := s.do(t, http.MethodGet, "/api/v1/orders", token(t, "alice", ""), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page domain.Page[*domain.Order]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, domain.DefaultLimit, page.Limit)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "o-alice", page.Items[0].ID)

	rec = s.do(t, http.MethodGet, "/api/v1/orders?scope=all", token(t, "alice", ""), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/orders?scope=all&status=pending&limit=500", token(t, "root", RoleAdmin), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, domain.MaxLimit, page.Limit)
	require.NotNil(t, s.orders.filter)
	assert.Equal(t, domain.OrderStatusPending, *s.orders.filter)

	rec = s.do(t, http.MethodGet, "/api/v1/orders?scope=all&status=LOST", token(t, "root", RoleAdmin), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/orders?page=zero", token(t, "alice", ""), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/orders?page=461168601842738792", token(t, "alice", ""), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/orders?scope=everyone", token(t, "alice", ""), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateStatus_AdminOnly(t *testing.T) {
	s := newTestServer(t, CheckoutMock{}, StatusMock{}, WebhookMock{})

	rec := s.do(t, http.MethodPatch, "/api/v1/orders/o-alice", token(t, "alice", ""), UpdateStatusRequestDTO{Status: "PROCESSING"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPatch, "/api/v1/orders/o-alice", token(t, "root", RoleAdmin), UpdateStatusRequestDTO{Status: "processing"})
	require.Equal(t, http.StatusOK, rec.Code)
	var o domain.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &o))
	assert.Equal(t, domain.OrderStatusProcessing, o.Status)

	rec = s.do(t, http.MethodPatch, "/api/v1/orders/o-alice", token(t, "root", RoleAdmin), UpdateStatusRequestDTO{Status: "LOST"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_status", decodeError(t, rec).Code)
}

func TestUpdateStatus_InvalidTransition(t *testing.T) {
	s := newTestServer(t, CheckoutMock{}, StatusMock{err: &domain.InvalidTransitionError{
		From: domain.OrderStatusPending,
		To:   domain.OrderStatusShipped,
	}}, WebhookMock{})

	rec := s.do(t, http.MethodPatch, "/api/v1/orders/o-alice", token(t, "root", RoleAdmin), UpdateStatusRequestDTO{Status: "SHIPPED"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "invalid_transition", resp.Code)
	assert.Equal(t, "from=PENDING to=SHIPPED", resp.Details)
}

func TestCancelOrder(t *testing.T) {
	s := newTestServer(t, CheckoutMock{}, StatusMock{}, WebhookMock{})

	rec := s.do(t, http.MethodPost, "/api/v1/orders/o-alice/cancel", token(t, "alice", ""), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var o domain.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &o))
	assert.Equal(t, domain.OrderStatusCancelled, o.Status)

	s = newTestServer(t, CheckoutMock{}, StatusMock{err: domain.ErrOrderNotFound}, WebhookMock{})
	rec = s.do(t, http.MethodPost, "/api/v1/orders/o-bob/cancel", token(t, "alice", ""), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPaymentNotification(t *testing.T) {
	s := newTestServer(t, CheckoutMock{}, StatusMock{}, WebhookMock{})
	body := payment.Notification{OrderID: "o-alice", Status: payment.PaymentSucceeded}

	rec := s.do(t, http.MethodPost, "/api/v1/payments/notifications", "", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/payments/notifications", "wrong-token", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/payments/notifications", "notify-token", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, body, s.payments.got)

	var resp NotificationResponseDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "PAID", resp.Status)

	s.payments.err = payment.ErrUnknownPaymentStatus
	rec = s.do(t, http.MethodPost, "/api/v1/payments/notifications", "notify-token", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStripeWebhook(t *testing.T) {
	n := payment.Notification{OrderID: "o-alice", Status: payment.PaymentSucceeded, Reference: "pi_1"}
	s := newTestServer(t, CheckoutMock{}, StatusMock{}, WebhookMock{n: n})

	rec := s.do(t, http.MethodPost, "/api/v1/payments/stripe/webhook", "", map[string]string{"type": "payment_intent.succeeded"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, n, s.payments.got)

	s = newTestServer(t, CheckoutMock{}, StatusMock{}, WebhookMock{err: payment.ErrEventIgnored})
	rec = s.do(t, http.MethodPost, "/api/v1/payments/stripe/webhook", "", map[string]string{"type": "charge.refunded"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, s.payments.got.OrderID)

	s = newTestServer(t, CheckoutMock{}, StatusMock{}, WebhookMock{err: payment.ErrInvalidSignature})
	rec = s.do(t, http.MethodPost, "/api/v1/payments/stripe/webhook", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, CheckoutMock{}, StatusMock{}, WebhookMock{})
	rec := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
