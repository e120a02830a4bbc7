package payment

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrEventIgnored     = errors.New("webhook event not handled")
	ErrMissingOrderID   = errors.New("payment intent has no order_id metadata")
)

// StripeWebhook turns signed Stripe webhook deliveries into notifications.
type StripeWebhook struct {
	secret string
}

func NewStripeWebhook(secret string) *StripeWebhook {
	return &StripeWebhook{secret: secret}
}

func (w *StripeWebhook) Parse(payload []byte, signature string) (Notification, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, w.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	var status ProviderStatus
	switch string(event.Type) {
	case "payment_intent.processing":
		status = PaymentPending
	case "payment_intent.succeeded":
		status = PaymentSucceeded
	case "payment_intent.payment_failed":
		status = PaymentFailed
	case "payment_intent.canceled":
		status = PaymentCanceled
	default:
		return Notification{}, fmt.Errorf("%w: %s", ErrEventIgnored, event.Type)
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return Notification{}, fmt.Errorf("decode payment intent: %w", err)
	}
	orderID := intent.Metadata["order_id"]
	if orderID == "" {
		return Notification{}, ErrMissingOrderID
	}

	return Notification{OrderID: orderID, Status: status, Reference: intent.ID}, nil
}
