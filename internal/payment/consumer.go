package payment

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	DefaultNotificationTopic = "payments.notifications"
	DefaultGroupID           = "storefront"

	handleAttempts = 3
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type notificationHandler interface {
	HandleNotification(ctx context.Context, n Notification) (*domain.Order, error)
}

// Consumer applies payment notifications published by the payment processor
// to a Kafka topic. A message is committed once it has been applied, found
// unusable, or has failed handleAttempts times.
type Consumer struct {
	reader  messageReader
	handler notificationHandler
	log     *zap.Logger
	backoff time.Duration
}

func NewConsumer(brokers []string, topic, groupID string, handler notificationHandler, log *zap.Logger) *Consumer {
	if topic == "" {
		topic = DefaultNotificationTopic
	}
	if groupID == "" {
		groupID = DefaultGroupID
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
	return newConsumer(reader, handler, log)
}

func newConsumer(reader messageReader, handler notificationHandler, log *zap.Logger) *Consumer {
	return &Consumer{reader: reader, handler: handler, log: log, backoff: 500 * time.Millisecond}
}

func (c *Consumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.processMessage(ctx)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

func (c *Consumer) processMessage(ctx context.Context) {
	m, err := c.reader.FetchMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.log.Error("error reading payment notification", zap.Error(err))
		sleep(ctx, c.backoff)
		return
	}

	c.apply(ctx, m)

	if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		c.log.Error("failed to commit payment notification", zap.Int64("offset", m.Offset), zap.Error(err))
	}
}

func (c *Consumer) apply(ctx context.Context, m kafka.Message) {
	var n Notification
	if err := json.Unmarshal(m.Value, &n); err != nil || n.OrderID == "" {
		c.log.Warn("skipping malformed payment notification", zap.Int64("offset", m.Offset), zap.ByteString("key", m.Key))
		return
	}

	for attempt := 1; attempt <= handleAttempts; attempt++ {
		o, err := c.handler.HandleNotification(ctx, n)
		if err == nil {
			c.log.Info("payment notification applied",
				zap.String("order_id", o.ID),
				zap.String("status", o.Status.String()),
				zap.String("payment_status", string(n.Status)))
			return
		}
		if permanent(err) {
			c.log.Warn("payment notification rejected", zap.String("order_id", n.OrderID), zap.Error(err))
			return
		}
		c.log.Error("payment notification failed",
			zap.String("order_id", n.OrderID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if !sleep(ctx, c.backoff*time.Duration(attempt)) {
			return
		}
	}
}

func permanent(err error) bool {
	return errors.Is(err, ErrUnknownPaymentStatus) ||
		errors.Is(err, domain.ErrOrderNotFound) ||
		errors.Is(err, domain.ErrInvalidTransition)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
