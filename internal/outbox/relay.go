package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Store interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*Event, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
}

type Publisher interface {
	Publish(ctx context.Context, event *Event) error
}

// Relay polls the outbox and hands unpublished events to a Publisher. An
// event is marked processed only after a successful publish, so delivery is
// at least once.
type Relay struct {
	store     Store
	publisher Publisher
	log       *zap.Logger
	interval  time.Duration
	batchSize int
}

func NewRelay(store Store, publisher Publisher, log *zap.Logger, interval time.Duration, batchSize int) *Relay {
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{store: store, publisher: publisher, log: log, interval: interval, batchSize: batchSize}
}

// Run blocks until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.ProcessBatch(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// ProcessBatch publishes one batch and returns how many events were marked.
func (r *Relay) ProcessBatch(ctx context.Context) int {
	events, err := r.store.GetUnprocessedEvents(ctx, r.batchSize)
	if err != nil {
		r.log.Error("failed to fetch outbox events", zap.Error(err))
		return 0
	}

	published := 0
	for _, event := range events {
		if err := r.publisher.Publish(ctx, event); err != nil {
			r.log.Warn("failed to publish outbox event",
				zap.Int64("event_id", event.ID),
				zap.String("event_type", event.EventType),
				zap.Error(err))
			// keep per-aggregate order: stop at the first failure
			return published
		}

		if err := r.store.MarkEventAsProcessed(ctx, event.ID); err != nil {
			r.log.Error("failed to mark outbox event as processed", zap.Int64("event_id", event.ID), zap.Error(err))
			return published
		}
		published++
	}
	return published
}
