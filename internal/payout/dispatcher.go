package payout

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/hotel-refunds/internal/models"
	"github.com/example/hotel-refunds/internal/store"
)

// Dispatcher drains the outbox into a Publisher.
type Dispatcher struct {
	store     store.Store
	publisher Publisher
	logger    *slog.Logger
	batchSize int
	interval  time.Duration
	now       func() time.Time
}

// NewDispatcher polls every interval and publishes up to batchSize events per round.
func NewDispatcher(st store.Store, publisher Publisher, batchSize int, interval time.Duration, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Dispatcher{
		store:     st,
		publisher: publisher,
		logger:    logger,
		batchSize: batchSize,
		interval:  interval,
		now:       time.Now,
	}
}

// Run dispatches until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		if _, err := d.DispatchOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("outbox_dispatch_failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// DispatchOnce publishes one batch of pending events, oldest first. A failed
// publish is recorded on the event and the event stays pending; the rest of
// the batch is still attempted. It returns the number of events delivered.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	var pending []*models.OutboxEvent
	err := d.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		pending, err = tx.Outbox().Pending(ctx, d.batchSize)
		return err
	})
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, e := range pending {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		pubErr := d.publisher.Publish(ctx, e)
		err := d.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			if pubErr != nil {
				return tx.Outbox().MarkFailed(ctx, e.ID, pubErr.Error())
			}
			return tx.Outbox().MarkDispatched(ctx, e.ID, d.now().UTC().Truncate(time.Microsecond))
		})
		if err != nil {
			return delivered, err
		}
		if pubErr != nil {
			d.logger.Warn("payout_event_failed", "event_id", e.ID, "attempts", e.Attempts+1, "error", pubErr)
			continue
		}
		delivered++
		d.logger.Info("payout_event_dispatched", "event_id", e.ID, "refund_request_id", e.AggregateID)
	}
	return delivered, nil
}
