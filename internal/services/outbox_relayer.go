package services

import (
	"context"
	"time"

	"github.com/cosplatform/eventcore/internal/messaging"
	"github.com/cosplatform/eventcore/internal/metrics"
	"github.com/cosplatform/eventcore/internal/repositories"
	"github.com/cosplatform/eventcore/pkg/logger"
)

const defaultOutboxMaxRetry = 10

// OutboxRelayer drains activity_outbox rows to a Publisher. Delivery is at
// least once; consumers dedupe on the activity id in the payload.
type OutboxRelayer struct {
	repo      *repositories.ActivityRepository
	publisher messaging.Publisher
	metrics   *metrics.Metrics

	batch    int
	interval time.Duration
	maxRetry int
	now      func() time.Time
}

func NewOutboxRelayer(repo *repositories.ActivityRepository, publisher messaging.Publisher, m *metrics.Metrics, batch int, interval time.Duration) *OutboxRelayer {
	if batch <= 0 {
		batch = 200
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &OutboxRelayer{
		repo:      repo,
		publisher: publisher,
		metrics:   m,
		batch:     batch,
		interval:  interval,
		maxRetry:  defaultOutboxMaxRetry,
		now:       time.Now,
	}
}

// Run drains the outbox every interval until ctx is done.
func (r *OutboxRelayer) Run(ctx context.Context) {
	logger.Info("Outbox relayer started", "batch", r.batch, "interval", r.interval)
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Outbox relayer stopped")
			return
		case <-t.C:
			if _, err := r.DrainOnce(ctx); err != nil && ctx.Err() == nil {
				logger.Error("Outbox drain failed", "error", err)
			}
		}
	}
}

// DrainOnce publishes one batch in id order and returns how many rows were
// sent. A failed row is marked for retry and does not stop the batch.
func (r *OutboxRelayer) DrainOnce(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { r.metrics.ObserveDrain(time.Since(start)) }()

	rows, err := r.repo.ListOutbox(ctx, r.batch, r.maxRetry)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, row := range rows {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		if err := r.publisher.Publish(ctx, row.Key, row.Payload); err != nil {
			r.metrics.Relay("failed")
			logger.Warn("Outbox publish failed", "outbox_id", row.ID, "activity_id", row.ActivityID, "retry", row.Retry, "error", err)
			if markErr := r.repo.MarkOutboxFailed(ctx, row.ID, truncateError(err.Error())); markErr != nil {
				return sent, markErr
			}
			continue
		}
		if err := r.repo.MarkOutboxSent(ctx, row.ID, r.now()); err != nil {
			return sent, err
		}
		r.metrics.Relay("sent")
		sent++
	}

	if sent > 0 {
		logger.Debug("Outbox drained", "sent", sent, "batch", len(rows))
	}
	return sent, nil
}

func truncateError(s string) string {
	if len(s) > 500 {
		return s[:500]
	}
	return s
}
