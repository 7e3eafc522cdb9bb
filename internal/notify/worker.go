package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/bulk-logistics/internal/models"
	"github.com/example/bulk-logistics/internal/observability"
	"github.com/example/bulk-logistics/internal/storage"
)

// Queue is the slice of the store the worker drains.
type Queue interface {
	EnqueueNotification(ctx context.Context, n models.LogisticsNotification) error
	PendingNotifications(ctx context.Context, limit int) ([]storage.QueuedNotification, error)
	MarkNotificationSent(ctx context.Context, id int64) error
	MarkNotificationFailed(ctx context.Context, id int64, reason string) error
}

// Worker drains the durable notification queue in the background.
// Failed deliveries are rescheduled by the store with exponential
// backoff and picked up again once due, until the attempt budget
// runs out.
type Worker struct {
	Queue     Queue
	Notifier  Notifier
	Logger    *slog.Logger
	Interval  time.Duration
	BatchSize int
}

func NewWorker(queue Queue, notifier Notifier, logger *slog.Logger) *Worker {
	return &Worker{
		Queue:     queue,
		Notifier:  notifier,
		Logger:    logger,
		Interval:  5 * time.Second,
		BatchSize: 50,
	}
}

// Run sweeps until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep delivers one batch of pending notifications.
func (w *Worker) Sweep(ctx context.Context) {
	pending, err := w.Queue.PendingNotifications(ctx, w.BatchSize)
	if err != nil {
		w.Logger.Error("load pending notifications", "error", err)
		return
	}
	for _, q := range pending {
		if err := w.Notifier.Send(ctx, q.Payload); err != nil {
			observability.NotificationsFailed.Inc()
			w.Logger.Warn("notification delivery failed",
				"id", q.ID, "attempts", q.Attempts+1, "error", err)
			if err := w.Queue.MarkNotificationFailed(ctx, q.ID, err.Error()); err != nil {
				w.Logger.Error("mark notification failed", "id", q.ID, "error", err)
			}
			continue
		}
		observability.NotificationsSent.Inc()
		if err := w.Queue.MarkNotificationSent(ctx, q.ID); err != nil {
			w.Logger.Error("mark notification sent", "id", q.ID, "error", err)
		}
	}
}
