package metrics

import (
	"context"
	"log/slog"
	"time"
)

// DB is the queue depth query surface the collector needs
type DB interface {
	CountQueueItemsByStatus(status string) (int, error)
}

// StartQueueDepthCollector starts a background goroutine that periodically
// collects queue depth metrics from the database
func StartQueueDepthCollector(ctx context.Context, db DB, interval time.Duration) {
	logger := slog.Default()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Collect once immediately
	collectQueueDepths(db, logger)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Queue depth collector stopping")
			return
		case <-ticker.C:
			collectQueueDepths(db, logger)
		}
	}
}

func collectQueueDepths(db DB, logger *slog.Logger) {
	for _, status := range []string{StatusPending, StatusProcessing, StatusCompleted, StatusFailed} {
		count, err := db.CountQueueItemsByStatus(status)
		if err != nil {
			logger.Error("Failed to count queue items", "status", status, "error", err)
			continue
		}
		QueueDepth.WithLabelValues(status).Set(float64(count))
	}
}
