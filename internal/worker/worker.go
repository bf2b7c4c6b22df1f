package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"runclub-milestones/internal/config"
	"runclub-milestones/internal/database"
	"runclub-milestones/internal/metrics"
	"runclub-milestones/internal/milestones"
	"runclub-milestones/internal/strava"
	"runclub-milestones/internal/tokens"
)

// runSportTypes are the activity sport types worth evaluating
var runSportTypes = map[string]bool{
	"Run":        true,
	"TrailRun":   true,
	"VirtualRun": true,
}

// Result holds the aggregate counts of one drain run
type Result struct {
	Processed int
	Failed    int
}

// Worker drains the queue in bounded, sequential, non-overlapping runs.
// Each item's row is the mutual-exclusion token for its activity: moving it
// to processing is the only coordination mechanism.
type Worker struct {
	db        *database.DB
	client    *strava.Client
	tokens    *tokens.Manager
	evaluator *milestones.Evaluator
	config    *config.Config
	logger    *slog.Logger

	// Serializes runs whether triggered by the cron endpoint or the
	// internal ticker
	runMu sync.Mutex
}

// NewWorker creates a new queue worker
func NewWorker(db *database.DB, client *strava.Client, tm *tokens.Manager, ev *milestones.Evaluator, cfg *config.Config) *Worker {
	return &Worker{
		db:        db,
		client:    client,
		tokens:    tm,
		evaluator: ev,
		config:    cfg,
		logger:    slog.Default(),
	}
}

// Start runs the internal scheduler. Only used when WORKER_INTERVAL is set;
// deployments with an external cron hit the trigger endpoint instead.
func (w *Worker) Start(ctx context.Context) error {
	ticker := time.NewTicker(w.config.WorkerInterval)
	defer ticker.Stop()

	w.logger.Info("Starting queue worker", "interval", w.config.WorkerInterval)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Stopping queue worker")
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.ProcessQueue(ctx); err != nil {
				w.logger.Error("Queue drain failed", "error", err)
			}
		}
	}
}

// ProcessQueue drains one bounded batch of pending items, oldest first,
// strictly sequentially. Per-item failures become queue status transitions
// and never abort the run; only a failure to read the queue is returned.
func (w *Worker) ProcessQueue(ctx context.Context) (Result, error) {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	runID := uuid.NewString()
	logger := w.logger.With("run_id", runID)
	start := time.Now()

	metrics.WorkerRunsTotal.Inc()
	metrics.WorkerActive.Set(1)
	defer func() {
		metrics.WorkerActive.Set(0)
		metrics.WorkerRunDuration.Observe(time.Since(start).Seconds())
	}()

	// Recover items stranded in processing by a crash
	if swept, err := w.db.SweepStaleProcessing(w.config.StaleProcessingAfter); err != nil {
		logger.Error("Failed to sweep stale processing items", "error", err)
	} else if swept > 0 {
		logger.Warn("Reset stale processing items", "count", swept)
	}

	items, err := w.db.SelectPending(w.config.QueueBatchSize)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read queue: %w", err)
	}

	var result Result
	for _, item := range items {
		if ctx.Err() != nil {
			logger.Warn("Run cancelled mid-batch", "remaining", len(items)-result.Processed-result.Failed)
			break
		}

		if w.processItem(ctx, logger, item) {
			result.Processed++
		} else {
			result.Failed++
		}
	}

	logger.Info("Queue drain complete",
		"selected", len(items),
		"processed", result.Processed,
		"failed", result.Failed,
		"duration_ms", time.Since(start).Milliseconds())

	return result, nil
}

// processItem runs one queue item through the pipeline and translates the
// outcome into a status transition. Returns false only for terminal failures.
func (w *Worker) processItem(ctx context.Context, logger *slog.Logger, item *database.QueueItem) bool {
	start := time.Now()
	logger = logger.With("item_id", item.ID, "activity_id", item.ActivityID, "athlete_id", item.AthleteID)

	// Claim before any external I/O; this also charges the attempt
	claimed, err := w.db.MarkProcessing(item.ID)
	if err != nil {
		logger.Error("Failed to claim item", "error", err)
		return false
	}
	if !claimed {
		logger.Warn("Item no longer pending, skipping")
		return true
	}
	attempts := item.Attempts + 1

	note, err := w.runPipeline(ctx, item)

	switch {
	case err == nil:
		if err := w.db.MarkCompleted(item.ID, note); err != nil {
			logger.Error("Failed to mark item completed", "error", err)
			return false
		}
		logger.Info("Item completed", "note", note, "attempts", attempts)
		w.observeItem(start, metrics.ResultSuccess)
		return true

	case strava.IsRateLimited(err):
		// External throttling, not a processing defect: release without
		// consuming retry budget and let a later run pick it up
		logger.Warn("Rate limited, releasing item", "error", err)
		if dbErr := w.db.ReleaseRateLimited(item.ID, err.Error()); dbErr != nil {
			logger.Error("Failed to release rate-limited item", "error", dbErr)
			return false
		}
		w.observeItem(start, metrics.ResultRateLimited)
		return true

	case errors.Is(err, tokens.ErrNotAuthorized), errors.Is(err, errMemberNotFound):
		// No retry can succeed until the member reconnects
		logger.Warn("Item failed terminally", "error", err, "attempts", attempts)
		if dbErr := w.db.MarkFailed(item.ID, err.Error()); dbErr != nil {
			logger.Error("Failed to mark item failed", "error", dbErr)
		}
		w.observeItem(start, metrics.ResultFailure)
		return false

	case attempts >= item.MaxAttempts:
		logger.Error("Item exhausted retries", "error", err, "attempts", attempts)
		if dbErr := w.db.MarkFailed(item.ID, err.Error()); dbErr != nil {
			logger.Error("Failed to mark item failed", "error", dbErr)
		}
		w.observeItem(start, metrics.ResultFailure)
		return false

	default:
		// Implicit backoff: the item waits for the next scheduled run
		logger.Warn("Item failed, will retry", "error", err, "attempts", attempts, "max_attempts", item.MaxAttempts)
		if dbErr := w.db.ReleaseForRetry(item.ID, err.Error()); dbErr != nil {
			logger.Error("Failed to release item for retry", "error", dbErr)
		}
		w.observeItem(start, metrics.ResultRetry)
		return true
	}
}

var errMemberNotFound = errors.New("no member for athlete")

// runPipeline performs the per-item work: member → token → activity →
// streams → evaluation. The returned note is recorded on completion.
func (w *Worker) runPipeline(ctx context.Context, item *database.QueueItem) (string, error) {
	member, err := w.db.GetMemberByAthleteID(item.AthleteID)
	if err != nil {
		return "", fmt.Errorf("failed to look up member: %w", err)
	}
	if member == nil {
		return "", fmt.Errorf("%w %d", errMemberNotFound, item.AthleteID)
	}

	accessToken, err := w.tokens.ValidToken(ctx, member)
	if err != nil {
		return "", fmt.Errorf("failed to obtain token: %w", err)
	}

	activity, err := w.client.GetActivity(ctx, item.ActivityID, accessToken)
	if err != nil {
		return "", fmt.Errorf("failed to fetch activity: %w", err)
	}

	// Legitimate skips complete with a note; they are not failures
	if !runSportTypes[activity.SportType] {
		return fmt.Sprintf("skipped: sport type %q is not a run", activity.SportType), nil
	}
	if activity.StartDate.Before(member.JoinedAt) {
		return "skipped: activity predates membership", nil
	}

	stream, err := w.client.GetActivityStreams(ctx, item.ActivityID, accessToken)
	if err != nil {
		return "", fmt.Errorf("failed to fetch streams: %w", err)
	}

	outcome, err := w.evaluator.Evaluate(member, activity, stream)
	if err != nil {
		return "", fmt.Errorf("failed to evaluate milestones: %w", err)
	}

	return outcome.Summary(), nil
}

func (w *Worker) observeItem(start time.Time, result string) {
	metrics.QueueItemsProcessedTotal.WithLabelValues(result).Inc()
	metrics.QueueProcessingDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
}
