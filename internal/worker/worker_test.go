package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"runclub-milestones/internal/config"
	"runclub-milestones/internal/database"
	"runclub-milestones/internal/milestones"
	"runclub-milestones/internal/secretbox"
	"runclub-milestones/internal/strava"
	"runclub-milestones/internal/tokens"
)

type workerTest struct {
	db     *database.DB
	worker *Worker
	member *database.Member
}

func setupWorkerTest(t *testing.T, handler http.Handler) *workerTest {
	t.Helper()

	db, err := database.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	box, err := secretbox.New(bytes.Repeat([]byte{0x42}, 32))
	if err != nil {
		t.Fatalf("Failed to create box: %v", err)
	}

	client := strava.NewClient("id", "secret")
	if handler != nil {
		server := httptest.NewServer(handler)
		t.Cleanup(server.Close)
		client.SetBaseURL(server.URL)
	}

	cfg := &config.Config{
		QueueBatchSize:       10,
		StaleProcessingAfter: 15 * time.Minute,
		SeasonTimezone:       time.UTC,
	}

	tm := tokens.NewManager(db, client, box)
	ev := milestones.NewEvaluator(db, time.UTC)
	w := NewWorker(db, client, tm, ev, cfg)

	encAccess, err := box.Encrypt("access-token")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	encRefresh, err := box.Encrypt("refresh-token")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	member, err := db.UpsertMember(42, encAccess, encRefresh, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Failed to upsert member: %v", err)
	}

	return &workerTest{db: db, worker: w, member: member}
}

// stravaStub serves one activity and its time/distance streams
func stravaStub(sport string, start time.Time, times, distances []float64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/streams") {
			json.NewEncoder(w).Encode(map[string]any{
				"time":     map[string]any{"data": times},
				"distance": map[string]any{"data": distances},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":          500,
			"name":        "Test Run",
			"sport_type":  sport,
			"distance":    distances[len(distances)-1],
			"moving_time": int(times[len(times)-1]),
			"start_date":  start.UTC().Format(time.RFC3339),
		})
	})
}

func enqueueOne(t *testing.T, db *database.DB, activityID, athleteID int64) *database.QueueItem {
	t.Helper()

	if _, err := db.EnqueueItem(activityID, athleteID, "create"); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
	items, err := db.SelectPending(1)
	if err != nil || len(items) != 1 {
		t.Fatalf("Failed to select pending item: %v", err)
	}
	return items[0]
}

func TestProcessQueue_SuccessUnlocksMilestone(t *testing.T) {
	start := time.Now().Add(time.Minute)
	// A flat 1k in 230 seconds
	wt := setupWorkerTest(t, stravaStub("Run", start, []float64{0, 230}, []float64{0, 1000}))

	item := enqueueOne(t, wt.db, 500, 42)

	result, err := wt.worker.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueue failed: %v", err)
	}
	if result.Processed != 1 || result.Failed != 0 {
		t.Errorf("Expected 1 processed, got %+v", result)
	}

	got, err := wt.db.GetQueueItem(item.ID)
	if err != nil {
		t.Fatalf("Failed to get item: %v", err)
	}
	if got.Status != database.StatusCompleted {
		t.Errorf("Expected completed, got %s", got.Status)
	}
	if got.ErrorMessage == nil || !strings.Contains(*got.ErrorMessage, "unlocked 1k in 230s") {
		t.Errorf("Expected unlock note, got %v", got.ErrorMessage)
	}

	best, err := wt.db.BestTimes(wt.member.ID, start.UTC().Year())
	if err != nil {
		t.Fatalf("Failed to query best times: %v", err)
	}
	if best["1k"] != 230 {
		t.Errorf("Expected 1k best 230, got %d", best["1k"])
	}
}

func TestProcessQueue_RateLimitedReleasesWithoutCharge(t *testing.T) {
	wt := setupWorkerTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "600")
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	item := enqueueOne(t, wt.db, 500, 42)

	result, err := wt.worker.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueue failed: %v", err)
	}
	if result.Failed != 0 {
		t.Errorf("Expected rate limiting not to count as failure, got %+v", result)
	}

	got, err := wt.db.GetQueueItem(item.ID)
	if err != nil {
		t.Fatalf("Failed to get item: %v", err)
	}
	if got.Status != database.StatusPending {
		t.Errorf("Expected pending after rate limit, got %s", got.Status)
	}
	if got.Attempts != 0 {
		t.Errorf("Expected attempt refunded, got %d", got.Attempts)
	}
}

func TestProcessQueue_RetriesThenFails(t *testing.T) {
	wt := setupWorkerTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"boom"}`, http.StatusInternalServerError)
	}))

	item := enqueueOne(t, wt.db, 500, 42)
	if item.MaxAttempts != 3 {
		t.Fatalf("Expected default max attempts 3, got %d", item.MaxAttempts)
	}

	// Two transient failures leave the item pending with its attempts charged
	for run := 1; run <= 2; run++ {
		result, err := wt.worker.ProcessQueue(context.Background())
		if err != nil {
			t.Fatalf("ProcessQueue failed: %v", err)
		}
		if result.Failed != 0 {
			t.Errorf("Run %d: expected retryable failure not to count, got %+v", run, result)
		}

		got, err := wt.db.GetQueueItem(item.ID)
		if err != nil {
			t.Fatalf("Failed to get item: %v", err)
		}
		if got.Status != database.StatusPending {
			t.Fatalf("Run %d: expected pending, got %s", run, got.Status)
		}
		if got.Attempts != run {
			t.Errorf("Run %d: expected %d attempts, got %d", run, run, got.Attempts)
		}
	}

	// Third failure exhausts the budget
	result, err := wt.worker.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueue failed: %v", err)
	}
	if result.Failed != 1 {
		t.Errorf("Expected terminal failure, got %+v", result)
	}

	got, err := wt.db.GetQueueItem(item.ID)
	if err != nil {
		t.Fatalf("Failed to get item: %v", err)
	}
	if got.Status != database.StatusFailed {
		t.Errorf("Expected failed, got %s", got.Status)
	}
	if got.Attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", got.Attempts)
	}
}

func TestProcessQueue_SkipsNonRunSport(t *testing.T) {
	start := time.Now().Add(time.Minute)
	wt := setupWorkerTest(t, stravaStub("Ride", start, []float64{0, 230}, []float64{0, 1000}))

	item := enqueueOne(t, wt.db, 500, 42)

	result, err := wt.worker.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueue failed: %v", err)
	}
	if result.Processed != 1 {
		t.Errorf("Expected skip to count as processed, got %+v", result)
	}

	got, err := wt.db.GetQueueItem(item.ID)
	if err != nil {
		t.Fatalf("Failed to get item: %v", err)
	}
	if got.Status != database.StatusCompleted {
		t.Errorf("Expected completed, got %s", got.Status)
	}
	if got.ErrorMessage == nil || !strings.Contains(*got.ErrorMessage, "not a run") {
		t.Errorf("Expected skip note, got %v", got.ErrorMessage)
	}

	best, err := wt.db.BestTimes(wt.member.ID, start.UTC().Year())
	if err != nil {
		t.Fatalf("Failed to query best times: %v", err)
	}
	if len(best) != 0 {
		t.Errorf("Expected no achievements for a ride, got %v", best)
	}
}

func TestProcessQueue_SkipsPreMembershipActivity(t *testing.T) {
	// Activity a year before the member joined
	start := time.Now().Add(-365 * 24 * time.Hour)
	wt := setupWorkerTest(t, stravaStub("Run", start, []float64{0, 230}, []float64{0, 1000}))

	item := enqueueOne(t, wt.db, 500, 42)

	result, err := wt.worker.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueue failed: %v", err)
	}
	if result.Processed != 1 {
		t.Errorf("Expected skip to count as processed, got %+v", result)
	}

	got, err := wt.db.GetQueueItem(item.ID)
	if err != nil {
		t.Fatalf("Failed to get item: %v", err)
	}
	if got.Status != database.StatusCompleted {
		t.Errorf("Expected completed, got %s", got.Status)
	}
	if got.ErrorMessage == nil || !strings.Contains(*got.ErrorMessage, "predates membership") {
		t.Errorf("Expected skip note, got %v", got.ErrorMessage)
	}
}

func TestProcessQueue_MissingMemberFailsTerminally(t *testing.T) {
	wt := setupWorkerTest(t, stravaStub("Run", time.Now(), []float64{0, 230}, []float64{0, 1000}))

	// Enqueued for an athlete with no member row
	item := enqueueOne(t, wt.db, 501, 777)

	result, err := wt.worker.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueue failed: %v", err)
	}
	if result.Failed != 1 {
		t.Errorf("Expected terminal failure, got %+v", result)
	}

	got, err := wt.db.GetQueueItem(item.ID)
	if err != nil {
		t.Fatalf("Failed to get item: %v", err)
	}
	if got.Status != database.StatusFailed {
		t.Errorf("Expected failed on first attempt, got %s", got.Status)
	}
	if got.Attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", got.Attempts)
	}
}

func TestProcessQueue_DeauthorizedMemberFailsTerminally(t *testing.T) {
	wt := setupWorkerTest(t, stravaStub("Run", time.Now(), []float64{0, 230}, []float64{0, 1000}))

	if err := wt.db.ClearMemberTokens(wt.member.ID); err != nil {
		t.Fatalf("Failed to clear tokens: %v", err)
	}

	item := enqueueOne(t, wt.db, 500, 42)

	result, err := wt.worker.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueue failed: %v", err)
	}
	if result.Failed != 1 {
		t.Errorf("Expected terminal failure, got %+v", result)
	}

	got, err := wt.db.GetQueueItem(item.ID)
	if err != nil {
		t.Fatalf("Failed to get item: %v", err)
	}
	if got.Status != database.StatusFailed {
		t.Errorf("Expected failed, got %s", got.Status)
	}
}

func TestProcessQueue_ReprocessingIsIdempotent(t *testing.T) {
	start := time.Now().Add(time.Minute)
	wt := setupWorkerTest(t, stravaStub("Run", start, []float64{0, 230}, []float64{0, 1000}))

	enqueueOne(t, wt.db, 500, 42)
	if _, err := wt.worker.ProcessQueue(context.Background()); err != nil {
		t.Fatalf("ProcessQueue failed: %v", err)
	}

	// The same activity arriving again after completion is absorbed by the
	// unique constraint rather than re-entering the queue
	inserted, err := wt.db.EnqueueItem(500, 42, "create")
	if err != nil {
		t.Fatalf("Failed to re-enqueue: %v", err)
	}
	if inserted {
		t.Error("Expected completed activity not to re-enter the queue")
	}

	season := start.UTC().Year()
	rows, err := wt.db.ListAchievements(wt.member.ID, season)
	if err != nil {
		t.Fatalf("Failed to list achievements: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("Expected exactly 1 achievement row, got %d", len(rows))
	}
}
