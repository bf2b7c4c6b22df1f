package database

import (
	"database/sql"
	"fmt"
	"time"
)

// QueueItem statuses
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// QueueItem is one unit of deferred work for a single activity-create event
type QueueItem struct {
	ID           int64
	ActivityID   int64
	AthleteID    int64
	EventType    string
	Status       string
	Attempts     int
	MaxAttempts  int
	ErrorMessage *string
	CreatedAt    time.Time
	ProcessedAt  *time.Time
}

// EnqueueItem inserts a pending queue item for an activity event. The insert
// is idempotent on activity_id: re-delivered events are silently ignored.
// Returns true if a new row was inserted.
func (db *DB) EnqueueItem(activityID, athleteID int64, eventType string) (bool, error) {
	result, err := db.conn.Exec(`
		INSERT INTO queue_items (activity_id, athlete_id, event_type, status, attempts, created_at)
		VALUES (?, ?, ?, 'pending', 0, ?)
		ON CONFLICT(activity_id) DO NOTHING
	`, activityID, athleteID, eventType, time.Now().Unix())

	if err != nil {
		return false, fmt.Errorf("failed to enqueue item: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows > 0, nil
}

// SelectPending returns up to limit pending items, oldest first
func (db *DB) SelectPending(limit int) ([]*QueueItem, error) {
	rows, err := db.conn.Query(`
		SELECT id, activity_id, athlete_id, event_type, status, attempts, max_attempts, error_message, created_at, processed_at
		FROM queue_items
		WHERE status = 'pending'
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select pending items: %w", err)
	}
	defer rows.Close()

	var items []*QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue items: %w", err)
	}

	return items, nil
}

// GetQueueItem retrieves a queue item by ID. Returns nil if not found.
func (db *DB) GetQueueItem(id int64) (*QueueItem, error) {
	row := db.conn.QueryRow(`
		SELECT id, activity_id, athlete_id, event_type, status, attempts, max_attempts, error_message, created_at, processed_at
		FROM queue_items WHERE id = ?
	`, id)

	var item QueueItem
	var createdAt int64
	var processedAt sql.NullInt64

	err := row.Scan(&item.ID, &item.ActivityID, &item.AthleteID, &item.EventType,
		&item.Status, &item.Attempts, &item.MaxAttempts, &item.ErrorMessage,
		&createdAt, &processedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue item: %w", err)
	}

	item.CreatedAt = time.Unix(createdAt, 0)
	if processedAt.Valid {
		t := time.Unix(processedAt.Int64, 0)
		item.ProcessedAt = &t
	}

	return &item, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueueItem(row rowScanner) (*QueueItem, error) {
	var item QueueItem
	var createdAt int64
	var processedAt sql.NullInt64

	err := row.Scan(&item.ID, &item.ActivityID, &item.AthleteID, &item.EventType,
		&item.Status, &item.Attempts, &item.MaxAttempts, &item.ErrorMessage,
		&createdAt, &processedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan queue item: %w", err)
	}

	item.CreatedAt = time.Unix(createdAt, 0)
	if processedAt.Valid {
		t := time.Unix(processedAt.Int64, 0)
		item.ProcessedAt = &t
	}

	return &item, nil
}

// MarkProcessing transitions a pending item to processing and charges one
// attempt. This happens before any external I/O so a crash mid-item leaves
// it visibly stuck in processing. Returns false if the item was not pending
// (already claimed or completed).
func (db *DB) MarkProcessing(id int64) (bool, error) {
	result, err := db.conn.Exec(`
		UPDATE queue_items
		SET status = 'processing', attempts = attempts + 1, processing_at = ?
		WHERE id = ? AND status = 'pending'
	`, time.Now().Unix(), id)

	if err != nil {
		return false, fmt.Errorf("failed to mark item processing: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows > 0, nil
}

// MarkCompleted transitions an item to completed with a human-readable note
func (db *DB) MarkCompleted(id int64, note string) error {
	var msg *string
	if note != "" {
		msg = &note
	}

	_, err := db.conn.Exec(`
		UPDATE queue_items
		SET status = 'completed', error_message = ?, processed_at = ?
		WHERE id = ?
	`, msg, time.Now().Unix(), id)

	if err != nil {
		return fmt.Errorf("failed to mark item completed: %w", err)
	}
	return nil
}

// MarkFailed transitions an item to its terminal failed state
func (db *DB) MarkFailed(id int64, errorMsg string) error {
	_, err := db.conn.Exec(`
		UPDATE queue_items
		SET status = 'failed', error_message = ?, processed_at = ?
		WHERE id = ?
	`, errorMsg, time.Now().Unix(), id)

	if err != nil {
		return fmt.Errorf("failed to mark item failed: %w", err)
	}
	return nil
}

// ReleaseForRetry returns an item to pending after a processing error,
// keeping the attempt charged by MarkProcessing
func (db *DB) ReleaseForRetry(id int64, errorMsg string) error {
	_, err := db.conn.Exec(`
		UPDATE queue_items
		SET status = 'pending', error_message = ?
		WHERE id = ?
	`, errorMsg, id)

	if err != nil {
		return fmt.Errorf("failed to release item: %w", err)
	}
	return nil
}

// ReleaseRateLimited returns an item to pending and refunds the attempt
// charged by MarkProcessing. External throttling is not a processing defect
// and must not consume retry budget.
func (db *DB) ReleaseRateLimited(id int64, errorMsg string) error {
	_, err := db.conn.Exec(`
		UPDATE queue_items
		SET status = 'pending', attempts = CASE WHEN attempts > 0 THEN attempts - 1 ELSE 0 END, error_message = ?
		WHERE id = ?
	`, errorMsg, id)

	if err != nil {
		return fmt.Errorf("failed to release rate-limited item: %w", err)
	}
	return nil
}

// SweepStaleProcessing returns items stuck in processing longer than maxAge
// back to pending. The attempt charged when they entered processing is kept,
// so a crash loop still converges to failed.
func (db *DB) SweepStaleProcessing(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).Unix()

	result, err := db.conn.Exec(`
		UPDATE queue_items
		SET status = 'pending', error_message = 'reset after stale processing'
		WHERE status = 'processing' AND processing_at IS NOT NULL AND processing_at < ?
	`, cutoff)

	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale processing items: %w", err)
	}

	return result.RowsAffected()
}

// CountQueueItemsByStatus returns the number of queue items with the given status
func (db *DB) CountQueueItemsByStatus(status string) (int, error) {
	var count int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM queue_items WHERE status = ?`, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count queue items: %w", err)
	}
	return count, nil
}
