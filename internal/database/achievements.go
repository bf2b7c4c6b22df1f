package database

import (
	"fmt"
	"time"
)

// Achievement is one append-only row recording an unlocked milestone or an
// improvement of one. PreviousTimeSeconds is set only on improvement rows.
type Achievement struct {
	ID                  int64
	MemberID            int64
	Milestone           string
	Season              int
	ActivityID          int64
	AchievedAt          time.Time
	TimeSeconds         int
	DistanceMeters      float64
	PreviousTimeSeconds *int
}

// InsertAchievement appends an achievement row. Rows are never updated or
// deleted; history stays intact and the current best is the minimum
// time_seconds per (member, milestone, season).
func (db *DB) InsertAchievement(a *Achievement) error {
	result, err := db.conn.Exec(`
		INSERT INTO achievements (member_id, milestone, season, activity_id, achieved_at, time_seconds, distance_meters, previous_time_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.MemberID, a.Milestone, a.Season, a.ActivityID, a.AchievedAt.Unix(),
		a.TimeSeconds, a.DistanceMeters, a.PreviousTimeSeconds)

	if err != nil {
		return fmt.Errorf("failed to insert achievement: %w", err)
	}

	a.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get achievement id: %w", err)
	}

	return nil
}

// ListAchievements returns all achievement rows for a member and season
func (db *DB) ListAchievements(memberID int64, season int) ([]*Achievement, error) {
	rows, err := db.conn.Query(`
		SELECT id, member_id, milestone, season, activity_id, achieved_at, time_seconds, distance_meters, previous_time_seconds
		FROM achievements
		WHERE member_id = ? AND season = ?
		ORDER BY achieved_at ASC, id ASC
	`, memberID, season)
	if err != nil {
		return nil, fmt.Errorf("failed to list achievements: %w", err)
	}
	defer rows.Close()

	var achievements []*Achievement
	for rows.Next() {
		var a Achievement
		var achievedAt int64

		err := rows.Scan(&a.ID, &a.MemberID, &a.Milestone, &a.Season, &a.ActivityID,
			&achievedAt, &a.TimeSeconds, &a.DistanceMeters, &a.PreviousTimeSeconds)
		if err != nil {
			return nil, fmt.Errorf("failed to scan achievement: %w", err)
		}

		a.AchievedAt = time.Unix(achievedAt, 0)
		achievements = append(achievements, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating achievements: %w", err)
	}

	return achievements, nil
}

// BestTimes reduces a member's season rows to the minimum time per milestone
func (db *DB) BestTimes(memberID int64, season int) (map[string]int, error) {
	rows, err := db.conn.Query(`
		SELECT milestone, MIN(time_seconds)
		FROM achievements
		WHERE member_id = ? AND season = ?
		GROUP BY milestone
	`, memberID, season)
	if err != nil {
		return nil, fmt.Errorf("failed to query best times: %w", err)
	}
	defer rows.Close()

	best := make(map[string]int)
	for rows.Next() {
		var milestone string
		var seconds int
		if err := rows.Scan(&milestone, &seconds); err != nil {
			return nil, fmt.Errorf("failed to scan best time: %w", err)
		}
		best[milestone] = seconds
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating best times: %w", err)
	}

	return best, nil
}

// ProcessedActivity is a last-synced-run projection. It is observational
// only: writes are best effort and never block achievement processing.
type ProcessedActivity struct {
	ActivityID     int64
	AthleteID      int64
	Name           string
	DistanceMeters float64
	MovingTime     int
	StartDate      time.Time
}

// UpsertProcessedActivity records or refreshes the projection row for an activity
func (db *DB) UpsertProcessedActivity(p *ProcessedActivity) error {
	_, err := db.conn.Exec(`
		INSERT INTO processed_activities (activity_id, athlete_id, name, distance_meters, moving_time, start_date, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(activity_id) DO UPDATE SET
			name = excluded.name,
			distance_meters = excluded.distance_meters,
			moving_time = excluded.moving_time,
			start_date = excluded.start_date,
			synced_at = excluded.synced_at
	`, p.ActivityID, p.AthleteID, p.Name, p.DistanceMeters, p.MovingTime,
		p.StartDate.Unix(), time.Now().Unix())

	if err != nil {
		return fmt.Errorf("failed to upsert processed activity: %w", err)
	}
	return nil
}
