package database

import (
	"database/sql"
	"fmt"
	"time"
)

// Member represents a club athlete. Token fields hold encrypted values and
// are nil when the member has deauthorized.
type Member struct {
	ID             int64
	AthleteID      int64
	AccessToken    *string
	RefreshToken   *string
	TokenExpiresAt *time.Time
	JoinedAt       time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Authorized reports whether the member has a complete credential set
func (m *Member) Authorized() bool {
	return m.AccessToken != nil && m.RefreshToken != nil && m.TokenExpiresAt != nil
}

// UpsertMember creates a member or replaces an existing member's tokens.
// A re-authorizing member keeps their original joined_at.
func (db *DB) UpsertMember(athleteID int64, accessToken, refreshToken string, expiresAt time.Time) (*Member, error) {
	now := time.Now().Unix()

	_, err := db.conn.Exec(`
		INSERT INTO members (athlete_id, access_token, refresh_token, token_expires_at, joined_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(athlete_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_expires_at = excluded.token_expires_at,
			updated_at = excluded.updated_at
	`, athleteID, accessToken, refreshToken, expiresAt.Unix(), now, now, now)

	if err != nil {
		return nil, fmt.Errorf("failed to upsert member: %w", err)
	}

	return db.GetMemberByAthleteID(athleteID)
}

// GetMemberByAthleteID retrieves a member by Strava athlete ID.
// Returns nil if no such member exists.
func (db *DB) GetMemberByAthleteID(athleteID int64) (*Member, error) {
	return db.scanMember(db.conn.QueryRow(`
		SELECT id, athlete_id, access_token, refresh_token, token_expires_at, joined_at, created_at, updated_at
		FROM members WHERE athlete_id = ?
	`, athleteID))
}

// GetMember retrieves a member by internal ID. Returns nil if not found.
func (db *DB) GetMember(id int64) (*Member, error) {
	return db.scanMember(db.conn.QueryRow(`
		SELECT id, athlete_id, access_token, refresh_token, token_expires_at, joined_at, created_at, updated_at
		FROM members WHERE id = ?
	`, id))
}

func (db *DB) scanMember(row *sql.Row) (*Member, error) {
	var m Member
	var expiresAt, joinedAt, createdAt, updatedAt sql.NullInt64

	err := row.Scan(&m.ID, &m.AthleteID, &m.AccessToken, &m.RefreshToken, &expiresAt, &joinedAt, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}

	if expiresAt.Valid {
		t := time.Unix(expiresAt.Int64, 0)
		m.TokenExpiresAt = &t
	}
	m.JoinedAt = time.Unix(joinedAt.Int64, 0)
	m.CreatedAt = time.Unix(createdAt.Int64, 0)
	m.UpdatedAt = time.Unix(updatedAt.Int64, 0)

	return &m, nil
}

// UpdateMemberTokens replaces a member's encrypted token pair and expiry
func (db *DB) UpdateMemberTokens(memberID int64, accessToken, refreshToken string, expiresAt time.Time) error {
	result, err := db.conn.Exec(`
		UPDATE members
		SET access_token = ?, refresh_token = ?, token_expires_at = ?, updated_at = ?
		WHERE id = ?
	`, accessToken, refreshToken, expiresAt.Unix(), time.Now().Unix(), memberID)

	if err != nil {
		return fmt.Errorf("failed to update member tokens: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("member not found")
	}

	return nil
}

// ClearMemberTokens marks a member as deauthorized by nulling all token fields
func (db *DB) ClearMemberTokens(memberID int64) error {
	_, err := db.conn.Exec(`
		UPDATE members
		SET access_token = NULL, refresh_token = NULL, token_expires_at = NULL, updated_at = ?
		WHERE id = ?
	`, time.Now().Unix(), memberID)

	if err != nil {
		return fmt.Errorf("failed to clear member tokens: %w", err)
	}
	return nil
}

// ListMembers returns all members ordered by join date
func (db *DB) ListMembers() ([]*Member, error) {
	rows, err := db.conn.Query(`
		SELECT id, athlete_id, access_token, refresh_token, token_expires_at, joined_at, created_at, updated_at
		FROM members ORDER BY joined_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		var m Member
		var expiresAt, joinedAt, createdAt, updatedAt sql.NullInt64

		if err := rows.Scan(&m.ID, &m.AthleteID, &m.AccessToken, &m.RefreshToken, &expiresAt, &joinedAt, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}

		if expiresAt.Valid {
			t := time.Unix(expiresAt.Int64, 0)
			m.TokenExpiresAt = &t
		}
		m.JoinedAt = time.Unix(joinedAt.Int64, 0)
		m.CreatedAt = time.Unix(createdAt.Int64, 0)
		m.UpdatedAt = time.Unix(updatedAt.Int64, 0)

		members = append(members, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating members: %w", err)
	}

	return members, nil
}
