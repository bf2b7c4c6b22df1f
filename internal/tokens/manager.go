package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"runclub-milestones/internal/database"
	"runclub-milestones/internal/metrics"
	"runclub-milestones/internal/secretbox"
	"runclub-milestones/internal/strava"
)

// Refresh tokens 5 minutes before expiry
const expiryBuffer = 5 * time.Minute

// ErrNotAuthorized indicates the member has deauthorized: no valid
// credential exists and no retry will help until they reconnect.
var ErrNotAuthorized = errors.New("member is not authorized")

// Manager owns the OAuth credential lifecycle for members. Tokens are
// encrypted at the storage boundary; callers only ever see plaintext access
// tokens that are valid for at least the expiry buffer.
type Manager struct {
	db     *database.DB
	client *strava.Client
	box    *secretbox.Box
	logger *slog.Logger
}

// NewManager creates a new token manager
func NewManager(db *database.DB, client *strava.Client, box *secretbox.Box) *Manager {
	return &Manager{
		db:     db,
		client: client,
		box:    box,
		logger: slog.Default(),
	}
}

// ValidToken returns a plaintext access token for the member, refreshing it
// through Strava first if it expires within the buffer. A member missing any
// token field is deauthorized and yields ErrNotAuthorized.
func (m *Manager) ValidToken(ctx context.Context, member *database.Member) (string, error) {
	if member == nil || !member.Authorized() {
		return "", ErrNotAuthorized
	}

	if time.Until(*member.TokenExpiresAt) > expiryBuffer {
		// Token is still fresh, no I/O needed
		return m.box.Decrypt(*member.AccessToken)
	}

	refreshToken, err := m.box.Decrypt(*member.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	m.logger.Info("refreshing token", "member_id", member.ID, "athlete_id", member.AthleteID)

	resp, err := m.client.RefreshToken(ctx, refreshToken)
	if err != nil {
		metrics.TokenRefreshesTotal.WithLabelValues(metrics.ResultFailure).Inc()
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}

	if err := m.SaveTokens(member.ID, resp); err != nil {
		return "", err
	}

	metrics.TokenRefreshesTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	m.logger.Info("token refreshed", "member_id", member.ID, "expires_at", resp.ExpiresAt)

	return resp.AccessToken, nil
}

// SaveTokens encrypts and persists a token response for an existing member
func (m *Manager) SaveTokens(memberID int64, resp *strava.TokenResponse) error {
	encAccess, err := m.box.Encrypt(resp.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}

	encRefresh, err := m.box.Encrypt(resp.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	expiresAt := time.Unix(resp.ExpiresAt, 0)
	if err := m.db.UpdateMemberTokens(memberID, encAccess, encRefresh, expiresAt); err != nil {
		return fmt.Errorf("failed to persist refreshed tokens: %w", err)
	}

	return nil
}

// Enroll encrypts and stores a freshly granted token pair, creating the
// member row if needed
func (m *Manager) Enroll(athleteID int64, resp *strava.TokenResponse) (*database.Member, error) {
	encAccess, err := m.box.Encrypt(resp.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}

	encRefresh, err := m.box.Encrypt(resp.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	member, err := m.db.UpsertMember(athleteID, encAccess, encRefresh, time.Unix(resp.ExpiresAt, 0))
	if err != nil {
		return nil, fmt.Errorf("failed to store member: %w", err)
	}

	return member, nil
}
