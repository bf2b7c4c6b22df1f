package handlers

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"runclub-milestones/internal/config"
	"runclub-milestones/internal/strava"
	"runclub-milestones/internal/tokens"
)

const (
	authorizationURL = "https://www.strava.com/oauth/authorize"
	oauthScope       = "activity:read_all"
	stateTTL         = 10 * time.Minute
)

// OAuthHandler onboards members: connect redirects to Strava, callback
// exchanges the code and stores the encrypted token pair
type OAuthHandler struct {
	client *strava.Client
	tokens *tokens.Manager
	config *config.Config
	logger *slog.Logger

	// CSRF protection: one-time states with expiry
	mu     sync.Mutex
	states map[string]time.Time
}

// NewOAuthHandler creates a new OAuth handler
func NewOAuthHandler(client *strava.Client, tm *tokens.Manager, cfg *config.Config) *OAuthHandler {
	return &OAuthHandler{
		client: client,
		tokens: tm,
		config: cfg,
		logger: slog.Default(),
		states: make(map[string]time.Time),
	}
}

// HandleConnect redirects the member to Strava's authorization page
func (h *OAuthHandler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state, err := generateState()
	if err != nil {
		h.logger.Error("Failed to generate OAuth state", "error", err)
		http.Error(w, "Failed to start OAuth flow", http.StatusInternalServerError)
		return
	}

	h.mu.Lock()
	now := time.Now()
	for s, expiry := range h.states {
		if now.After(expiry) {
			delete(h.states, s)
		}
	}
	h.states[state] = now.Add(stateTTL)
	h.mu.Unlock()

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	redirectURI := fmt.Sprintf("%s://%s/oauth/callback", scheme, r.Host)

	params := url.Values{
		"client_id":     {h.config.StravaClientID},
		"redirect_uri":  {redirectURI},
		"response_type": {"code"},
		"scope":         {oauthScope},
		"state":         {state},
	}

	http.Redirect(w, r, fmt.Sprintf("%s?%s", authorizationURL, params.Encode()), http.StatusTemporaryRedirect)
}

// HandleCallback exchanges the authorization code and enrolls the member
func (h *OAuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Warn("OAuth authorization denied", "error", errParam)
		http.Error(w, "Authorization denied", http.StatusBadRequest)
		return
	}

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		http.Error(w, "Missing code or state parameter", http.StatusBadRequest)
		return
	}

	if !h.consumeState(state) {
		h.logger.Warn("Invalid or expired OAuth state")
		http.Error(w, "Invalid or expired authorization request. Please try again.", http.StatusBadRequest)
		return
	}

	tokenResp, err := h.client.ExchangeCode(r.Context(), code)
	if err != nil {
		h.logger.Error("Failed to exchange authorization code", "error", err)
		http.Error(w, "Failed to complete authorization", http.StatusBadRequest)
		return
	}

	var athlete struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(tokenResp.Athlete, &athlete); err != nil || athlete.ID == 0 {
		h.logger.Error("Failed to parse athlete from token response", "error", err)
		http.Error(w, "Failed to complete authorization", http.StatusBadRequest)
		return
	}

	member, err := h.tokens.Enroll(athlete.ID, tokenResp)
	if err != nil {
		h.logger.Error("Failed to enroll member", "athlete_id", athlete.ID, "error", err)
		http.Error(w, "Failed to complete authorization", http.StatusInternalServerError)
		return
	}

	h.logger.Info("Member connected", "member_id", member.ID, "athlete_id", member.AthleteID)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Connected</title></head>
<body>
	<h1>Connected</h1>
	<p>Your Strava account is linked. New runs will be checked for milestones automatically.</p>
</body>
</html>`)
}

// consumeState validates a state and removes it (one-time use)
func (h *OAuthHandler) consumeState(state string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	expiry, exists := h.states[state]
	if !exists {
		return false
	}
	delete(h.states, state)

	return time.Now().Before(expiry)
}

// generateState generates a cryptographically secure random state
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
