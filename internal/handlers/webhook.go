package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"runclub-milestones/internal/config"
	"runclub-milestones/internal/database"
	"runclub-milestones/internal/metrics"
)

// WebhookHandler handles Strava webhook callbacks
type WebhookHandler struct {
	db     *database.DB
	config *config.Config
	logger *slog.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(db *database.DB, cfg *config.Config) *WebhookHandler {
	return &WebhookHandler{
		db:     db,
		config: cfg,
		logger: slog.Default(),
	}
}

// webhookEvent is Strava's event envelope, decoded explicitly instead of
// trusting the payload shape at runtime
type webhookEvent struct {
	ObjectType     string `json:"object_type"`
	ObjectID       int64  `json:"object_id"`
	AspectType     string `json:"aspect_type"`
	OwnerID        int64  `json:"owner_id"`
	SubscriptionID int64  `json:"subscription_id"`
	EventTime      int64  `json:"event_time"`
}

// HandleVerification handles GET requests for subscription verification.
// Strava echoes back the challenge iff the mode and verify token match.
func (h *WebhookHandler) HandleVerification(w http.ResponseWriter, r *http.Request) {
	hubMode := r.URL.Query().Get("hub.mode")
	hubChallenge := r.URL.Query().Get("hub.challenge")
	hubVerifyToken := r.URL.Query().Get("hub.verify_token")

	h.logger.Info("Webhook verification request", "hub.mode", hubMode)

	if hubMode != "subscribe" || hubVerifyToken != h.config.StravaVerifyToken {
		h.logger.Warn("Webhook verification rejected", "hub.mode", hubMode)
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "Forbidden"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"hub.challenge": hubChallenge})
	h.logger.Info("Webhook verification successful")
}

// HandleEvent handles POST requests for webhook events. Strava delivers
// at-least-once and escalates retries on non-200 responses, so this handler
// always acknowledges; irrelevant events are silently dropped and internal
// failures are logged only.
func (h *WebhookHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	acknowledge := func(outcome string) {
		metrics.WebhookEventsReceivedTotal.WithLabelValues(outcome).Inc()
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	}

	var event webhookEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		h.logger.Error("Invalid JSON in webhook body", "error", err)
		acknowledge("invalid")
		return
	}

	h.logger.Info("Received webhook event",
		"object_type", event.ObjectType,
		"object_id", event.ObjectID,
		"aspect_type", event.AspectType,
		"owner_id", event.OwnerID,
	)

	// Only newly created activities are relevant; updates, deletes, and
	// athlete-level events are silent no-ops
	if event.ObjectType != "activity" || event.AspectType != "create" {
		acknowledge("ignored_type")
		return
	}

	member, err := h.db.GetMemberByAthleteID(event.OwnerID)
	if err != nil {
		h.logger.Error("Failed to look up member", "owner_id", event.OwnerID, "error", err)
		acknowledge("error")
		return
	}
	if member == nil {
		// Not one of ours
		acknowledge("unknown_owner")
		return
	}

	inserted, err := h.db.EnqueueItem(event.ObjectID, event.OwnerID, event.AspectType)
	if err != nil {
		h.logger.Error("Failed to enqueue webhook event", "object_id", event.ObjectID, "error", err)
		acknowledge("error")
		return
	}

	if inserted {
		h.logger.Info("Webhook event enqueued", "object_id", event.ObjectID, "owner_id", event.OwnerID)
		metrics.QueueEnqueueTotal.WithLabelValues("enqueued").Inc()
		acknowledge("enqueued")
	} else {
		// Duplicate delivery, already queued
		metrics.QueueEnqueueTotal.WithLabelValues("duplicate").Inc()
		acknowledge("duplicate")
	}
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Default().Error("Failed to encode response", "error", err)
	}
}
