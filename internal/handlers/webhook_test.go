package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"runclub-milestones/internal/config"
	"runclub-milestones/internal/database"
)

func setupWebhookTest(t *testing.T) (*WebhookHandler, *database.DB) {
	t.Helper()

	db, err := database.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{StravaVerifyToken: "verify-123"}
	return NewWebhookHandler(db, cfg), db
}

func TestHandleVerification_Success(t *testing.T) {
	handler, _ := setupWebhookTest(t)

	req := httptest.NewRequest(http.MethodGet, "/webhooks?hub.mode=subscribe&hub.verify_token=verify-123&hub.challenge=abc123", nil)
	w := httptest.NewRecorder()
	handler.HandleVerification(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body["hub.challenge"] != "abc123" {
		t.Errorf("Expected challenge echoed back, got %v", body)
	}
}

func TestHandleVerification_Rejected(t *testing.T) {
	handler, _ := setupWebhookTest(t)

	cases := []struct {
		name  string
		query string
	}{
		{"wrong token", "hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=abc"},
		{"wrong mode", "hub.mode=unsubscribe&hub.verify_token=verify-123&hub.challenge=abc"},
		{"missing everything", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/webhooks?"+tc.query, nil)
			w := httptest.NewRecorder()
			handler.HandleVerification(w, req)

			if w.Code != http.StatusForbidden {
				t.Fatalf("Expected 403, got %d", w.Code)
			}
			var body map[string]string
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if body["error"] != "Forbidden" {
				t.Errorf("Expected Forbidden error body, got %v", body)
			}
		})
	}
}

func postEvent(t *testing.T, handler *WebhookHandler, payload string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/webhooks", strings.NewReader(payload))
	w := httptest.NewRecorder()
	handler.HandleEvent(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var body map[string]bool
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !body["received"] {
		t.Errorf("Expected received:true, got %v", body)
	}
	return w
}

func TestHandleEvent_EnqueuesActivityCreate(t *testing.T) {
	handler, db := setupWebhookTest(t)

	if _, err := db.UpsertMember(42, "a", "r", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Failed to upsert member: %v", err)
	}

	postEvent(t, handler, `{"object_type":"activity","object_id":500,"aspect_type":"create","owner_id":42}`)

	pending, err := db.CountQueueItemsByStatus(database.StatusPending)
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if pending != 1 {
		t.Errorf("Expected 1 pending item, got %d", pending)
	}
}

func TestHandleEvent_DuplicateDelivery(t *testing.T) {
	handler, db := setupWebhookTest(t)

	if _, err := db.UpsertMember(42, "a", "r", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Failed to upsert member: %v", err)
	}

	payload := `{"object_type":"activity","object_id":500,"aspect_type":"create","owner_id":42}`
	postEvent(t, handler, payload)
	postEvent(t, handler, payload)

	pending, err := db.CountQueueItemsByStatus(database.StatusPending)
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if pending != 1 {
		t.Errorf("Expected exactly 1 pending item after duplicate delivery, got %d", pending)
	}
}

func TestHandleEvent_IgnoresIrrelevantEvents(t *testing.T) {
	handler, db := setupWebhookTest(t)

	if _, err := db.UpsertMember(42, "a", "r", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Failed to upsert member: %v", err)
	}

	payloads := []string{
		`{"object_type":"activity","object_id":500,"aspect_type":"update","owner_id":42}`,
		`{"object_type":"activity","object_id":500,"aspect_type":"delete","owner_id":42}`,
		`{"object_type":"athlete","object_id":42,"aspect_type":"update","owner_id":42}`,
		`not json at all`,
	}
	for _, payload := range payloads {
		postEvent(t, handler, payload)
	}

	pending, err := db.CountQueueItemsByStatus(database.StatusPending)
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if pending != 0 {
		t.Errorf("Expected no queue items, got %d", pending)
	}
}

func TestHandleEvent_IgnoresUnknownOwner(t *testing.T) {
	handler, db := setupWebhookTest(t)

	postEvent(t, handler, `{"object_type":"activity","object_id":500,"aspect_type":"create","owner_id":999}`)

	pending, err := db.CountQueueItemsByStatus(database.StatusPending)
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if pending != 0 {
		t.Errorf("Expected no queue items for unknown owner, got %d", pending)
	}
}
