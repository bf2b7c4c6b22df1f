package database

import (
	"testing"
	"time"
)

func TestUpsertMember_PreservesJoinedAt(t *testing.T) {
	db := openTestDB(t)

	expires := time.Now().Add(6 * time.Hour)
	first, err := db.UpsertMember(42, "enc-access-1", "enc-refresh-1", expires)
	if err != nil {
		t.Fatalf("Failed to upsert member: %v", err)
	}
	if first == nil {
		t.Fatal("Expected member after upsert")
	}

	time.Sleep(1100 * time.Millisecond)

	// Re-authorization replaces tokens but keeps identity and join date
	second, err := db.UpsertMember(42, "enc-access-2", "enc-refresh-2", expires.Add(time.Hour))
	if err != nil {
		t.Fatalf("Failed to re-upsert member: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("Expected same member id, got %d and %d", first.ID, second.ID)
	}
	if !second.JoinedAt.Equal(first.JoinedAt) {
		t.Errorf("Expected joined_at preserved, got %v then %v", first.JoinedAt, second.JoinedAt)
	}
	if second.AccessToken == nil || *second.AccessToken != "enc-access-2" {
		t.Errorf("Expected replaced access token, got %v", second.AccessToken)
	}

	members, err := db.ListMembers()
	if err != nil {
		t.Fatalf("Failed to list members: %v", err)
	}
	if len(members) != 1 {
		t.Errorf("Expected 1 member, got %d", len(members))
	}
}

func TestGetMemberByAthleteID_NotFound(t *testing.T) {
	db := openTestDB(t)

	member, err := db.GetMemberByAthleteID(999)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if member != nil {
		t.Errorf("Expected nil for unknown athlete, got %+v", member)
	}
}

func TestClearMemberTokens(t *testing.T) {
	db := openTestDB(t)

	member, err := db.UpsertMember(42, "enc-access", "enc-refresh", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Failed to upsert member: %v", err)
	}
	if !member.Authorized() {
		t.Fatal("Expected member to be authorized after upsert")
	}

	if err := db.ClearMemberTokens(member.ID); err != nil {
		t.Fatalf("Failed to clear tokens: %v", err)
	}

	cleared, err := db.GetMember(member.ID)
	if err != nil {
		t.Fatalf("Failed to get member: %v", err)
	}
	if cleared.Authorized() {
		t.Error("Expected member to be deauthorized after clearing tokens")
	}
	if cleared.AccessToken != nil || cleared.RefreshToken != nil || cleared.TokenExpiresAt != nil {
		t.Error("Expected all token fields to be nil")
	}
}

func TestUpdateMemberTokens_UnknownMember(t *testing.T) {
	db := openTestDB(t)

	err := db.UpdateMemberTokens(12345, "a", "r", time.Now())
	if err == nil {
		t.Error("Expected error updating tokens for unknown member")
	}
}
