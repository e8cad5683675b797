package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-labsync-backend/internal/domain"
)

func newSession(id, principal string, issued time.Time) *domain.UpstreamSession {
	return &domain.UpstreamSession{
		ID:          id,
		Principal:   principal,
		AccessToken: "tok-" + id,
		APIKey:      "key-" + id,
		IssuedAt:    issued,
		ExpiresAt:   issued.Add(12 * time.Hour),
	}
}

func TestSupersedeSession_SingleActivePerPrincipal(t *testing.T) {
	db := newTestDB(t, &domain.UpstreamSession{})
	ctx := context.Background()
	now := time.Now().UTC()

	for i, id := range []string{"s1", "s2", "s3"} {
		if err := SupersedeSession(ctx, db, newSession(id, "admin", now.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("SupersedeSession %s: %v", id, err)
		}
	}
	if err := SupersedeSession(ctx, db, newSession("other-1", "ops", now)); err != nil {
		t.Fatalf("SupersedeSession other: %v", err)
	}

	all, err := ListSessions(ctx, db, "admin")
	if err != nil || len(all) != 3 {
		t.Fatalf("ListSessions = (%d, %v)", len(all), err)
	}
	active := 0
	for _, s := range all {
		if s.IsActive {
			active++
			if s.ID != "s3" {
				t.Fatalf("expected s3 active, got %s", s.ID)
			}
		}
	}
	if active != 1 {
		t.Fatalf("expected exactly one active session, got %d", active)
	}

	got, err := FindActiveSession(ctx, db, "ops")
	if err != nil || got.ID != "other-1" {
		t.Fatalf("other principal's session must stay active: (%v, %v)", got, err)
	}
}

func TestFindActiveSession_NotFound(t *testing.T) {
	db := newTestDB(t, &domain.UpstreamSession{})
	if _, err := FindActiveSession(context.Background(), db, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	s, err := SessionStore{DB: db}.FindActive(context.Background(), "nobody")
	if s != nil || err != nil {
		t.Fatalf("store adapter should return (nil, nil), got (%v, %v)", s, err)
	}
}

func TestTouchSession(t *testing.T) {
	db := newTestDB(t, &domain.UpstreamSession{})
	ctx := context.Background()
	store := SessionStore{DB: db}

	if err := store.Supersede(ctx, newSession("s1", "admin", time.Now().UTC())); err != nil {
		t.Fatalf("Supersede: %v", err)
	}
	at := time.Date(2025, 7, 1, 9, 30, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := store.Touch(ctx, "s1", at); err != nil {
			t.Fatalf("Touch: %v", err)
		}
	}

	got, err := store.FindActive(ctx, "admin")
	if err != nil || got == nil {
		t.Fatalf("FindActive = (%v, %v)", got, err)
	}
	if got.RequestCount != 3 || got.LastUsedAt == nil || !got.LastUsedAt.Equal(at) {
		t.Fatalf("usage counters not updated: count=%d last=%v", got.RequestCount, got.LastUsedAt)
	}
	if c := got.Credential(); c.SessionID != "s1" || c.Token != "tok-s1" || c.APIKey != "key-s1" {
		t.Fatalf("unexpected credential %+v", c)
	}
}

func TestSyncRun_CreateAndGet(t *testing.T) {
	db := newTestDB(t, &domain.SyncRun{})
	ctx := context.Background()

	run := &domain.SyncRun{
		Principal: "admin",
		Total:     2, Succeeded: 1, Failed: 1,
		Results: []domain.SyncItemResult{
			{OrderID: "a", Success: true},
			{OrderID: "b", Success: false, Message: "upstream unavailable"},
		},
		StartedAt:  time.Now().UTC(),
		FinishedAt: time.Now().UTC(),
	}
	if err := CreateSyncRun(ctx, db, run); err != nil {
		t.Fatalf("CreateSyncRun: %v", err)
	}
	got, err := GetSyncRun(ctx, db, run.ID)
	if err != nil {
		t.Fatalf("GetSyncRun: %v", err)
	}
	if got.Failed != 1 || len(got.Results) != 2 || got.Results[1].Message != "upstream unavailable" {
		t.Fatalf("unexpected run %+v", got)
	}
	if _, err := GetSyncRun(ctx, db, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
