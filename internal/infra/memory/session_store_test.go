package memory

import (
	"testing"

	"video-gate-service/internal/app"
)

func TestSessionStoreLifecycle(t *testing.T) {
	store := NewSessionStore()

	if _, ok := store.Get("sess-1"); ok {
		t.Fatal("empty store must miss")
	}

	session := &app.Session{ID: "sess-1", QuizID: "quiz-1"}
	store.Put("sess-1", session)
	if got, ok := store.Get("sess-1"); !ok || got != session {
		t.Fatal("expected stored session back")
	}

	store.Delete("sess-1")
	if _, ok := store.Get("sess-1"); ok {
		t.Fatal("expected session removed")
	}
	store.Delete("sess-1")
}
