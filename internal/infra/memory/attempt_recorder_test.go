package memory

import (
	"context"
	"errors"
	"testing"

	"video-gate-service/internal/domain"
)

func TestAttemptRecorderNonceIdempotency(t *testing.T) {
	rec := NewAttemptRecorder()
	attempt := domain.Attempt{Viewer: "alice", Points: 1, MaxPoints: 1, Nonce: "n-1"}

	if err := rec.SubmitAttempt(context.Background(), "quiz-1", attempt); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	changed := attempt
	changed.Points = 0
	err := rec.SubmitAttempt(context.Background(), "quiz-1", changed)
	if !errors.Is(err, domain.ErrDuplicateAttempt) {
		t.Fatalf("expected duplicate error, got %v", err)
	}

	attempts := rec.Attempts()
	if len(attempts) != 1 {
		t.Fatalf("duplicate must not be stored, got %d", len(attempts))
	}
	if attempts[0].Attempt.Points != 1 {
		t.Fatalf("recorded points must not change, got %v", attempts[0].Attempt.Points)
	}
}
