package memory

import (
	"context"
	"log"
	"sync"

	"video-gate-service/internal/domain"
)

// AttemptRecorder is an in-process attempt sink. It enforces nonce
// idempotency the way the real storage collaborator does: a nonce seen
// before yields domain.ErrDuplicateAttempt and leaves the stored attempt
// untouched. Used in tests and when no attempt backend is configured.
type AttemptRecorder struct {
	mu       sync.Mutex
	byNonce  map[string]struct{}
	attempts []RecordedAttempt
}

// RecordedAttempt pairs an attempt with the quiz it was recorded for.
type RecordedAttempt struct {
	QuizID  string
	Attempt domain.Attempt
}

func NewAttemptRecorder() *AttemptRecorder {
	return &AttemptRecorder{byNonce: make(map[string]struct{})}
}

func (r *AttemptRecorder) SubmitAttempt(_ context.Context, quizID string, attempt domain.Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byNonce[attempt.Nonce]; dup {
		return domain.ErrDuplicateAttempt
	}
	r.byNonce[attempt.Nonce] = struct{}{}
	r.attempts = append(r.attempts, RecordedAttempt{QuizID: quizID, Attempt: attempt})
	log.Printf("recorded attempt quiz=%s viewer=%s points=%.2f/%.2f", quizID, attempt.Viewer, attempt.Points, attempt.MaxPoints)
	return nil
}

// Attempts returns a copy of everything recorded so far.
func (r *AttemptRecorder) Attempts() []RecordedAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RecordedAttempt, len(r.attempts))
	copy(out, r.attempts)
	return out
}
