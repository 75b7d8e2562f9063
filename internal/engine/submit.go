package engine

import (
	"context"
	"errors"
	"math"

	"github.com/google/uuid"

	"video-gate-service/internal/domain"
)

// AttemptSink delivers the aggregate attempt to the storage collaborator.
// Implementations return domain.ErrDuplicateAttempt when the nonce was
// already recorded; the engine treats that as success.
type AttemptSink interface {
	SubmitAttempt(ctx context.Context, quizID string, attempt domain.Attempt) error
}

func newNonce() string { return uuid.NewString() }

// Nonce returns the per-session submission token.
func (e *Engine) Nonce() string { return e.nonce }

// Submitted reports whether the attempt has been durably recorded.
func (e *Engine) Submitted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.submittedOnce
}

// SubmitIdentity captures the viewer's identity and dispatches the attempt.
// An empty name is a local validation failure with no state change. A prior
// in-flight or successful submission makes this a no-op.
func (e *Engine) SubmitIdentity(name string) {
	e.mu.Lock()
	if e.closed || e.overlay != OverlayIdentity || e.submitting || e.submittedOnce {
		e.mu.Unlock()
		return
	}
	viewer := domain.SanitizeViewer(name)
	if viewer == "" {
		e.renderer.ShowValidation(domain.IdentityAnswerKey, "Please enter your name.")
		e.mu.Unlock()
		return
	}
	e.identity = viewer
	e.identityCaptured = true
	attempt := e.prepareSubmitLocked()
	e.mu.Unlock()
	if attempt != nil {
		e.dispatch(*attempt)
	}
}

// RetrySubmit re-dispatches after a failed delivery. Honored only once a
// dispatch has actually failed: the retry arm, the in-flight guard and the
// sticky success flag make any other call a no-op, so a stray retry from the
// wire can never submit an attempt the finish path has not prepared.
func (e *Engine) RetrySubmit() {
	e.mu.Lock()
	if e.closed || !e.retryArmed || e.submitting || e.submittedOnce {
		e.mu.Unlock()
		return
	}
	attempt := e.prepareSubmitLocked()
	e.mu.Unlock()
	if attempt != nil {
		e.dispatch(*attempt)
	}
}

// prepareSubmitLocked freezes the payload and raises the in-flight guard.
// At most one outbound submission exists at a time.
func (e *Engine) prepareSubmitLocked() *domain.Attempt {
	if e.submitting || e.submittedOnce {
		return nil
	}
	e.submitting = true
	e.retryArmed = false

	points, max := Totals(e.quiz, e.answers)
	ee := EffectiveEnd(e.quiz.EndAt, e.duration)
	watchSeconds := round2(e.coverage.WatchedSeconds(e.lastNow, ee))
	watchPercent := round2(e.coverage.WatchedPercent(e.lastNow, e.quiz.EndAt, e.duration))

	answers := make(map[string]interface{}, len(e.answers)+2)
	for id, ans := range e.answers {
		answers[id] = ans
	}
	answers[domain.MetaAnswerKey] = domain.WatchMeta{
		WatchSeconds: watchSeconds,
		WatchPercent: watchPercent,
	}
	if e.identityCaptured {
		answers[domain.IdentityAnswerKey] = domain.Answer{Kind: domain.ItemFR, Text: e.identity}
	}

	return &domain.Attempt{
		Viewer:    e.identity,
		Points:    points,
		MaxPoints: max,
		Answers:   answers,
		Category:  e.quiz.Category,
		Nonce:     e.nonce,
	}
}

func (e *Engine) dispatch(attempt domain.Attempt) {
	e.spawn(func() {
		err := e.sink.SubmitAttempt(context.Background(), e.quiz.ID, attempt)
		e.onSubmitResult(attempt, err)
	})
}

// onSubmitResult applies the outcome of one submission round trip. Success
// and duplicate-conflict are both terminal; any other error reverts to a
// retryable state.
func (e *Engine) onSubmitResult(attempt domain.Attempt, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.submitting = false
	if err != nil && !errors.Is(err, domain.ErrDuplicateAttempt) {
		e.retryArmed = true
		e.renderer.ShowSubmitError("Could not record your attempt. Please try again.")
		return
	}
	if e.submittedOnce {
		return
	}
	e.submittedOnce = true
	e.overlay = OverlayThanks
	e.renderer.ShowThanks(attempt.Points, attempt.MaxPoints, ScorePercent(attempt.Points, attempt.MaxPoints))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
