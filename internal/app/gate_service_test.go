package app_test

import (
	"context"
	"errors"
	"testing"

	"video-gate-service/internal/app"
	"video-gate-service/internal/domain"
	"video-gate-service/internal/engine"
	"video-gate-service/internal/infra/memory"
)

type nullPlayer struct{}

func (nullPlayer) Play() {}

func (nullPlayer) Pause() {}

func (nullPlayer) SeekTo(t float64, allowSeekAhead bool) {}

type nullRenderer struct{}

func (nullRenderer) ShowItem(item domain.Item, prefill *domain.Answer, readOnly bool) {}

func (nullRenderer) ShowFeedback(itemID, text string, score engine.Score, awaitContinue bool) {}

func (nullRenderer) CloseOverlay() {}

func (nullRenderer) ShowIdentity(prompt string) {}

func (nullRenderer) ShowThanks(points, max, percent float64) {}

func (nullRenderer) ShowWarning(msg string) {}

func (nullRenderer) ShowValidation(itemID, msg string) {}

func (nullRenderer) ShowSubmitError(msg string) {}

func newService(quizzes map[string]domain.Quiz) (*app.GateService, *memory.AttemptRecorder) {
	repo := memory.NewQuizRepository(memory.NewStaticQuizLoader(quizzes), 0)
	sink := memory.NewAttemptRecorder()
	return app.NewGateService(memory.NewSessionStore(), repo, sink), sink
}

func TestOpenSessionRegistersEngine(t *testing.T) {
	svc, _ := newService(map[string]domain.Quiz{
		"quiz-1": {ID: "quiz-1", Items: []domain.Item{
			{ID: "q1", Type: domain.ItemMCQ, T: 10, Correct: []string{"b"}},
		}},
	})

	session, err := svc.OpenSession(context.Background(), "quiz-1", "sess-1", nullPlayer{}, nullRenderer{})
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	if session.Engine == nil || session.QuizID != "quiz-1" {
		t.Fatalf("unexpected session: %+v", session)
	}
	if got, ok := svc.Session("sess-1"); !ok || got != session {
		t.Fatal("expected session registered")
	}
}

func TestOpenSessionUnknownQuiz(t *testing.T) {
	svc, _ := newService(map[string]domain.Quiz{})
	_, err := svc.OpenSession(context.Background(), "nope", "sess-1", nullPlayer{}, nullRenderer{})
	if !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, ok := svc.Session("sess-1"); ok {
		t.Fatal("no session must be registered on failure")
	}
}

func TestOpenSessionMalformedQuizIsFatal(t *testing.T) {
	svc, _ := newService(map[string]domain.Quiz{
		"bad": {ID: "bad", Items: []domain.Item{{ID: "__meta", Type: domain.ItemMCQ, T: 1}}},
	})
	_, err := svc.OpenSession(context.Background(), "bad", "sess-1", nullPlayer{}, nullRenderer{})
	if !errors.Is(err, domain.ErrMalformedQuiz) {
		t.Fatalf("expected malformed quiz, got %v", err)
	}
}

func TestCloseSessionIdempotent(t *testing.T) {
	svc, _ := newService(map[string]domain.Quiz{
		"quiz-1": {ID: "quiz-1"},
	})
	if _, err := svc.OpenSession(context.Background(), "quiz-1", "sess-1", nullPlayer{}, nullRenderer{}); err != nil {
		t.Fatalf("open session: %v", err)
	}

	svc.CloseSession("sess-1")
	if _, ok := svc.Session("sess-1"); ok {
		t.Fatal("expected session removed")
	}
	// second close is a no-op
	svc.CloseSession("sess-1")
}
