package app

import (
	"context"
	"sync"
	"time"

	"video-gate-service/internal/domain"
	"video-gate-service/internal/engine"
)

// SessionRepository abstracts how viewer sessions are tracked (in-memory,
// Redis-backed liveness, etc).
type SessionRepository interface {
	Put(sessionID string, session *Session)
	Get(sessionID string) (*Session, bool)
	Delete(sessionID string)
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// GateService opens and tears down per-viewer gating sessions.
type GateService struct {
	sessions SessionRepository
	quizzes  QuizRepository
	sink     engine.AttemptSink
}

func NewGateService(sessions SessionRepository, quizzes QuizRepository, sink engine.AttemptSink) *GateService {
	return &GateService{sessions: sessions, quizzes: quizzes, sink: sink}
}

// Session pairs one engine with its registration metadata.
type Session struct {
	ID        string
	QuizID    string
	Engine    *engine.Engine
	CreatedAt time.Time

	mu   sync.Mutex
	done bool
}

// OpenSession fetches the quiz, builds an engine bound to the caller's
// player and renderer, and registers the session. A quiz that cannot be
// loaded or fails validation is fatal: no session is created.
func (s *GateService) OpenSession(ctx context.Context, quizID, sessionID string, player engine.Player, renderer engine.Renderer, opts ...engine.Option) (*Session, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	eng, err := engine.New(quiz, player, renderer, s.sink, opts...)
	if err != nil {
		return nil, err
	}
	session := &Session{
		ID:        sessionID,
		QuizID:    quizID,
		Engine:    eng,
		CreatedAt: time.Now(),
	}
	s.sessions.Put(sessionID, session)
	return session, nil
}

// Quiz returns the validated quiz document for a session's client, for
// rendering metadata (title, video id) only; answers never leave the engine.
func (s *GateService) Quiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	return s.quizzes.GetQuiz(ctx, quizID)
}

// Session looks up a live session by id.
func (s *GateService) Session(sessionID string) (*Session, bool) {
	return s.sessions.Get(sessionID)
}

// CloseSession drops the engine and unregisters the session. Idempotent.
func (s *GateService) CloseSession(sessionID string) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return
	}
	session.mu.Lock()
	already := session.done
	session.done = true
	session.mu.Unlock()
	if already {
		return
	}
	session.Engine.Close()
	s.sessions.Delete(sessionID)
}
