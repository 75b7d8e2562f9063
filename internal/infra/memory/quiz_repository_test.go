package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"video-gate-service/internal/domain"
)

func TestQuizRepositoryCaches(t *testing.T) {
	loader := &countingLoader{
		QuizLoader: NewStaticQuizLoader(map[string]domain.Quiz{
			"quiz-1": sampleQuiz(),
		}),
	}
	repo := NewQuizRepository(loader, time.Minute)

	if _, err := repo.GetQuiz(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader once, got %d", loader.calls)
	}

	if _, err := repo.GetQuiz(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("get quiz 2: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.calls)
	}
}

func TestQuizRepositoryRejectsMalformedQuiz(t *testing.T) {
	loader := NewStaticQuizLoader(map[string]domain.Quiz{
		"bad": {ID: "bad", Items: []domain.Item{{ID: "x", Type: "mystery", T: 0}}},
	})
	repo := NewQuizRepository(loader, time.Minute)
	if _, err := repo.GetQuiz(context.Background(), "bad"); !errors.Is(err, domain.ErrMalformedQuiz) {
		t.Fatalf("expected malformed quiz error, got %v", err)
	}
}

func TestFileQuizLoader(t *testing.T) {
	dir := t.TempDir()
	doc := `{"title":"Intro","videoId":"abc123","endAt":30,"requireIdentity":true,
		"items":[{"id":"q1","type":"mcq","t":10,"choices":[{"id":"a","text":"3"},{"id":"b","text":"4"}],"correct":["b"]}]}`
	if err := os.WriteFile(filepath.Join(dir, "quiz-1.json"), []byte(doc), 0o644); err != nil {
		t.Fatalf("write quiz: %v", err)
	}

	loader := NewFileQuizLoader(dir)
	quiz, err := loader.LoadQuiz(context.Background(), "quiz-1")
	if err != nil {
		t.Fatalf("load quiz: %v", err)
	}
	if quiz.ID != "quiz-1" || quiz.EndAt != 30 || !quiz.RequireIdentity {
		t.Fatalf("unexpected quiz meta: %+v", quiz)
	}
	if len(quiz.Items) != 1 || quiz.Items[0].Type != domain.ItemMCQ || quiz.Items[0].T != 10 {
		t.Fatalf("unexpected items: %+v", quiz.Items)
	}

	if _, err := loader.LoadQuiz(context.Background(), "missing"); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := loader.LoadQuiz(context.Background(), "../quiz-1"); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("path traversal must be rejected, got %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write broken: %v", err)
	}
	if _, err := loader.LoadQuiz(context.Background(), "broken"); !errors.Is(err, domain.ErrMalformedQuiz) {
		t.Fatalf("expected malformed quiz, got %v", err)
	}
}

type countingLoader struct {
	QuizLoader
	calls int
}

func (l *countingLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	l.calls++
	return l.QuizLoader.LoadQuiz(ctx, quizID)
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID: "quiz-1",
		Items: []domain.Item{
			{
				ID:      "q1",
				Type:    domain.ItemMCQ,
				T:       10,
				Prompt:  "What is 2 + 2?",
				Choices: []domain.Choice{{ID: "a", Text: "3"}, {ID: "b", Text: "4"}},
				Correct: []string{"b"},
			},
		},
	}
}
