package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"video-gate-service/internal/app"
	"video-gate-service/internal/domain"
	"video-gate-service/internal/engine"
	"video-gate-service/internal/infra/memory"
	pgloader "video-gate-service/internal/infra/postgres"
	pgmigrations "video-gate-service/internal/infra/postgres/migrations"
	infraredis "video-gate-service/internal/infra/redis"
)

type recordingHooks struct {
	pauses int
	plays  int
	items  []string
}

func (h *recordingHooks) Play() { h.plays++ }

func (h *recordingHooks) Pause() { h.pauses++ }

func (h *recordingHooks) SeekTo(t float64, allowSeekAhead bool) {}

func (h *recordingHooks) ShowItem(item domain.Item, prefill *domain.Answer, readOnly bool) {
	h.items = append(h.items, item.ID)
}

func (h *recordingHooks) ShowFeedback(itemID, text string, score engine.Score, awaitContinue bool) {}

func (h *recordingHooks) CloseOverlay() {}

func (h *recordingHooks) ShowIdentity(prompt string) {}

func (h *recordingHooks) ShowThanks(points, max, percent float64) {}

func (h *recordingHooks) ShowWarning(msg string) {}

func (h *recordingHooks) ShowValidation(itemID, msg string) {}

func (h *recordingHooks) ShowSubmitError(msg string) {}

func TestGatedPlaybackEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedQuiz(t, ctx, pgURL, sampleQuiz())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	loader := pgloader.NewQuizLoader(pool)

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	quizRepo := infraredis.NewQuizRepository(redisClient, loader, 5*time.Minute)
	sessionStore := infraredis.NewSessionStore(redisClient, 5*time.Minute)
	sink := memory.NewAttemptRecorder()
	service := app.NewGateService(sessionStore, quizRepo, sink)

	hooks := &recordingHooks{}
	session, err := service.OpenSession(ctx, "quiz-1", "sess-1", hooks, hooks,
		engine.WithSpawn(func(f func()) { f() }),
	)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	eng := session.Engine

	for now := 0.0; now <= 10.0; now += 1.0 {
		eng.HandleSample(now, 60, engine.StatePlaying)
	}
	if len(hooks.items) != 1 || hooks.items[0] != "q1" {
		t.Fatalf("expected gate at 10s, saw items %v", hooks.items)
	}
	if hooks.pauses == 0 {
		t.Fatal("gate must pause playback")
	}

	eng.SubmitAnswer("q1", domain.Answer{Selected: []string{"b"}})

	for now := 10.0; now <= 20.0; now += 1.0 {
		eng.HandleSample(now, 60, engine.StatePlaying)
	}

	attempts := sink.Attempts()
	if len(attempts) != 1 {
		t.Fatalf("expected one attempt, got %d", len(attempts))
	}
	got := attempts[0]
	if got.QuizID != "quiz-1" {
		t.Fatalf("unexpected quiz id %q", got.QuizID)
	}
	if got.Attempt.Points != 1 || got.Attempt.MaxPoints != 1 {
		t.Fatalf("expected 1/1, got %v/%v", got.Attempt.Points, got.Attempt.MaxPoints)
	}

	// second fetch must come from the redis cache
	if _, err := quizRepo.GetQuiz(ctx, "quiz-1"); err != nil {
		t.Fatalf("cached fetch: %v", err)
	}

	service.CloseSession("sess-1")
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "gate", "POSTGRES_PASSWORD": "gatepass", "POSTGRES_DB": "gatedb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://gate:gatepass@%s:%s/gatedb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func seedQuiz(t *testing.T, ctx context.Context, dsn string, quiz domain.Quiz) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	data, err := json.Marshal(quiz)
	if err != nil {
		t.Fatalf("marshal quiz: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO quizzes (id, data) VALUES (? , ?::jsonb) ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data`, quiz.ID, string(data)); err != nil {
		t.Fatalf("insert quiz: %v", err)
	}
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    "quiz-1",
		Title: "Gated intro video",
		EndAt: 20,
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

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
