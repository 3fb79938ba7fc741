package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-gateway/internal/config"
	"github.com/stemsi/exam-gateway/internal/credential"
	"github.com/stemsi/exam-gateway/internal/database"
	"github.com/stemsi/exam-gateway/internal/examapi"
	"github.com/stemsi/exam-gateway/internal/handler"
	"github.com/stemsi/exam-gateway/internal/logger"
	"github.com/stemsi/exam-gateway/internal/repository"
	"github.com/stemsi/exam-gateway/internal/router"
	"github.com/stemsi/exam-gateway/internal/service"
	"github.com/stemsi/exam-gateway/internal/validator"
	"github.com/stemsi/exam-gateway/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Str("exam_api", cfg.ExamAPIBaseURL).
		Str("submission_mode", string(cfg.SubmissionMode)).
		Msg("Starting exam gateway")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Connect to PostgreSQL (attempt history, optional) ─────────────
	var historyRepo *repository.AttemptHistoryRepository
	if cfg.DatabaseURL != "" {
		pool, err := database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer pool.Close()
		historyRepo = repository.NewAttemptHistoryRepository(pool)
	} else {
		log.Warn().Msg("DATABASE_URL not set, attempt history disabled")
	}

	// ─── Credential Store ──────────────────────────────────────────────
	store := newCredentialStore(cfg, rdb, log)
	verifier, err := newVerifier(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load session token keys")
	}

	// ─── Exam Service Client ───────────────────────────────────────────
	api := examapi.NewClient(cfg.ExamAPIBaseURL, cfg.ExamAPITimeout, log)

	// ─── Initialize Services ──────────────────────────────────────────
	var historyRDB *redis.Client
	if historyRepo != nil {
		historyRDB = rdb
	}
	registry := service.NewAttemptRegistry(log)
	historyService := service.NewHistoryService(historyRepo, historyRDB, log)
	blueprintService := service.NewBlueprintService(api, log)
	submissionService := service.NewSubmissionService(api, cfg.SubmitTimeout, log)
	attemptService := service.NewAttemptService(api, registry, submissionService, cfg.SubmissionMode, log)
	finalizationService := service.NewFinalizationService(api, submissionService, registry, historyService, cfg.FinalizeTimeout, log)
	resultsService := service.NewResultsService(api, registry, rdb, cfg.ResultsCacheTTL, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Attempt: handler.NewAttemptHandler(blueprintService, attemptService, finalizationService, resultsService, historyService, log),
		WS:      handler.NewWSHandler(attemptService, finalizationService, log, cfg.AllowedOrigins),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	sweeper := worker.NewSessionSweeper(registry, cfg.SessionSweepPeriod, cfg.AbandonedGrace, log)
	workers.Add(1)
	go func() {
		defer workers.Done()
		sweeper.Start(workerCtx)
	}()

	if historyRepo != nil {
		historyWorker := worker.NewHistoryWorker(historyRepo, rdb, log)
		workers.Add(1)
		go func() {
			defer workers.Done()
			historyWorker.Start(workerCtx)
		}()
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(verifier, store, handlers, cfg, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests. Finalize calls in flight get the
	// full finalize timeout to complete.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.FinalizeTimeout+5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers and wait for the history queue to drain.
	workerCancel()
	workers.Wait()

	if n := registry.Len(); n > 0 {
		log.Warn().Int("sessions", n).Msg("Discarding in-memory attempt sessions")
	}
	log.Info().Msg("Shutdown complete")
}

// newCredentialStore picks where access tokens live. Redis lets replicas
// behind a load balancer see the same token refreshes.
func newCredentialStore(cfg *config.Config, rdb *redis.Client, log zerolog.Logger) credential.Store {
	switch cfg.CredentialStore {
	case "memory":
		log.Info().Msg("Using in-memory credential store")
		return credential.NewMemoryStore()
	default:
		return credential.NewRedisStore(rdb)
	}
}

// newVerifier builds the session token verifier from SESSION_JWT_SECRET
// and/or SESSION_JWT_PUBLIC_KEY_FILE.
func newVerifier(cfg *config.Config) (*credential.Verifier, error) {
	secret, publicKey, err := cfg.SessionVerifyKeys()
	if err != nil {
		return nil, err
	}
	return credential.NewVerifier(secret, publicKey)
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
