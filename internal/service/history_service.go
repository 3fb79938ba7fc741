package service

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-gateway/internal/config"
	"github.com/stemsi/exam-gateway/internal/model"
	"github.com/stemsi/exam-gateway/internal/repository"
)

// HistoryService queues finalized attempts for persistence and lists them back.
// Without Redis or Postgres configured it degrades to a no-op.
type HistoryService struct {
	repo *repository.AttemptHistoryRepository
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewHistoryService creates a new HistoryService. Both repo and rdb may be nil.
func NewHistoryService(repo *repository.AttemptHistoryRepository, rdb *redis.Client, log zerolog.Logger) *HistoryService {
	return &HistoryService{
		repo: repo,
		rdb:  rdb,
		log:  log.With().Str("component", "history_service").Logger(),
	}
}

// Enabled reports whether history can be listed.
func (s *HistoryService) Enabled() bool { return s != nil && s.repo != nil }

// Record hands the attempt to the history worker. Failing to queue is logged
// and never surfaces to the student.
func (s *HistoryService) Record(ctx context.Context, h model.AttemptHistory) {
	if s == nil || s.rdb == nil {
		return
	}
	raw, err := json.Marshal(h)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to encode attempt history")
		return
	}
	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistAttemptHistoryQueue, raw).Err(); err != nil {
		s.log.Warn().Err(err).
			Str("user_id", h.UserID).
			Str("attempt_id", h.AttemptID).
			Msg("Failed to queue attempt history")
	}
}

// List returns the user's latest finalized attempts.
func (s *HistoryService) List(ctx context.Context, userID string, limit int) ([]model.AttemptHistory, error) {
	if !s.Enabled() {
		return []model.AttemptHistory{}, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	items, err := s.repo.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []model.AttemptHistory{}
	}
	return items, nil
}
