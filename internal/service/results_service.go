package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-gateway/internal/config"
	"github.com/stemsi/exam-gateway/internal/credential"
	"github.com/stemsi/exam-gateway/internal/examapi"
	"github.com/stemsi/exam-gateway/internal/metrics"
	"github.com/stemsi/exam-gateway/internal/model"
)

// ErrResultsNotAvailable means the exam service does not know the attempt.
var ErrResultsNotAvailable = errors.New("results are not available for this attempt")

// ResultsService loads graded answers of a finalized attempt and derives the
// summary. Graded lists never change once produced, so non-empty lists are
// cached.
type ResultsService struct {
	api      ExamAPI
	registry *AttemptRegistry
	rdb      *redis.Client
	ttl      time.Duration
	log      zerolog.Logger
}

// NewResultsService creates a new ResultsService. rdb may be nil to disable caching.
func NewResultsService(api ExamAPI, registry *AttemptRegistry, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *ResultsService {
	return &ResultsService{
		api:      api,
		registry: registry,
		rdb:      rdb,
		ttl:      ttl,
		log:      log.With().Str("component", "results_service").Logger(),
	}
}

// Load fetches the graded list for attemptID. An empty list is reported as
// Loading with no summary; callers retry later.
func (s *ResultsService) Load(ctx context.Context, sc *credential.SessionContext, attemptID model.ID) (*model.AttemptResults, error) {
	if cached, ok := s.fromCache(ctx, sc.UserID, attemptID); ok {
		metrics.ResultsLoads.WithLabelValues("cache", metrics.ResultOK).Inc()
		return cached, nil
	}

	list, err := s.api.Answers(ctx, sc, attemptID)
	if err != nil {
		metrics.ResultsLoads.WithLabelValues("remote", metrics.ResultError).Inc()
		if errors.Is(err, examapi.ErrNotFound) {
			return nil, ErrResultsNotAvailable
		}
		s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Failed to load results")
		return nil, err
	}

	if len(list) == 0 {
		metrics.ResultsLoads.WithLabelValues("remote", metrics.ResultLoading).Inc()
		return &model.AttemptResults{AttemptID: attemptID, Loading: true, Questions: []model.IntentoPregunta{}}, nil
	}

	summary := Summarize(list)
	if sess, ok := s.registry.FindByAttempt(sc.UserID, attemptID); ok {
		if err := summary.CheckItems(sess.ItemCount()); err != nil {
			metrics.ResultsLoads.WithLabelValues("remote", metrics.ResultError).Inc()
			return nil, &examapi.MalformedResponseError{Op: "answers", Err: err}
		}
	}

	results := &model.AttemptResults{AttemptID: attemptID, Questions: list, Summary: &summary}
	metrics.ResultsLoads.WithLabelValues("remote", metrics.ResultOK).Inc()
	s.toCache(ctx, sc.UserID, results)
	return results, nil
}

// Summarize counts the graded list. It is pure and deterministic.
func Summarize(list []model.IntentoPregunta) model.ResultsSummary {
	var sum model.ResultsSummary
	for _, p := range list {
		switch {
		case p.IsBlank():
			sum.EnBlanco++
		case p.IsCorrect():
			sum.Correctas++
		default:
			sum.Incorrectas++
		}
		sum.TiempoTotal += p.TiempoSeg
	}
	return sum
}

func (s *ResultsService) fromCache(ctx context.Context, userID string, attemptID model.ID) (*model.AttemptResults, bool) {
	if s.rdb == nil {
		return nil, false
	}
	data, err := s.rdb.Get(ctx, config.CacheKey.AttemptResultsKey(attemptID.String(), userID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn().Err(err).Msg("Results cache read failed")
		}
		return nil, false
	}
	var r model.AttemptResults
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, false
	}
	return &r, true
}

func (s *ResultsService) toCache(ctx context.Context, userID string, r *model.AttemptResults) {
	if s.rdb == nil {
		return
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, config.CacheKey.AttemptResultsKey(r.AttemptID.String(), userID), raw, s.ttl).Err(); err != nil {
		s.log.Warn().Err(err).Msg("Results cache write failed")
	}
}
