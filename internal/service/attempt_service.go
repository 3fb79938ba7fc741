package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-gateway/internal/attempt"
	"github.com/stemsi/exam-gateway/internal/config"
	"github.com/stemsi/exam-gateway/internal/credential"
	"github.com/stemsi/exam-gateway/internal/metrics"
	"github.com/stemsi/exam-gateway/internal/model"
)

// AttemptService owns the lifecycle of attempt sessions up to finalization.
type AttemptService struct {
	api         ExamAPI
	registry    *AttemptRegistry
	submissions *SubmissionService
	mode        config.SubmissionMode
	log         zerolog.Logger
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	api ExamAPI,
	registry *AttemptRegistry,
	submissions *SubmissionService,
	mode config.SubmissionMode,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		api:         api,
		registry:    registry,
		submissions: submissions,
		mode:        mode,
		log:         log.With().Str("component", "attempt_service").Logger(),
	}
}

// Create builds a NOT_STARTED session from a blueprint and registers it.
func (s *AttemptService) Create(sc *credential.SessionContext, bp *model.AttemptBlueprint, timeBudgetMinutes int) (*attempt.Session, error) {
	sess, err := attempt.New(sc.UserID, *bp, timeBudgetMinutes)
	if err != nil {
		return nil, err
	}
	s.registry.Add(sess)
	return sess, nil
}

// Get returns a session owned by userID.
func (s *AttemptService) Get(handle uuid.UUID, userID string) (*attempt.Session, error) {
	return s.registry.Get(handle, userID)
}

// Start asks the exam service for an attempt id and moves the session to
// IN_PROGRESS. Concurrent or repeated starts get attempt.ErrAlreadyStarted
// without a second remote call.
func (s *AttemptService) Start(ctx context.Context, sc *credential.SessionContext, sess *attempt.Session) (model.ID, error) {
	if err := sess.BeginStart(); err != nil {
		metrics.AttemptsStarted.WithLabelValues(metrics.ResultRefused).Inc()
		return "", err
	}
	if err := s.registry.Claim(sess); err != nil {
		sess.AbortStart()
		metrics.AttemptsStarted.WithLabelValues(metrics.ResultRefused).Inc()
		return "", err
	}

	attemptID, err := s.api.Start(ctx, sc, sess.ExamID(), model.ID(sc.UserID))
	if err != nil {
		sess.AbortStart()
		s.registry.Release(sess)
		metrics.AttemptsStarted.WithLabelValues(metrics.ResultError).Inc()
		s.log.Warn().Err(err).
			Str("handle", sess.Handle().String()).
			Str("exam_id", sess.ExamID().String()).
			Msg("Failed to start attempt")
		return "", err
	}

	sess.CompleteStart(attemptID)
	metrics.AttemptsStarted.WithLabelValues(metrics.ResultOK).Inc()
	s.log.Info().
		Str("handle", sess.Handle().String()).
		Str("user_id", sc.UserID).
		Str("attempt_id", attemptID.String()).
		Int("items", sess.ItemCount()).
		Msg("Attempt started")
	return attemptID, nil
}

// SelectOption records a choice. In eager mode the answer is also sent right
// away; a failed send leaves the selection for the finalize flush.
func (s *AttemptService) SelectOption(sc *credential.SessionContext, sess *attempt.Session, questionID model.ID, raw string) error {
	option, err := model.ParseLetter(raw)
	if err != nil {
		return err
	}
	if err := sess.SelectOption(questionID, option); err != nil {
		if errors.Is(err, attempt.ErrUnknownQuestion) {
			s.log.Error().
				Str("handle", sess.Handle().String()).
				Str("question_id", questionID.String()).
				Msg("Answer for a question outside the blueprint")
		}
		return err
	}
	if s.mode == config.SubmissionModeEager {
		s.submissions.SubmitAsync(sc, sess, questionID)
	}
	return nil
}

// RecordElapsed credits seconds to questionID if it is still displayed.
// Reports are refused while a stream is ticking the same session.
func (s *AttemptService) RecordElapsed(sess *attempt.Session, questionID model.ID, seconds int) (bool, error) {
	return sess.RecordElapsed(questionID, seconds)
}

// Advance moves to the next question.
func (s *AttemptService) Advance(sess *attempt.Session) (int, error) {
	return sess.Advance()
}

// Retreat moves to the previous question.
func (s *AttemptService) Retreat(sess *attempt.Session) (int, error) {
	return sess.Retreat()
}

// Abandon discards the attempt once confirmed and forgets the session.
// Nothing is sent to the exam service.
func (s *AttemptService) Abandon(sess *attempt.Session, confirmed bool) error {
	if err := sess.Abandon(confirmed); err != nil {
		return err
	}
	s.registry.Remove(sess)
	s.log.Info().
		Str("handle", sess.Handle().String()).
		Str("user_id", sess.UserID()).
		Msg("Attempt abandoned")
	return nil
}

// ParseHandle validates a session handle from a URL.
func ParseHandle(raw string) (uuid.UUID, error) {
	h, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrSessionNotFound, raw)
	}
	return h, nil
}
