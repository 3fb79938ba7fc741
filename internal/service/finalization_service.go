package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exam-gateway/internal/attempt"
	"github.com/stemsi/exam-gateway/internal/credential"
	"github.com/stemsi/exam-gateway/internal/metrics"
	"github.com/stemsi/exam-gateway/internal/model"
)

// FinalizationError is a finalize that did not go through. The attempt is back
// IN_PROGRESS, so retrying is safe.
type FinalizationError struct {
	Err error
}

func (e *FinalizationError) Error() string { return fmt.Sprintf("finalize attempt: %v", e.Err) }

func (e *FinalizationError) Unwrap() error { return e.Err }

// FinalizationService drives IN_PROGRESS → FINALIZING → FINALIZED at most once
// per attempt, flushing unsent answers before the finalize call.
type FinalizationService struct {
	api         ExamAPI
	submissions *SubmissionService
	registry    *AttemptRegistry
	history     *HistoryService
	timeout     time.Duration
	log         zerolog.Logger
}

// NewFinalizationService creates a new FinalizationService.
func NewFinalizationService(
	api ExamAPI,
	submissions *SubmissionService,
	registry *AttemptRegistry,
	history *HistoryService,
	timeout time.Duration,
	log zerolog.Logger,
) *FinalizationService {
	return &FinalizationService{
		api:         api,
		submissions: submissions,
		registry:    registry,
		history:     history,
		timeout:     timeout,
		log:         log.With().Str("component", "finalization_service").Logger(),
	}
}

// Finalize closes the attempt and returns the id used to fetch results.
// Calling it on a FINALIZING or FINALIZED session returns
// attempt.ErrAlreadyFinalized and changes nothing.
func (s *FinalizationService) Finalize(ctx context.Context, sc *credential.SessionContext, sess *attempt.Session, auto bool) (model.ID, error) {
	if err := sess.BeginFinalizing(); err != nil {
		metrics.Finalizations.WithLabelValues(metrics.ResultRefused).Inc()
		return "", err
	}

	fctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	attemptID := sess.AttemptID()
	flog := s.log.With().
		Str("handle", sess.Handle().String()).
		Str("attempt_id", attemptID.String()).
		Bool("auto", auto).
		Logger()

	if err := s.submissions.Flush(fctx, sc, sess); err != nil {
		sess.RevertFinalizing()
		s.countFailure(err)
		flog.Warn().Err(err).Msg("Flush before finalize failed, attempt reopened")
		return "", &FinalizationError{Err: err}
	}

	finalID, err := withDeadline(fctx, func(ctx context.Context) (model.ID, error) {
		return s.api.Finalize(ctx, sc, attemptID)
	})
	if err != nil {
		sess.RevertFinalizing()
		s.countFailure(err)
		flog.Warn().Err(err).Msg("Finalize failed, attempt reopened")
		return "", &FinalizationError{Err: err}
	}

	sess.CompleteFinalizing(finalID)
	s.registry.Release(sess)
	metrics.Finalizations.WithLabelValues(metrics.ResultOK).Inc()

	snap := sess.Snapshot()
	flog.Info().
		Str("final_attempt_id", snap.FinalAttemptID.String()).
		Int("answered", snap.AnsweredCount).
		Int("items", len(snap.Questions)).
		Msg("Attempt finalized")

	s.history.Record(ctx, model.AttemptHistory{
		UserID:         sess.UserID(),
		ExamID:         snap.ExamID.String(),
		AttemptID:      snap.FinalAttemptID.String(),
		ItemCount:      len(snap.Questions),
		AnsweredCount:  snap.AnsweredCount,
		ElapsedSeconds: snap.ElapsedSeconds,
		AutoFinalized:  auto,
		FinalizedAt:    time.Now().UTC(),
	})

	return snap.FinalAttemptID, nil
}

func (s *FinalizationService) countFailure(err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		metrics.Finalizations.WithLabelValues(metrics.ResultTimeout).Inc()
		return
	}
	metrics.Finalizations.WithLabelValues(metrics.ResultError).Inc()
}
