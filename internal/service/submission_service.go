package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exam-gateway/internal/attempt"
	"github.com/stemsi/exam-gateway/internal/credential"
	"github.com/stemsi/exam-gateway/internal/examapi"
	"github.com/stemsi/exam-gateway/internal/metrics"
	"github.com/stemsi/exam-gateway/internal/model"
)

// ErrUnacknowledged means the exam service answered but did not confirm every answer sent.
var ErrUnacknowledged = errors.New("exam service did not acknowledge every answer")

// SubmissionError reports answers that could not be delivered. The local
// selections are kept and go out again at the next trigger.
type SubmissionError struct {
	QuestionIDs []model.ID
	Err         error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit %d answer(s): %v", len(e.QuestionIDs), e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// SubmissionService delivers answers with at-least-once semantics. The exam
// service deduplicates; locally only unacknowledged selections are resent.
type SubmissionService struct {
	api     ExamAPI
	timeout time.Duration
	log     zerolog.Logger
}

// NewSubmissionService creates a new SubmissionService.
func NewSubmissionService(api ExamAPI, timeout time.Duration, log zerolog.Logger) *SubmissionService {
	return &SubmissionService{
		api:     api,
		timeout: timeout,
		log:     log.With().Str("component", "submission_service").Logger(),
	}
}

// Submit sends the current selection of one question. Only one request per
// question is in flight; a selection changed meanwhile is sent right after the
// outstanding request settles, so a late ack never covers a newer choice.
func (s *SubmissionService) Submit(ctx context.Context, sc *credential.SessionContext, sess *attempt.Session, questionID model.ID) error {
	option, ok, err := sess.AcquireSubmit(questionID)
	if err != nil || !ok {
		return err
	}

	attemptID := sess.AttemptID()
	for {
		ack, err := s.api.SubmitAnswer(ctx, sc, attemptID, questionID, option)
		if err == nil && (ack.QuestionID != questionID || ack.Option != option) {
			err = &examapi.MalformedResponseError{
				Op:  "submit_answer",
				Err: fmt.Errorf("ack %s=%s, sent %s=%s", ack.QuestionID, ack.Option, questionID, option),
			}
		}
		if err != nil {
			sess.ReleaseSubmit(questionID, option, false)
			metrics.AnswersSubmitted.WithLabelValues("single", metrics.ResultError).Inc()
			s.log.Warn().Err(err).
				Str("attempt_id", attemptID.String()).
				Str("question_id", questionID.String()).
				Msg("Answer not delivered, kept for resend")
			return &SubmissionError{QuestionIDs: []model.ID{questionID}, Err: err}
		}
		metrics.AnswersSubmitted.WithLabelValues("single", metrics.ResultOK).Inc()

		next, again := sess.ReleaseSubmit(questionID, option, true)
		if !again {
			return nil
		}
		option = next
	}
}

// SubmitAsync is the fire-and-forget form used by eager submission.
func (s *SubmissionService) SubmitAsync(sc *credential.SessionContext, sess *attempt.Session, questionID model.ID) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		_ = s.Submit(ctx, sc, sess, questionID)
	}()
}

// Flush waits for in-flight submissions, then delivers every pending answer in
// one batch. It returns nil only when nothing is left unacknowledged.
func (s *SubmissionService) Flush(ctx context.Context, sc *credential.SessionContext, sess *attempt.Session) error {
	if err := sess.WaitInflight(ctx); err != nil {
		return &SubmissionError{Err: err}
	}

	pending := sess.PendingAnswers()
	if len(pending) == 0 {
		return nil
	}

	attemptID := sess.AttemptID()
	acks, err := withDeadline(ctx, func(ctx context.Context) ([]model.Ack, error) {
		return s.api.SubmitBatch(ctx, sc, attemptID, pending)
	})
	if err != nil {
		metrics.AnswersSubmitted.WithLabelValues("batch", metrics.ResultError).Add(float64(len(pending)))
		s.log.Warn().Err(err).
			Str("attempt_id", attemptID.String()).
			Int("pending", len(pending)).
			Msg("Batch submission failed")
		return &SubmissionError{QuestionIDs: sortedIDs(pending), Err: err}
	}

	for _, ack := range acks {
		sess.Ack(ack.QuestionID, ack.Option)
	}
	metrics.AnswersSubmitted.WithLabelValues("batch", metrics.ResultOK).Add(float64(len(acks)))

	if rest := sess.PendingAnswers(); len(rest) > 0 {
		return &SubmissionError{QuestionIDs: sortedIDs(rest), Err: ErrUnacknowledged}
	}
	return nil
}

func sortedIDs(m map[model.ID]model.Letter) []model.ID {
	ids := make([]model.ID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
