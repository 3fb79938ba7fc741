package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-gateway/internal/attempt"
	"github.com/stemsi/exam-gateway/internal/credential"
	"github.com/stemsi/exam-gateway/internal/middleware"
	"github.com/stemsi/exam-gateway/internal/model"
	"github.com/stemsi/exam-gateway/internal/response"
	"github.com/stemsi/exam-gateway/internal/service"
	"github.com/stemsi/exam-gateway/internal/validator"
)

// AttemptHandler handles the exam attempt endpoints.
type AttemptHandler struct {
	blueprints   *service.BlueprintService
	attempts     *service.AttemptService
	finalization *service.FinalizationService
	results      *service.ResultsService
	history      *service.HistoryService
	log          zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(
	blueprints *service.BlueprintService,
	attempts *service.AttemptService,
	finalization *service.FinalizationService,
	results *service.ResultsService,
	history *service.HistoryService,
	log zerolog.Logger,
) *AttemptHandler {
	return &AttemptHandler{
		blueprints:   blueprints,
		attempts:     attempts,
		finalization: finalization,
		results:      results,
		history:      history,
		log:          log.With().Str("component", "attempt_handler").Logger(),
	}
}

// GenerateExam godoc
// POST /api/v1/exams/generate
// Asks the exam service for a blueprint and opens a NOT_STARTED attempt.
func (h *AttemptHandler) GenerateExam(c *gin.Context) {
	sc := middleware.GetSession(c)
	if sc == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.GenerateExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	bp, err := h.blueprints.Resolve(c.Request.Context(), sc, req)
	if err != nil {
		failWith(c, err)
		return
	}

	sess, err := h.attempts.Create(sc, bp, req.TimeBudgetMinutes)
	if err != nil {
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusCreated, sess.Snapshot())
}

// GetAttempt godoc
// GET /api/v1/attempts/:handle
func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	sess, _, ok := h.loadSession(c)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, sess.Snapshot())
}

// StartAttempt godoc
// POST /api/v1/attempts/:handle/start
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	sess, sc, ok := h.loadSession(c)
	if !ok {
		return
	}

	if _, err := h.attempts.Start(c.Request.Context(), sc, sess); err != nil {
		failWith(c, err)
		return
	}
	response.Success(c, http.StatusOK, sess.Snapshot())
}

// SelectOption godoc
// PUT /api/v1/attempts/:handle/answers/:question_id
func (h *AttemptHandler) SelectOption(c *gin.Context) {
	sess, sc, ok := h.loadSession(c)
	if !ok {
		return
	}

	var req model.SelectOptionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	questionID := model.ID(c.Param("question_id"))
	if err := h.attempts.SelectOption(sc, sess, questionID, req.Option); err != nil {
		failWith(c, err)
		return
	}

	q, _ := sess.Snapshot().Find(questionID)
	response.Success(c, http.StatusOK, q)
}

// RecordElapsed godoc
// POST /api/v1/attempts/:handle/elapsed
// Used by clients without an open stream; refused while a stream owns the
// timer. Time for a question that is no longer displayed is discarded.
func (h *AttemptHandler) RecordElapsed(c *gin.Context) {
	sess, _, ok := h.loadSession(c)
	if !ok {
		return
	}

	var req model.RecordElapsedRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	credited, err := h.attempts.RecordElapsed(sess, model.ID(req.QuestionID), req.Seconds)
	if err != nil {
		failWith(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"credited":          credited,
		"remaining_seconds": sess.RemainingSeconds(),
	})
}

// Advance godoc
// POST /api/v1/attempts/:handle/advance
func (h *AttemptHandler) Advance(c *gin.Context) {
	h.navigate(c, h.attempts.Advance)
}

// Retreat godoc
// POST /api/v1/attempts/:handle/retreat
func (h *AttemptHandler) Retreat(c *gin.Context) {
	h.navigate(c, h.attempts.Retreat)
}

func (h *AttemptHandler) navigate(c *gin.Context, move func(*attempt.Session) (int, error)) {
	sess, _, ok := h.loadSession(c)
	if !ok {
		return
	}
	if _, err := move(sess); err != nil {
		failWith(c, err)
		return
	}
	response.Success(c, http.StatusOK, sess.Snapshot())
}

// Finalize godoc
// POST /api/v1/attempts/:handle/finalize
// Flushes pending answers and closes the attempt. A second call is refused.
func (h *AttemptHandler) Finalize(c *gin.Context) {
	sess, sc, ok := h.loadSession(c)
	if !ok {
		return
	}

	attemptID, err := h.finalization.Finalize(c.Request.Context(), sc, sess, false)
	if err != nil {
		failWith(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"attempt_id": attemptID,
		"status":     attempt.StatusFinalized,
	})
}

// Abandon godoc
// POST /api/v1/attempts/:handle/abandon
// Discards the attempt. Requires {"confirm": true}.
func (h *AttemptHandler) Abandon(c *gin.Context) {
	sess, _, ok := h.loadSession(c)
	if !ok {
		return
	}

	var req model.AbandonRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.attempts.Abandon(sess, req.Confirm); err != nil {
		failWith(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": attempt.StatusAbandoned})
}

// GetResults godoc
// GET /api/v1/results/:attempt_id
// Returns graded answers and the derived summary, or loading=true while the
// exam service has not graded the attempt yet.
func (h *AttemptHandler) GetResults(c *gin.Context) {
	sc := middleware.GetSession(c)
	if sc == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID := model.ID(c.Param("attempt_id"))
	if attemptID.IsZero() {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	results, err := h.results.Load(c.Request.Context(), sc, attemptID)
	if err != nil {
		failWith(c, err)
		return
	}
	response.Success(c, http.StatusOK, results)
}

// ListHistory godoc
// GET /api/v1/attempts/history?limit=20
func (h *AttemptHandler) ListHistory(c *gin.Context) {
	sc := middleware.GetSession(c)
	if sc == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	items, err := h.history.List(c.Request.Context(), sc.UserID, limit)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", sc.UserID).Msg("Failed to list attempt history")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"attempts": items})
}

// loadSession resolves :handle for the caller. It writes the error response
// itself and reports whether the handler should continue.
func (h *AttemptHandler) loadSession(c *gin.Context) (*attempt.Session, *credential.SessionContext, bool) {
	sc := middleware.GetSession(c)
	if sc == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, nil, false
	}

	handle, err := service.ParseHandle(c.Param("handle"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, nil, false
	}

	sess, err := h.attempts.Get(handle, sc.UserID)
	if err != nil {
		failWith(c, err)
		return nil, nil, false
	}
	return sess, sc, true
}
