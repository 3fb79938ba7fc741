package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exam-gateway/internal/attempt"
	"github.com/stemsi/exam-gateway/internal/examapi"
	"github.com/stemsi/exam-gateway/internal/model"
	"github.com/stemsi/exam-gateway/internal/response"
	"github.com/stemsi/exam-gateway/internal/service"
)

var lifecycleErrors = []struct {
	err    error
	status int
	code   response.ErrCode
}{
	{service.ErrSessionNotFound, http.StatusNotFound, response.ErrAttemptNotFound},
	{service.ErrActiveAttemptExists, http.StatusConflict, response.ErrActiveAttemptExists},
	{service.ErrResultsNotAvailable, http.StatusNotFound, response.ErrResultsNotAvailable},
	{attempt.ErrAlreadyStarted, http.StatusConflict, response.ErrAlreadyStarted},
	{attempt.ErrAlreadyFinalized, http.StatusConflict, response.ErrAlreadyFinalized},
	{attempt.ErrNotInProgress, http.StatusConflict, response.ErrNotInProgress},
	{attempt.ErrFinalizationPending, http.StatusConflict, response.ErrFinalizationPending},
	{attempt.ErrAbandoned, http.StatusConflict, response.ErrAttemptAbandoned},
	{attempt.ErrAbandonNotConfirmed, http.StatusConflict, response.ErrAbandonConfirmRequired},
	{attempt.ErrViewerAttached, http.StatusConflict, response.ErrAttemptOpenElsewhere},
	{attempt.ErrUnknownQuestion, http.StatusUnprocessableEntity, response.ErrUnknownQuestion},
	{attempt.ErrNegativeElapsed, http.StatusBadRequest, response.ErrValidation},
	{model.ErrInvalidLetter, http.StatusBadRequest, response.ErrInvalidOption},
	{attempt.ErrEmptyBlueprint, http.StatusBadGateway, response.ErrGenerationFailed},
}

// classify maps a lifecycle error to an HTTP status and error code.
// Local misuse guards are checked first; exam service failures wrap each other
// (finalize wraps submit wraps transport) so the outermost kind wins.
func classify(err error) (int, response.ErrCode) {
	for _, e := range lifecycleErrors {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}

	var (
		fe *service.FinalizationError
		se *service.SubmissionError
		ge *examapi.GenerationError
		me *examapi.MalformedResponseError
	)
	switch {
	case errors.As(err, &fe):
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout, response.ErrFinalizationFailed
		}
		return http.StatusBadGateway, response.ErrFinalizationFailed
	case errors.As(err, &ge):
		return http.StatusBadGateway, response.ErrGenerationFailed
	case errors.As(err, &se):
		return http.StatusBadGateway, response.ErrSubmissionFailed
	case errors.As(err, &me):
		return http.StatusBadGateway, response.ErrMalformedResponse
	case errors.Is(err, examapi.ErrUnauthorized):
		return http.StatusUnauthorized, response.ErrTokenInvalid
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, response.ErrUpstreamUnavailable
	case examapi.IsTransport(err):
		return http.StatusBadGateway, response.ErrUpstreamUnavailable
	}
	return http.StatusInternalServerError, response.ErrInternal
}

// failWith writes the envelope for err. Remote rejections keep their reason.
func failWith(c *gin.Context, err error) {
	status, code := classify(err)
	var ge *examapi.GenerationError
	if errors.As(err, &ge) {
		response.FailWithDetail(c, status, code, ge.Reason)
		return
	}
	response.Fail(c, status, code)
}
