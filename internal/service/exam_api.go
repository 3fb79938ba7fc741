package service

import (
	"context"

	"github.com/stemsi/exam-gateway/internal/credential"
	"github.com/stemsi/exam-gateway/internal/model"
)

// ExamAPI is the remote exam generation/scoring service as seen by the
// lifecycle. *examapi.Client implements it.
type ExamAPI interface {
	Generate(ctx context.Context, sc *credential.SessionContext, req model.GenerateRequest) (*model.AttemptBlueprint, error)
	Start(ctx context.Context, sc *credential.SessionContext, examID, userID model.ID) (model.ID, error)
	SubmitAnswer(ctx context.Context, sc *credential.SessionContext, attemptID, questionID model.ID, option model.Letter) (model.Ack, error)
	SubmitBatch(ctx context.Context, sc *credential.SessionContext, attemptID model.ID, answers map[model.ID]model.Letter) ([]model.Ack, error)
	Finalize(ctx context.Context, sc *credential.SessionContext, attemptID model.ID) (model.ID, error)
	Answers(ctx context.Context, sc *credential.SessionContext, attemptID model.ID) ([]model.IntentoPregunta, error)
}

// withDeadline runs fn and gives up when ctx ends, even if fn ignores ctx.
func withDeadline[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
