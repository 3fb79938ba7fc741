package service

import (
	"context"
	"sort"
	"sync"

	"github.com/stemsi/exam-gateway/internal/credential"
	"github.com/stemsi/exam-gateway/internal/model"
)

// fakeAPI is an in-memory exam service that records the order of calls.
type fakeAPI struct {
	mu sync.Mutex

	calls     []string
	blueprint *model.AttemptBlueprint
	attemptID model.ID
	finalID   model.ID
	stored    map[model.ID]model.Letter
	graded    []model.IntentoPregunta

	generateErr error
	startErr    error
	submitErr   error
	batchErr    error
	finalizeErr error
	answersErr  error

	// finalizeBlock, when set, makes Finalize wait until it is closed or ctx ends.
	finalizeBlock chan struct{}
	// submitGate, when set, holds SubmitAnswer until a value is received.
	submitGate chan struct{}
	// dropAcks makes SubmitBatch acknowledge nothing.
	dropAcks bool
	// echoOption, when set, is the letter SubmitAnswer acknowledges.
	echoOption model.Letter
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		blueprint: &model.AttemptBlueprint{ExamID: "exam-1", Items: []model.ID{"q1", "q2", "q3"}},
		attemptID: "attempt-1",
		stored:    make(map[model.ID]model.Letter),
	}
}

func (f *fakeAPI) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeAPI) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeAPI) count(call string) int {
	n := 0
	for _, c := range f.callLog() {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeAPI) storedAnswers() map[model.ID]model.Letter {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[model.ID]model.Letter, len(f.stored))
	for k, v := range f.stored {
		out[k] = v
	}
	return out
}

func (f *fakeAPI) Generate(_ context.Context, _ *credential.SessionContext, _ model.GenerateRequest) (*model.AttemptBlueprint, error) {
	f.record("generate")
	if f.generateErr != nil {
		return nil, f.generateErr
	}
	bp := *f.blueprint
	return &bp, nil
}

func (f *fakeAPI) Start(_ context.Context, _ *credential.SessionContext, _, _ model.ID) (model.ID, error) {
	f.record("start")
	if f.startErr != nil {
		return "", f.startErr
	}
	return f.attemptID, nil
}

func (f *fakeAPI) SubmitAnswer(ctx context.Context, _ *credential.SessionContext, _, questionID model.ID, option model.Letter) (model.Ack, error) {
	f.record("submit")
	if f.submitGate != nil {
		select {
		case <-f.submitGate:
		case <-ctx.Done():
			return model.Ack{}, ctx.Err()
		}
	}
	if f.submitErr != nil {
		return model.Ack{}, f.submitErr
	}
	f.mu.Lock()
	f.stored[questionID] = option
	echo := f.echoOption
	f.mu.Unlock()
	if echo == "" {
		echo = option
	}
	return model.Ack{QuestionID: questionID, Option: echo}, nil
}

func (f *fakeAPI) SubmitBatch(_ context.Context, _ *credential.SessionContext, _ model.ID, answers map[model.ID]model.Letter) ([]model.Ack, error) {
	f.record("batch")
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	if f.dropAcks {
		return []model.Ack{}, nil
	}
	acks := make([]model.Ack, 0, len(answers))
	f.mu.Lock()
	for q, l := range answers {
		f.stored[q] = l
		acks = append(acks, model.Ack{QuestionID: q, Option: l})
	}
	f.mu.Unlock()
	sort.Slice(acks, func(i, j int) bool { return acks[i].QuestionID < acks[j].QuestionID })
	return acks, nil
}

func (f *fakeAPI) Finalize(ctx context.Context, _ *credential.SessionContext, attemptID model.ID) (model.ID, error) {
	f.record("finalize")
	if f.finalizeBlock != nil {
		select {
		case <-f.finalizeBlock:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.finalizeErr != nil {
		return "", f.finalizeErr
	}
	if f.finalID != "" {
		return f.finalID, nil
	}
	return attemptID, nil
}

func (f *fakeAPI) Answers(_ context.Context, _ *credential.SessionContext, _ model.ID) ([]model.IntentoPregunta, error) {
	f.record("answers")
	if f.answersErr != nil {
		return nil, f.answersErr
	}
	return f.graded, nil
}
