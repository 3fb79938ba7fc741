package attempt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exam-gateway/internal/model"
)

// Status enumerates attempt session states.
type Status string

const (
	StatusNotStarted Status = "NOT_STARTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusFinalizing Status = "FINALIZING"
	StatusFinalized  Status = "FINALIZED"
	StatusAbandoned  Status = "ABANDONED"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusFinalized || s == StatusAbandoned
}

// Lifecycle errors. The first group are misuse guards; callers must not retry them.
var (
	ErrEmptyBlueprint      = errors.New("blueprint has no items")
	ErrAlreadyStarted      = errors.New("attempt already started")
	ErrAlreadyFinalized    = errors.New("attempt already finalized")
	ErrNotInProgress       = errors.New("attempt is not in progress")
	ErrAbandoned           = errors.New("attempt was abandoned")
	ErrUnknownQuestion     = errors.New("question is not part of this attempt")
	ErrFinalizationPending = errors.New("attempt is being finalized")

	ErrAbandonNotConfirmed = errors.New("leaving the exam discards all progress and must be confirmed")
	ErrNegativeElapsed     = errors.New("elapsed seconds must not be negative")
	ErrViewerAttached      = errors.New("attempt is already open in another view")
)

// QuestionState is the local record of one question.
type QuestionState struct {
	SelectedOption model.Letter
	ElapsedSeconds int
	Answered       bool
	// ackedOption is the last option the exam service confirmed for this question.
	ackedOption model.Letter
}

// Delivered reports whether the current selection has been acknowledged.
func (q *QuestionState) Delivered() bool {
	return q.Answered && q.ackedOption == q.SelectedOption
}

// Session is the in-memory state of one student's attempt. It lives only as
// long as the exam is on screen; nothing here is persisted.
type Session struct {
	mu sync.Mutex

	handle            uuid.UUID
	userID            string
	examID            model.ID
	items             []model.ID
	timeBudgetSeconds int

	attemptID      model.ID
	finalAttemptID model.ID
	status         Status
	starting       bool
	currentIndex   int
	perQuestion    map[model.ID]*QuestionState
	inflight       map[model.ID]chan struct{}
	viewer         bool

	createdAt    time.Time
	startedAt    time.Time
	finishedAt   time.Time
	lastActivity time.Time
	now          func() time.Time
}

// New builds a NOT_STARTED session for a blueprint owned by userID.
func New(userID string, bp model.AttemptBlueprint, timeBudgetMinutes int) (*Session, error) {
	if len(bp.Items) == 0 {
		return nil, ErrEmptyBlueprint
	}

	items := make([]model.ID, len(bp.Items))
	copy(items, bp.Items)

	per := make(map[model.ID]*QuestionState, len(items))
	for _, id := range items {
		if _, ok := per[id]; !ok {
			per[id] = &QuestionState{}
		}
	}

	s := &Session{
		handle:            uuid.New(),
		userID:            userID,
		examID:            bp.ExamID,
		items:             items,
		timeBudgetSeconds: timeBudgetMinutes * 60,
		status:            StatusNotStarted,
		perQuestion:       per,
		inflight:          make(map[model.ID]chan struct{}),
		now:               time.Now,
	}
	s.createdAt = s.now()
	s.lastActivity = s.createdAt
	return s, nil
}

// Handle is the gateway-issued identifier of this session.
func (s *Session) Handle() uuid.UUID { return s.handle }

// UserID is the owner of the attempt.
func (s *Session) UserID() string { return s.userID }

// ExamID is the blueprint's exam id.
func (s *Session) ExamID() model.ID { return s.examID }

// Status returns the current status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// AttemptID returns the id issued at start, empty before.
func (s *Session) AttemptID() model.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attemptID
}

// ItemCount is the blueprint length.
func (s *Session) ItemCount() int { return len(s.items) }

// TimeBudget is the total time allowed for the attempt.
func (s *Session) TimeBudget() time.Duration {
	return time.Duration(s.timeBudgetSeconds) * time.Second
}

// LastActivity is the time of the last state change or tick.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) touch() { s.lastActivity = s.now() }

// ─── Start ──────────────────────────────────────────────────────────

// BeginStart reserves the NOT_STARTED → IN_PROGRESS transition. Only one
// caller can hold the reservation; everyone else gets ErrAlreadyStarted.
func (s *Session) BeginStart() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.status == StatusAbandoned:
		return ErrAbandoned
	case s.status != StatusNotStarted || s.starting:
		return ErrAlreadyStarted
	}
	s.starting = true
	return nil
}

// CompleteStart applies the transition once the exam service issued an attempt id.
func (s *Session) CompleteStart(attemptID model.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.starting = false
	if s.status != StatusNotStarted {
		return
	}
	s.attemptID = attemptID
	s.status = StatusInProgress
	s.startedAt = s.now()
	s.touch()
}

// AbortStart releases the reservation after a failed start call.
func (s *Session) AbortStart() {
	s.mu.Lock()
	s.starting = false
	s.mu.Unlock()
}

// ─── Answering ──────────────────────────────────────────────────────

// SelectOption records the student's choice. It is allowed to run ahead of the
// exam service; delivery happens through the submission channel.
func (s *Session) SelectOption(questionID model.ID, option model.Letter) error {
	if !option.Valid() {
		return model.ErrInvalidLetter
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireInProgress(); err != nil {
		return err
	}
	q, ok := s.perQuestion[questionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	q.SelectedOption = option
	q.Answered = true
	s.touch()
	return nil
}

// Tick credits delta seconds to whichever question is displayed when it fires.
// It returns the question that received the time.
func (s *Session) Tick(delta int) (model.ID, error) {
	if delta < 0 {
		return "", ErrNegativeElapsed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireInProgress(); err != nil {
		return "", err
	}
	id := s.items[s.currentIndex]
	s.perQuestion[id].ElapsedSeconds += delta
	s.touch()
	return id, nil
}

// RecordElapsed credits time to questionID only if it is still the displayed
// question. A tick that arrives after the student moved on is discarded and
// false is returned. Reports are refused while a viewer is attached, since the
// viewer's stream owns the timer.
func (s *Session) RecordElapsed(questionID model.ID, delta int) (bool, error) {
	if delta < 0 {
		return false, ErrNegativeElapsed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireInProgress(); err != nil {
		return false, err
	}
	if s.viewer {
		return false, ErrViewerAttached
	}
	q, ok := s.perQuestion[questionID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	if s.items[s.currentIndex] != questionID {
		return false, nil
	}
	q.ElapsedSeconds += delta
	s.touch()
	return true, nil
}

// Advance moves to the next question; a no-op on the last one.
func (s *Session) Advance() (int, error) {
	return s.move(1)
}

// Retreat moves to the previous question; a no-op on the first one.
func (s *Session) Retreat() (int, error) {
	return s.move(-1)
}

func (s *Session) move(step int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireInProgress(); err != nil {
		return s.currentIndex, err
	}
	next := s.currentIndex + step
	if next < 0 || next >= len(s.items) {
		return s.currentIndex, nil
	}
	s.currentIndex = next
	s.touch()
	return s.currentIndex, nil
}

// Abandon discards the attempt. Without confirmation nothing changes.
func (s *Session) Abandon(confirmed bool) error {
	if !confirmed {
		return ErrAbandonNotConfirmed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.status {
	case StatusAbandoned:
		return nil
	case StatusFinalizing:
		return ErrFinalizationPending
	case StatusFinalized:
		return ErrAlreadyFinalized
	}
	s.status = StatusAbandoned
	s.finishedAt = s.now()
	s.touch()
	return nil
}

func (s *Session) requireInProgress() error {
	switch s.status {
	case StatusInProgress:
		return nil
	case StatusFinalizing:
		return ErrFinalizationPending
	case StatusFinalized:
		return ErrAlreadyFinalized
	case StatusAbandoned:
		return ErrAbandoned
	}
	return ErrNotInProgress
}

// ─── Finalization ───────────────────────────────────────────────────

// BeginFinalizing moves IN_PROGRESS → FINALIZING. A second call fails fast.
func (s *Session) BeginFinalizing() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.status {
	case StatusInProgress:
	case StatusFinalizing, StatusFinalized:
		return ErrAlreadyFinalized
	case StatusAbandoned:
		return ErrAbandoned
	default:
		return ErrNotInProgress
	}
	s.status = StatusFinalizing
	s.touch()
	return nil
}

// RevertFinalizing returns a failed finalization to IN_PROGRESS so it can be retried.
func (s *Session) RevertFinalizing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusFinalizing {
		s.status = StatusInProgress
		s.touch()
	}
}

// CompleteFinalizing records the terminal attempt id. From here on the local
// answer map is advisory only.
func (s *Session) CompleteFinalizing(finalAttemptID model.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusFinalizing {
		return
	}
	if finalAttemptID.IsZero() {
		finalAttemptID = s.attemptID
	}
	s.finalAttemptID = finalAttemptID
	s.status = StatusFinalized
	s.finishedAt = s.now()
	s.touch()
}

// FinalAttemptID is the id used to fetch results, set once finalized.
func (s *Session) FinalAttemptID() model.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalAttemptID
}

// ─── Delivery bookkeeping ───────────────────────────────────────────

// PendingAnswers returns every answered question whose current selection has
// not been acknowledged yet.
func (s *Session) PendingAnswers() map[model.ID]model.Letter {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make(map[model.ID]model.Letter)
	for id, q := range s.perQuestion {
		if q.Answered && !q.Delivered() {
			pending[id] = q.SelectedOption
		}
	}
	return pending
}

// Ack marks option as delivered for questionID. An ack for an option the
// student has since replaced does not mark the new one as delivered.
func (s *Session) Ack(questionID model.ID, option model.Letter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.perQuestion[questionID]; ok {
		q.ackedOption = option
	}
}

// AcquireSubmit claims the in-flight slot of questionID and returns the option
// to send. ok is false when there is nothing to send or a request for the same
// question is already in flight (its owner resends newer selections).
func (s *Session) AcquireSubmit(questionID model.ID) (model.Letter, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireInProgress(); err != nil {
		return "", false, err
	}
	q, ok := s.perQuestion[questionID]
	if !ok {
		return "", false, fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	if _, busy := s.inflight[questionID]; busy {
		return "", false, nil
	}
	if !q.Answered || q.Delivered() {
		return "", false, nil
	}
	s.inflight[questionID] = make(chan struct{})
	return q.SelectedOption, true, nil
}

// ReleaseSubmit settles the in-flight request for questionID. When the request
// succeeded but the student picked another option meanwhile, the slot is kept
// and the newer option is returned so the caller sends it next.
func (s *Session) ReleaseSubmit(questionID model.ID, sent model.Letter, acked bool) (model.Letter, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.perQuestion[questionID]
	if acked && q != nil {
		q.ackedOption = sent
		if s.status == StatusInProgress && q.Answered && !q.Delivered() {
			return q.SelectedOption, true
		}
	}
	if ch, ok := s.inflight[questionID]; ok {
		close(ch)
		delete(s.inflight, questionID)
	}
	return "", false
}

// WaitInflight blocks until every submission in flight at call time settles.
func (s *Session) WaitInflight(ctx context.Context) error {
	s.mu.Lock()
	waits := make([]chan struct{}, 0, len(s.inflight))
	for _, ch := range s.inflight {
		waits = append(waits, ch)
	}
	s.mu.Unlock()

	for _, ch := range waits {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// ─── Viewer ─────────────────────────────────────────────────────────

// AttachViewer reserves the single exam view allowed to tick this session.
func (s *Session) AttachViewer() (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.viewer {
		return nil, ErrViewerAttached
	}
	s.viewer = true

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.viewer = false
			s.mu.Unlock()
		})
	}, nil
}

// ViewerAttached reports whether a stream currently owns the timer.
func (s *Session) ViewerAttached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewer
}

// ─── Time budget ────────────────────────────────────────────────────

// RemainingSeconds is the time budget minus all recorded time, never negative.
func (s *Session) RemainingSeconds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remainingLocked()
}

// Expired reports an in-progress attempt whose time budget is used up.
func (s *Session) Expired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == StatusInProgress && s.timeBudgetSeconds > 0 && s.remainingLocked() == 0
}

func (s *Session) remainingLocked() int {
	left := s.timeBudgetSeconds - s.totalElapsedLocked()
	if left < 0 {
		return 0
	}
	return left
}

func (s *Session) totalElapsedLocked() int {
	total := 0
	for _, q := range s.perQuestion {
		total += q.ElapsedSeconds
	}
	return total
}
