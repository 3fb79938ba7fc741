package attempt

import (
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exam-gateway/internal/model"
)

// QuestionSnapshot is the read-only view of one question.
type QuestionSnapshot struct {
	ID             model.ID      `json:"id"`
	SelectedOption *model.Letter `json:"selected_option,omitempty"`
	ElapsedSeconds int           `json:"elapsed_seconds"`
	Answered       bool          `json:"answered"`
	Delivered      bool          `json:"delivered"`
}

// Snapshot is a consistent copy of the session for rendering and logging.
type Snapshot struct {
	Handle            uuid.UUID          `json:"handle"`
	Status            Status             `json:"status"`
	ExamID            model.ID           `json:"exam_id"`
	AttemptID         model.ID           `json:"attempt_id,omitempty"`
	FinalAttemptID    model.ID           `json:"final_attempt_id,omitempty"`
	CurrentIndex      int                `json:"current_index"`
	CurrentQuestion   model.ID           `json:"current_question"`
	Questions         []QuestionSnapshot `json:"questions"`
	AnsweredCount     int                `json:"answered_count"`
	ElapsedSeconds    int                `json:"elapsed_seconds"`
	TimeBudgetSeconds int                `json:"time_budget_seconds"`
	RemainingSeconds  int                `json:"remaining_seconds"`
	StartedAt         *time.Time         `json:"started_at,omitempty"`
	FinishedAt        *time.Time         `json:"finished_at,omitempty"`
}

// Snapshot copies the session under its lock. Questions follow blueprint order.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Handle:            s.handle,
		Status:            s.status,
		ExamID:            s.examID,
		AttemptID:         s.attemptID,
		FinalAttemptID:    s.finalAttemptID,
		CurrentIndex:      s.currentIndex,
		CurrentQuestion:   s.items[s.currentIndex],
		Questions:         make([]QuestionSnapshot, 0, len(s.items)),
		ElapsedSeconds:    s.totalElapsedLocked(),
		TimeBudgetSeconds: s.timeBudgetSeconds,
		RemainingSeconds:  s.remainingLocked(),
	}
	if !s.startedAt.IsZero() {
		t := s.startedAt
		snap.StartedAt = &t
	}
	if !s.finishedAt.IsZero() {
		t := s.finishedAt
		snap.FinishedAt = &t
	}

	for _, id := range s.items {
		q := s.perQuestion[id]
		qs := QuestionSnapshot{
			ID:             id,
			ElapsedSeconds: q.ElapsedSeconds,
			Answered:       q.Answered,
			Delivered:      q.Delivered(),
		}
		if q.Answered {
			opt := q.SelectedOption
			qs.SelectedOption = &opt
			snap.AnsweredCount++
		}
		snap.Questions = append(snap.Questions, qs)
	}
	return snap
}

// Question returns a copy of one question's state.
func (s *Session) Question(id model.ID) (QuestionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.perQuestion[id]
	if !ok {
		return QuestionState{}, false
	}
	return *q, true
}

// Find returns the snapshot of one question.
func (s Snapshot) Find(id model.ID) (QuestionSnapshot, bool) {
	for _, q := range s.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return QuestionSnapshot{}, false
}
