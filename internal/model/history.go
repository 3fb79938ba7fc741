package model

import "time"

// AttemptHistory is one finalized attempt as recorded by the gateway for the
// student's dashboard. Grading lives on the exam service; only the local facts
// of the attempt are kept here.
type AttemptHistory struct {
	ID             int64     `json:"id"`
	UserID         string    `json:"user_id"`
	ExamID         string    `json:"exam_id"`
	AttemptID      string    `json:"attempt_id"`
	ItemCount      int       `json:"item_count"`
	AnsweredCount  int       `json:"answered_count"`
	ElapsedSeconds int       `json:"elapsed_seconds"`
	AutoFinalized  bool      `json:"auto_finalized"`
	FinalizedAt    time.Time `json:"finalized_at"`
}
