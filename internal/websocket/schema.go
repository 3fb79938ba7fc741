package websocket

import "github.com/stemsi/exam-gateway/internal/attempt"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionSelect   Action = "select"
	ActionAdvance  Action = "advance"
	ActionRetreat  Action = "retreat"
	ActionFinalize Action = "finalize"
	ActionPing     Action = "ping"
)

// Request is any client message. QID and Option are only read for select.
type Request struct {
	Action Action `json:"action"`
	QID    string `json:"q_id,omitempty"`
	Option string `json:"option,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState     Event = "state"
	EventTick      Event = "tick"
	EventFinalized Event = "finalized"
	EventError     Event = "error"
	EventPong      Event = "pong"
)

// StateResponse carries a full snapshot after every state change.
type StateResponse struct {
	Event    Event             `json:"event"`
	Snapshot *attempt.Snapshot `json:"snapshot"`
}

// TickResponse is the once-per-second timer update.
type TickResponse struct {
	Event            Event  `json:"event"`
	QuestionID       string `json:"q_id"`
	ElapsedSeconds   int    `json:"elapsed_seconds"`
	RemainingSeconds int    `json:"remaining_seconds"`
}

// FinalizedResponse tells the client where to fetch results.
type FinalizedResponse struct {
	Event     Event  `json:"event"`
	AttemptID string `json:"attempt_id"`
	Auto      bool   `json:"auto"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
