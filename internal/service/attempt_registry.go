package service

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-gateway/internal/attempt"
	"github.com/stemsi/exam-gateway/internal/metrics"
	"github.com/stemsi/exam-gateway/internal/model"
)

// Registry errors.
var (
	ErrSessionNotFound     = errors.New("attempt session not found")
	ErrActiveAttemptExists = errors.New("user already has an attempt in progress")
)

// terminalRetention keeps finished sessions around long enough for the UI to
// read the final attempt id after a reconnect.
const terminalRetention = 5 * time.Minute

// AttemptRegistry holds the live sessions of this gateway process.
// A user may own at most one started, unfinished attempt at a time.
type AttemptRegistry struct {
	mu           sync.RWMutex
	sessions     map[uuid.UUID]*attempt.Session
	activeByUser map[string]uuid.UUID
	log          zerolog.Logger
}

// NewAttemptRegistry creates an empty registry.
func NewAttemptRegistry(log zerolog.Logger) *AttemptRegistry {
	return &AttemptRegistry{
		sessions:     make(map[uuid.UUID]*attempt.Session),
		activeByUser: make(map[string]uuid.UUID),
		log:          log.With().Str("component", "attempt_registry").Logger(),
	}
}

// Add registers a new session.
func (r *AttemptRegistry) Add(s *attempt.Session) {
	r.mu.Lock()
	r.sessions[s.Handle()] = s
	n := len(r.sessions)
	r.mu.Unlock()
	metrics.ActiveSessions.Set(float64(n))
}

// Get returns the session if it exists and belongs to userID.
func (r *AttemptRegistry) Get(handle uuid.UUID, userID string) (*attempt.Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[handle]
	r.mu.RUnlock()
	if !ok || s.UserID() != userID {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// FindByAttempt looks up the session that produced attemptID for userID.
func (r *AttemptRegistry) FindByAttempt(userID string, attemptID model.ID) (*attempt.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.UserID() != userID {
			continue
		}
		if s.AttemptID() == attemptID || s.FinalAttemptID() == attemptID {
			return s, true
		}
	}
	return nil, false
}

// Claim marks s as the user's active attempt. Another unfinished attempt of the
// same user makes the claim fail.
func (r *AttemptRegistry) Claim(s *attempt.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.activeByUser[s.UserID()]; ok && h != s.Handle() {
		if other, live := r.sessions[h]; live && !other.Status().Terminal() {
			return ErrActiveAttemptExists
		}
	}
	r.activeByUser[s.UserID()] = s.Handle()
	return nil
}

// Release drops the active claim held by s, if any.
func (r *AttemptRegistry) Release(s *attempt.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.activeByUser[s.UserID()]; ok && h == s.Handle() {
		delete(r.activeByUser, s.UserID())
	}
}

// Remove forgets a session entirely.
func (r *AttemptRegistry) Remove(s *attempt.Session) {
	r.mu.Lock()
	delete(r.sessions, s.Handle())
	if h, ok := r.activeByUser[s.UserID()]; ok && h == s.Handle() {
		delete(r.activeByUser, s.UserID())
	}
	n := len(r.sessions)
	r.mu.Unlock()
	metrics.ActiveSessions.Set(float64(n))
}

// Sweep drops finished sessions and attempts idle for longer than their whole
// time budget plus grace. It returns how many sessions were removed.
func (r *AttemptRegistry) Sweep(now time.Time, grace time.Duration) int {
	r.mu.RLock()
	candidates := make([]*attempt.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		candidates = append(candidates, s)
	}
	r.mu.RUnlock()

	removed := 0
	for _, s := range candidates {
		idle := now.Sub(s.LastActivity())
		status := s.Status()

		switch {
		case status.Terminal() && idle > terminalRetention:
		case status == attempt.StatusNotStarted && idle > grace:
		case status == attempt.StatusInProgress && idle > s.TimeBudget()+grace:
			if err := s.Abandon(true); err != nil {
				continue
			}
			r.log.Warn().
				Str("handle", s.Handle().String()).
				Str("user_id", s.UserID()).
				Dur("idle", idle).
				Msg("Dropping stale attempt")
		default:
			continue
		}
		r.Remove(s)
		removed++
	}
	return removed
}

// Len is the number of sessions held.
func (r *AttemptRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
