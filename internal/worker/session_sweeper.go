package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// SessionPruner drops stale attempt sessions.
type SessionPruner interface {
	Sweep(now time.Time, grace time.Duration) int
	Len() int
}

// SessionSweeper periodically prunes the in-memory attempt registry.
type SessionSweeper struct {
	pruner SessionPruner
	period time.Duration
	grace  time.Duration
	log    zerolog.Logger
}

func NewSessionSweeper(pruner SessionPruner, period, grace time.Duration, log zerolog.Logger) *SessionSweeper {
	return &SessionSweeper{
		pruner: pruner,
		period: period,
		grace:  grace,
		log:    log.With().Str("component", "session_sweeper").Logger(),
	}
}

func (w *SessionSweeper) Start(ctx context.Context) {
	w.log.Info().Dur("period", w.period).Msg("SessionSweeper started")

	ticker := time.NewTicker(w.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("SessionSweeper stopped")
			return
		case now := <-ticker.C:
			if n := w.pruner.Sweep(now, w.grace); n > 0 {
				w.log.Info().Int("removed", n).Int("remaining", w.pruner.Len()).Msg("Swept attempt sessions")
			}
		}
	}
}
