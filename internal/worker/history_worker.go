package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-gateway/internal/config"
	"github.com/stemsi/exam-gateway/internal/model"
)

const (
	HistoryBatchSize    = 50
	HistoryBatchTimeout = 2 * time.Second
	HistoryPollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
	// HistoryMaxRetries is how many failed inserts a row gets before it is
	// parked on the dead-letter list.
	HistoryMaxRetries = 5
)

// HistoryStore persists attempt history rows.
type HistoryStore interface {
	BulkInsert(ctx context.Context, batch []*model.AttemptHistory) error
	Insert(ctx context.Context, h *model.AttemptHistory) error
}

// HistoryQueue is the Redis list API the worker needs. *redis.Client implements it.
type HistoryQueue interface {
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// queuedHistory is the queue payload: the row plus its failed insert count.
type queuedHistory struct {
	model.AttemptHistory
	Retries int `json:"retries,omitempty"`
}

// HistoryWorker drains the attempt history queue into Postgres.
type HistoryWorker struct {
	store HistoryStore
	queue HistoryQueue
	log   zerolog.Logger
}

func NewHistoryWorker(store HistoryStore, queue HistoryQueue, log zerolog.Logger) *HistoryWorker {
	return &HistoryWorker{
		store: store,
		queue: queue,
		log:   log.With().Str("component", "history_worker").Logger(),
	}
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

func (w *HistoryWorker) Start(ctx context.Context) {
	w.log.Info().Msg("HistoryWorker started")

	batch := make([]*queuedHistory, 0, HistoryBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= HistoryBatchSize || time.Since(lastFlush) >= HistoryBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			item, err := w.queue.BLPop(ctx, HistoryPollTimeout, config.WorkerKey.PersistAttemptHistoryQueue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			h, err := decodeHistory(item[1])
			if err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}

			batch = append(batch, h)
		}
	}
}

func decodeHistory(raw string) (*queuedHistory, error) {
	var h queuedHistory
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		return nil, err
	}
	if h.UserID == "" || h.AttemptID == "" {
		return nil, errors.New("attempt history without user or attempt id")
	}
	if h.FinalizedAt.IsZero() {
		h.FinalizedAt = time.Now().UTC()
	}
	return &h, nil
}

// ----------------------------------------------------------------
// Bulk insert with single-row fallback
// ----------------------------------------------------------------

func (w *HistoryWorker) flushSafe(ctx context.Context, batch []*queuedHistory) {
	if len(batch) == 0 {
		return
	}

	rows := make([]*model.AttemptHistory, len(batch))
	for i, q := range batch {
		rows[i] = &q.AttemptHistory
	}

	if err := w.store.BulkInsert(ctx, rows); err != nil {
		w.log.Warn().Err(err).Msg("bulk history insert failed, using fallback")

		for _, q := range batch {
			if err := w.store.Insert(ctx, &q.AttemptHistory); err != nil {
				w.retry(ctx, q, err)
			}
		}
		return
	}

	w.log.Debug().Int("count", len(batch)).Msg("Attempt history persisted")
}

// retry requeues a row that failed to insert, or parks it on the dead-letter
// list once it has used up its retries.
func (w *HistoryWorker) retry(ctx context.Context, q *queuedHistory, cause error) {
	q.Retries++
	key := config.WorkerKey.PersistAttemptHistoryQueue
	if q.Retries >= HistoryMaxRetries {
		key = config.WorkerKey.PersistAttemptHistoryDead
	}

	log := w.log.With().
		Str("attempt_id", q.AttemptID).
		Int("retries", q.Retries).
		Str("queue", key).
		Logger()
	log.Error().Err(cause).Msg("history insert failed")

	raw, err := json.Marshal(q)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode history row, dropped")
		return
	}
	if err := w.queue.RPush(ctx, key, raw).Err(); err != nil {
		log.Error().Err(err).Msg("Failed to push history row, dropped")
	}
}
