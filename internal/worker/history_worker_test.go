package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-gateway/internal/config"
	"github.com/stemsi/exam-gateway/internal/model"
)

type fakeHistoryStore struct {
	bulkErr   error
	insertErr error
	bulk      int
	inserted  []string
}

func (s *fakeHistoryStore) BulkInsert(_ context.Context, batch []*model.AttemptHistory) error {
	if s.bulkErr != nil {
		return s.bulkErr
	}
	s.bulk += len(batch)
	return nil
}

func (s *fakeHistoryStore) Insert(_ context.Context, h *model.AttemptHistory) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserted = append(s.inserted, h.AttemptID)
	return nil
}

type pushed struct {
	key string
	raw string
}

// fakeQueue records pushes; pushErr fails every RPush.
type fakeQueue struct {
	pushes  []pushed
	pushErr error
}

func (q *fakeQueue) BLPop(_ context.Context, _ time.Duration, _ ...string) *redis.StringSliceCmd {
	return redis.NewStringSliceResult(nil, redis.Nil)
}

func (q *fakeQueue) RPush(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	if q.pushErr != nil {
		return redis.NewIntResult(0, q.pushErr)
	}
	for _, v := range values {
		q.pushes = append(q.pushes, pushed{key: key, raw: string(v.([]byte))})
	}
	return redis.NewIntResult(int64(len(q.pushes)), nil)
}

func TestDecodeHistory(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		h, err := decodeHistory(`{"user_id":"u1","attempt_id":"a1","item_count":3,"auto_finalized":true}`)
		if err != nil {
			t.Fatalf("decodeHistory: %v", err)
		}
		if h.ItemCount != 3 || !h.AutoFinalized || h.FinalizedAt.IsZero() {
			t.Fatalf("decoded %+v", h)
		}
	})

	t.Run("MissingAttempt", func(t *testing.T) {
		if _, err := decodeHistory(`{"user_id":"u1"}`); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("Garbage", func(t *testing.T) {
		if _, err := decodeHistory(`{`); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestFlushFallsBackToSingleInserts(t *testing.T) {
	store := &fakeHistoryStore{bulkErr: errors.New("unnest failed")}
	w := NewHistoryWorker(store, nil, zerolog.Nop())

	w.flushSafe(context.Background(), []*queuedHistory{
		{AttemptHistory: model.AttemptHistory{UserID: "u1", AttemptID: "a1"}},
		{AttemptHistory: model.AttemptHistory{UserID: "u1", AttemptID: "a2"}},
	})
	if len(store.inserted) != 2 || store.inserted[0] != "a1" || store.inserted[1] != "a2" {
		t.Fatalf("inserted = %v", store.inserted)
	}

	store.bulkErr = nil
	w.flushSafe(context.Background(), []*queuedHistory{{AttemptHistory: model.AttemptHistory{UserID: "u2", AttemptID: "a3"}}})
	if store.bulk != 1 {
		t.Fatalf("bulk = %d", store.bulk)
	}
}

func TestFailedInsertsAreRetriedThenParked(t *testing.T) {
	store := &fakeHistoryStore{bulkErr: errors.New("unnest failed"), insertErr: errors.New("constraint")}
	queue := &fakeQueue{}
	w := NewHistoryWorker(store, queue, zerolog.Nop())

	row := &queuedHistory{AttemptHistory: model.AttemptHistory{UserID: "u1", AttemptID: "a1"}}
	for i := 1; i <= HistoryMaxRetries; i++ {
		before := len(queue.pushes)
		w.flushSafe(context.Background(), []*queuedHistory{row})
		if len(queue.pushes) != before+1 {
			t.Fatalf("flush %d: pushes = %d", i, len(queue.pushes))
		}
		last := queue.pushes[len(queue.pushes)-1]
		want := config.WorkerKey.PersistAttemptHistoryQueue
		if i == HistoryMaxRetries {
			want = config.WorkerKey.PersistAttemptHistoryDead
		}
		if last.key != want {
			t.Fatalf("flush %d: pushed to %s, want %s", i, last.key, want)
		}

		decoded, err := decodeHistory(last.raw)
		if err != nil {
			t.Fatalf("decode requeued row: %v", err)
		}
		if decoded.Retries != i || decoded.AttemptID != "a1" {
			t.Fatalf("requeued %+v", decoded)
		}
		row = decoded
	}
}

func TestPushFailureIsNotFatal(t *testing.T) {
	store := &fakeHistoryStore{bulkErr: errors.New("unnest failed"), insertErr: errors.New("constraint")}
	queue := &fakeQueue{pushErr: errors.New("redis down")}
	w := NewHistoryWorker(store, queue, zerolog.Nop())

	w.flushSafe(context.Background(), []*queuedHistory{{AttemptHistory: model.AttemptHistory{UserID: "u1", AttemptID: "a1"}}})
	if len(queue.pushes) != 0 {
		t.Fatalf("pushes = %v", queue.pushes)
	}
}
