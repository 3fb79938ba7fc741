package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exam-gateway/internal/model"
)

// AttemptHistoryRepository handles finalized attempt records.
type AttemptHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptHistoryRepository creates a new AttemptHistoryRepository.
func NewAttemptHistoryRepository(pool *pgxpool.Pool) *AttemptHistoryRepository {
	return &AttemptHistoryRepository{pool: pool}
}

// Insert stores one record. A record already stored for the same attempt is kept.
func (r *AttemptHistoryRepository) Insert(ctx context.Context, h *model.AttemptHistory) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO attempt_history
		   (user_id, exam_id, attempt_id, item_count, answered_count, elapsed_seconds, auto_finalized, finalized_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (user_id, attempt_id) DO NOTHING`,
		h.UserID, h.ExamID, h.AttemptID, h.ItemCount, h.AnsweredCount, h.ElapsedSeconds, h.AutoFinalized, h.FinalizedAt,
	)
	return err
}

// BulkInsert stores a batch in one round trip.
func (r *AttemptHistoryRepository) BulkInsert(ctx context.Context, batch []*model.AttemptHistory) error {
	n := len(batch)
	if n == 0 {
		return nil
	}

	users := make([]string, n)
	exams := make([]string, n)
	attempts := make([]string, n)
	items := make([]int32, n)
	answered := make([]int32, n)
	elapsed := make([]int32, n)
	auto := make([]bool, n)
	finalizedAts := make([]time.Time, n)

	for i, h := range batch {
		users[i] = h.UserID
		exams[i] = h.ExamID
		attempts[i] = h.AttemptID
		items[i] = int32(h.ItemCount)
		answered[i] = int32(h.AnsweredCount)
		elapsed[i] = int32(h.ElapsedSeconds)
		auto[i] = h.AutoFinalized
		finalizedAts[i] = h.FinalizedAt
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO attempt_history
		   (user_id, exam_id, attempt_id, item_count, answered_count, elapsed_seconds, auto_finalized, finalized_at)
		 SELECT * FROM UNNEST(
			$1::text[],
			$2::text[],
			$3::text[],
			$4::int[],
			$5::int[],
			$6::int[],
			$7::bool[],
			$8::timestamptz[]
		 )
		 ON CONFLICT (user_id, attempt_id) DO NOTHING`,
		users, exams, attempts, items, answered, elapsed, auto, finalizedAts,
	)
	if err != nil {
		return fmt.Errorf("bulk insert attempt history: %w", err)
	}
	return nil
}

// ListByUser returns the most recent records of a user, newest first.
func (r *AttemptHistoryRepository) ListByUser(ctx context.Context, userID string, limit int) ([]model.AttemptHistory, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, exam_id, attempt_id, item_count, answered_count, elapsed_seconds, auto_finalized, finalized_at
		 FROM attempt_history
		 WHERE user_id = $1
		 ORDER BY finalized_at DESC
		 LIMIT $2`, userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AttemptHistory
	for rows.Next() {
		var h model.AttemptHistory
		if err := rows.Scan(&h.ID, &h.UserID, &h.ExamID, &h.AttemptID, &h.ItemCount,
			&h.AnsweredCount, &h.ElapsedSeconds, &h.AutoFinalized, &h.FinalizedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
