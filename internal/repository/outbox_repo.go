package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bountyhive/backend/internal/models"
)

// ErrEventNotRequeueable is returned by Requeue when the event does not exist
// or is not in the failed state.
var ErrEventNotRequeueable = errors.New("event is not failed or does not exist")

const (
	backoffBase = time.Second
	backoffCap  = 5 * time.Minute

	// claimTimeout bounds how long a claimed event may sit in processing
	// before ClaimDue hands it out again. A worker that dies between claiming
	// and reporting an outcome leaves its row in processing; without the
	// timeout that row would be invisible to every read path forever.
	claimTimeout = 5 * time.Minute
)

// backoffDelay returns min(2^attempt * base, cap). attempt is the count after
// incrementing, so the first retry waits 2s, then 4s, 8s, ...
func backoffDelay(attempt int) time.Duration {
	d := backoffBase
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	return d
}

// OutboxRepo persists durable settlement intents.
type OutboxRepo struct {
	pool *pgxpool.Pool
}

func NewOutboxRepo(pool *pgxpool.Pool) *OutboxRepo {
	return &OutboxRepo{pool: pool}
}

// Enqueue inserts a pending event within the caller's transaction, so the
// intent commits or rolls back together with the task-status change that
// triggered it.
func (r *OutboxRepo) Enqueue(ctx context.Context, tx pgx.Tx, kind string, payload any) (uuid.UUID, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, err
	}
	id := uuid.New()
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (id, kind, payload, status, attempts, next_retry_at)
		VALUES ($1, $2, $3, 'pending', 0, now())
	`, id, kind, body)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// ClaimDue atomically marks up to limit due events as processing and returns
// them, oldest first. Due means pending with next_retry_at elapsed, or stuck
// in processing past claimTimeout, so events orphaned by a crashed worker are
// picked up again. Reclaiming is safe: every settlement operation tolerates
// replay via the ledger uniqueness check and processor idempotency keys.
// FOR UPDATE SKIP LOCKED guarantees no two concurrent callers claim the same
// row.
func (r *OutboxRepo) ClaimDue(ctx context.Context, limit int) ([]*models.OutboxEvent, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE outbox_events SET status = 'processing', updated_at = now()
		WHERE id IN (
			SELECT id FROM outbox_events
			WHERE (status = 'pending' AND next_retry_at <= now())
			   OR (status = 'processing' AND updated_at < now() - $2)
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, kind, payload, status, attempts, next_retry_at, last_error, created_at, updated_at
	`, limit, claimTimeout)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Complete marks an event completed. Completing an already-completed event is
// a no-op.
func (r *OutboxRepo) Complete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox_events SET status = 'completed', updated_at = now()
		WHERE id = $1 AND status <> 'completed'
	`, id)
	return err
}

// RetryOrFail increments the attempt count, then either reschedules the event
// with exponential backoff or, once maxAttempts is reached, marks it failed
// permanently with the cause recorded.
func (r *OutboxRepo) RetryOrFail(ctx context.Context, id uuid.UUID, cause string, maxAttempts int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var attempts int
	if err := tx.QueryRow(ctx, `
		SELECT attempts FROM outbox_events WHERE id = $1 FOR UPDATE
	`, id).Scan(&attempts); err != nil {
		return err
	}
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(ctx, `
			UPDATE outbox_events
			SET status = 'failed', attempts = $2, last_error = $3, updated_at = now()
			WHERE id = $1
		`, id, attempts, cause)
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE outbox_events
			SET status = 'pending', attempts = $2, last_error = $3,
				next_retry_at = now() + $4, updated_at = now()
			WHERE id = $1
		`, id, attempts, cause, backoffDelay(attempts))
	}
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// MarkFailed moves an event straight to the terminal failed state, bypassing
// remaining retries. Used for permanent processor rejections.
func (r *OutboxRepo) MarkFailed(ctx context.Context, id uuid.UUID, cause string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox_events
		SET status = 'failed', attempts = attempts + 1, last_error = $2, updated_at = now()
		WHERE id = $1
	`, id, cause)
	return err
}

func (r *OutboxRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.OutboxEvent, error) {
	var e models.OutboxEvent
	err := r.pool.QueryRow(ctx, `
		SELECT id, kind, payload, status, attempts, next_retry_at, last_error, created_at, updated_at
		FROM outbox_events WHERE id = $1
	`, id).Scan(&e.ID, &e.Kind, &e.Payload, &e.Status, &e.Attempts, &e.NextRetryAt, &e.LastError, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListFailed returns terminally failed events, oldest first, for operator
// diagnosis. Failed events stay visible indefinitely.
func (r *OutboxRepo) ListFailed(ctx context.Context) ([]*models.OutboxEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, kind, payload, status, attempts, next_retry_at, last_error, created_at, updated_at
		FROM outbox_events WHERE status = 'failed' ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Requeue resets a failed event to pending with a fresh retry budget, for
// operator-driven resolution of stuck settlements.
func (r *OutboxRepo) Requeue(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE outbox_events
		SET status = 'pending', attempts = 0, next_retry_at = now(), last_error = NULL, updated_at = now()
		WHERE id = $1 AND status = 'failed'
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotRequeueable
	}
	return nil
}

func scanEvents(rows pgx.Rows) ([]*models.OutboxEvent, error) {
	var list []*models.OutboxEvent
	for rows.Next() {
		var e models.OutboxEvent
		if err := rows.Scan(&e.ID, &e.Kind, &e.Payload, &e.Status, &e.Attempts, &e.NextRetryAt, &e.LastError, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}
