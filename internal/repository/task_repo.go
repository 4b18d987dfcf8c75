package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bountyhive/backend/internal/models"
)

type TaskRepo struct {
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

func (r *TaskRepo) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *TaskRepo) Create(ctx context.Context, t *models.Task) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO tasks (id, poster_id, hunter_id, title, amount_cents, honor, status, hold_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`, t.ID, t.PosterID, t.HunterID, t.Title, t.AmountCents, t.Honor, t.Status, t.HoldRef).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	var t models.Task
	err := r.pool.QueryRow(ctx, `
		SELECT id, poster_id, hunter_id, title, amount_cents, honor, status, hold_ref, created_at, updated_at
		FROM tasks WHERE id = $1
	`, id).Scan(&t.ID, &t.PosterID, &t.HunterID, &t.Title, &t.AmountCents, &t.Honor, &t.Status, &t.HoldRef, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateStatusTx moves the task to status inside the given transaction so the
// status change commits or rolls back together with the accompanying ledger
// insert or outbox enqueue.
func (r *TaskRepo) UpdateStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error {
	_, err := tx.Exec(ctx, `
		UPDATE tasks SET status = $2, updated_at = now() WHERE id = $1
	`, id, status)
	return err
}

// SetHunterTx assigns the hunter inside the given transaction.
func (r *TaskRepo) SetHunterTx(ctx context.Context, tx pgx.Tx, id, hunterID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE tasks SET hunter_id = $2, updated_at = now() WHERE id = $1
	`, id, hunterID)
	return err
}

// SetHoldRefTx stores the payment processor's hold reference inside the given
// transaction, alongside the escrow_hold ledger insert.
func (r *TaskRepo) SetHoldRefTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, holdRef string) error {
	_, err := tx.Exec(ctx, `
		UPDATE tasks SET hold_ref = $2, updated_at = now() WHERE id = $1
	`, id, holdRef)
	return err
}

// TouchTx bumps the task's updated_at inside the given transaction, taking
// the row lock so concurrent transitions on the same task serialize even when
// the transition itself writes no other column.
func (r *TaskRepo) TouchTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE tasks SET updated_at = now() WHERE id = $1
	`, id)
	return err
}

func (r *TaskRepo) ListByPoster(ctx context.Context, posterID uuid.UUID) ([]*models.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, poster_id, hunter_id, title, amount_cents, honor, status, hold_ref, created_at, updated_at
		FROM tasks WHERE poster_id = $1 ORDER BY created_at DESC
	`, posterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Task
	for rows.Next() {
		var t models.Task
		if err := rows.Scan(&t.ID, &t.PosterID, &t.HunterID, &t.Title, &t.AmountCents, &t.Honor, &t.Status, &t.HoldRef, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}
