package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bountyhive/backend/internal/models"
)

// LedgerRepo persists the append-only ledger. There are no update or delete
// methods on purpose: corrections are new entries.
type LedgerRepo struct {
	pool *pgxpool.Pool
}

func NewLedgerRepo(pool *pgxpool.Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

func (r *LedgerRepo) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// CreateTx inserts a ledger entry inside the given transaction. A violation of
// the (task_id, kind) uniqueness constraint is reported as ErrDuplicateEntry.
func (r *LedgerRepo) CreateTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO ledger_entries (id, task_id, account_id, kind, amount_cents, external_ref, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, e.ID, e.TaskID, e.AccountID, e.Kind, e.AmountCents, e.ExternalRef, e.Metadata).Scan(&e.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("ledger entry task=%v kind=%s: %w", e.TaskID, e.Kind, ErrDuplicateEntry)
	}
	return err
}

// GetByTaskAndKind returns the entry for (taskID, kind), or pgx.ErrNoRows.
// Only meaningful for the kinds covered by the uniqueness constraint.
func (r *LedgerRepo) GetByTaskAndKind(ctx context.Context, taskID uuid.UUID, kind string) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := r.pool.QueryRow(ctx, `
		SELECT id, task_id, account_id, kind, amount_cents, external_ref, metadata, created_at
		FROM ledger_entries WHERE task_id = $1 AND kind = $2
	`, taskID, kind).Scan(&e.ID, &e.TaskID, &e.AccountID, &e.Kind, &e.AmountCents, &e.ExternalRef, &e.Metadata, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// SumByAccountTx computes the account balance as the signed sum of all its
// entries, inside the given transaction. Used for the balance check that must
// precede a withdrawal or hold.
// LockAccountTx takes a transaction-scoped advisory lock keyed on the account
// id. Balances are derived, so there is no account row to SELECT FOR UPDATE;
// the advisory lock serializes check-then-insert sequences on the same
// account instead. Released automatically at commit or rollback.
func (r *LedgerRepo) LockAccountTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1::text))`, accountID)
	return err
}

func (r *LedgerRepo) SumByAccountTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (int64, error) {
	var sum int64
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0) FROM ledger_entries WHERE account_id = $1
	`, accountID).Scan(&sum)
	return sum, err
}

// SumByAccount is SumByAccountTx against the pool, for read-only callers.
func (r *LedgerRepo) SumByAccount(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var sum int64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0) FROM ledger_entries WHERE account_id = $1
	`, accountID).Scan(&sum)
	return sum, err
}

func (r *LedgerRepo) ListByTaskID(ctx context.Context, taskID uuid.UUID) ([]*models.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, task_id, account_id, kind, amount_cents, external_ref, metadata, created_at
		FROM ledger_entries WHERE task_id = $1 ORDER BY created_at ASC
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (r *LedgerRepo) ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, task_id, account_id, kind, amount_cents, external_ref, metadata, created_at
		FROM ledger_entries WHERE account_id = $1 ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Settled reports whether the task has a release entry and whether it has a
// refund entry. At most one of the two can be true, by the uniqueness
// constraint plus the mutual-exclusion checks in the settlement engine.
func (r *LedgerRepo) Settled(ctx context.Context, taskID uuid.UUID) (released, refunded bool, err error) {
	rows, err := r.pool.Query(ctx, `
		SELECT kind FROM ledger_entries WHERE task_id = $1 AND kind IN ($2, $3)
	`, taskID, models.LedgerEntryRelease, models.LedgerEntryRefund)
	if err != nil {
		return false, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		if err := rows.Scan(&kind); err != nil {
			return false, false, err
		}
		switch kind {
		case models.LedgerEntryRelease:
			released = true
		case models.LedgerEntryRefund:
			refunded = true
		}
	}
	return released, refunded, rows.Err()
}

func scanEntries(rows pgx.Rows) ([]*models.LedgerEntry, error) {
	var list []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.TaskID, &e.AccountID, &e.Kind, &e.AmountCents, &e.ExternalRef, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}
