// Package settlement implements the money-movement operations driven by the
// outbox worker: escrow hold, completion release, and refund. Correctness
// under retries and concurrent workers rests on the ledger's (task, kind)
// uniqueness constraint, not on locks: operations insert and treat a
// duplicate-key rejection as proof the settlement already happened.
package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bountyhive/backend/internal/models"
	"github.com/bountyhive/backend/internal/payments"
	"github.com/bountyhive/backend/internal/repository"
)

// ErrNonRetryable marks precondition failures that retrying cannot fix. The
// worker fails the event immediately instead of burning the retry budget.
var ErrNonRetryable = errors.New("non-retryable settlement failure")

var (
	// ErrNoHold means the task has no escrow_hold ledger entry to settle.
	ErrNoHold = fmt.Errorf("no escrow hold for task: %w", ErrNonRetryable)
	// ErrConflict means the task was already settled the opposite way: a
	// release exists when a refund was requested, or vice versa.
	ErrConflict = fmt.Errorf("task settled the other way: %w", ErrNonRetryable)
	// ErrBadState means the task is not in a status the operation accepts.
	ErrBadState = fmt.Errorf("task status does not allow settlement: %w", ErrNonRetryable)
)

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TaskStore is the subset of the task repository the engine needs.
type TaskStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
	UpdateStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error
	SetHoldRefTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, holdRef string) error
}

// LedgerStore is the subset of the ledger repository the engine needs.
// CreateTx must report a (task, kind) uniqueness violation as
// repository.ErrDuplicateEntry.
type LedgerStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error
	GetByTaskAndKind(ctx context.Context, taskID uuid.UUID, kind string) (*models.LedgerEntry, error)
	Settled(ctx context.Context, taskID uuid.UUID) (released, refunded bool, err error)
}

// Settled reports which terminal settlement a task has reached. At most one
// flag can be true.
type Settled struct {
	Released bool `json:"released"`
	Refunded bool `json:"refunded"`
}

// Engine executes settlement operations. Each operation is idempotent: run
// again after a crash or duplicate enqueue, it observes the existing ledger
// entry and exits successfully without touching the processor twice.
type Engine struct {
	Pool      TxBeginner
	Tasks     TaskStore
	Ledger    LedgerStore
	Processor payments.Processor
	FeeBps    int64
	Logger    *slog.Logger
}

// NewEngine returns an Engine charging feeBps basis points on released tasks.
func NewEngine(pool TxBeginner, tasks TaskStore, ledger LedgerStore, processor payments.Processor, feeBps int64, logger *slog.Logger) *Engine {
	return &Engine{Pool: pool, Tasks: tasks, Ledger: ledger, Processor: processor, FeeBps: feeBps, Logger: logger}
}

// PlatformFee returns the platform's cut of amountCents, rounded half up.
func (e *Engine) PlatformFee(amountCents int64) int64 {
	return (amountCents*e.FeeBps + 5000) / 10000
}

// HoldEscrow places the escrow hold for a newly accepted task. A permanent
// processor rejection (insufficient funds, declined) moves the task to failed
// so the poster can act, then surfaces the error so the event fails too.
func (e *Engine) HoldEscrow(ctx context.Context, eventID uuid.UUID, p models.EscrowHoldPayload) error {
	task, err := e.Tasks.GetByID(ctx, p.TaskID)
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}
	if task.Honor {
		return nil
	}

	// Idempotency check: a hold already on the ledger means a previous run
	// got through the processor call. Duplicate enqueues and crash-replays
	// land here and succeed without a second charge.
	if _, err := e.Ledger.GetByTaskAndKind(ctx, task.ID, models.LedgerEntryEscrowHold); err == nil {
		return nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("check existing hold: %w", err)
	}

	if task.Status != models.TaskStatusInProgress {
		return fmt.Errorf("hold escrow on %s task %s: %w", task.Status, task.ID, ErrBadState)
	}

	holdRef, err := e.Processor.PlaceHold(ctx, p.PosterID.String(), task.AmountCents, idemKey("hold", eventID))
	if err != nil {
		if payments.IsPermanent(err) {
			// The poster's payment method was rejected; retrying cannot fix
			// it. Park the task so the poster can intervene.
			if failErr := e.failTask(ctx, task.ID); failErr != nil {
				e.Logger.Error("mark task failed after hold rejection", "task_id", task.ID, "error", failErr)
			}
		}
		return fmt.Errorf("place hold: %w", err)
	}

	tx, err := e.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	entry := &models.LedgerEntry{
		ID:          uuid.New(),
		TaskID:      &task.ID,
		AccountID:   p.PosterID,
		Kind:        models.LedgerEntryEscrowHold,
		AmountCents: -task.AmountCents,
		ExternalRef: holdRef,
	}
	if err := e.Ledger.CreateTx(ctx, tx, entry); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			return nil
		}
		return fmt.Errorf("write hold entry: %w", err)
	}
	if err := e.Tasks.SetHoldRefTx(ctx, tx, task.ID, holdRef); err != nil {
		return fmt.Errorf("store hold ref: %w", err)
	}
	return tx.Commit(ctx)
}

// ReleaseCompletion pays the hunter their share and the platform its fee,
// then marks the task completed. The release ledger insert is the
// at-most-once gate: a concurrent or replayed attempt hits the uniqueness
// constraint and exits as an already-settled success.
func (e *Engine) ReleaseCompletion(ctx context.Context, eventID uuid.UUID, p models.CompletionReleasePayload) error {
	task, err := e.Tasks.GetByID(ctx, p.TaskID)
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}
	if task.Honor {
		return nil
	}

	released, refunded, err := e.Ledger.Settled(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("check settled: %w", err)
	}
	if released {
		return nil
	}
	if refunded {
		return fmt.Errorf("release after refund, task %s: %w", task.ID, ErrConflict)
	}
	if _, err := e.Ledger.GetByTaskAndKind(ctx, task.ID, models.LedgerEntryEscrowHold); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("release task %s: %w", task.ID, ErrNoHold)
		}
		return fmt.Errorf("check hold: %w", err)
	}

	fee := e.PlatformFee(task.AmountCents)
	hunterAmount := task.AmountCents - fee

	transferRef, err := e.Processor.ReleaseTransfer(ctx, p.HunterID.String(), hunterAmount, idemKey("release", eventID))
	if err != nil {
		return fmt.Errorf("release transfer: %w", err)
	}

	tx, err := e.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	release := &models.LedgerEntry{
		ID:          uuid.New(),
		TaskID:      &task.ID,
		AccountID:   p.HunterID,
		Kind:        models.LedgerEntryRelease,
		AmountCents: hunterAmount,
		ExternalRef: transferRef,
	}
	if err := e.Ledger.CreateTx(ctx, tx, release); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			return nil
		}
		return fmt.Errorf("write release entry: %w", err)
	}
	platformFee := &models.LedgerEntry{
		ID:          uuid.New(),
		TaskID:      &task.ID,
		AccountID:   models.PlatformAccountID,
		Kind:        models.LedgerEntryPlatformFee,
		AmountCents: fee,
		ExternalRef: transferRef,
	}
	if err := e.Ledger.CreateTx(ctx, tx, platformFee); err != nil {
		return fmt.Errorf("write platform fee entry: %w", err)
	}
	if err := e.Tasks.UpdateStatusTx(ctx, tx, task.ID, models.TaskStatusCompleted); err != nil {
		return fmt.Errorf("mark task completed: %w", err)
	}
	return tx.Commit(ctx)
}

// RefundEscrow reverses the hold back to the poster and marks the task
// cancelled. Mirrors ReleaseCompletion's idempotent-on-conflict behavior.
func (e *Engine) RefundEscrow(ctx context.Context, eventID uuid.UUID, p models.RefundPayload) error {
	task, err := e.Tasks.GetByID(ctx, p.TaskID)
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}
	if task.Honor {
		return nil
	}

	released, refunded, err := e.Ledger.Settled(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("check settled: %w", err)
	}
	if refunded {
		return nil
	}
	if released {
		return fmt.Errorf("refund after release, task %s: %w", task.ID, ErrConflict)
	}
	hold, err := e.Ledger.GetByTaskAndKind(ctx, task.ID, models.LedgerEntryEscrowHold)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("refund task %s: %w", task.ID, ErrNoHold)
		}
		return fmt.Errorf("check hold: %w", err)
	}

	refundRef, err := e.Processor.ReverseHold(ctx, hold.ExternalRef, idemKey("refund", eventID))
	if err != nil {
		return fmt.Errorf("reverse hold: %w", err)
	}

	tx, err := e.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	meta, _ := json.Marshal(map[string]string{"reason": p.Reason})
	refund := &models.LedgerEntry{
		ID:          uuid.New(),
		TaskID:      &task.ID,
		AccountID:   task.PosterID,
		Kind:        models.LedgerEntryRefund,
		AmountCents: task.AmountCents,
		ExternalRef: refundRef,
		Metadata:    meta,
	}
	if err := e.Ledger.CreateTx(ctx, tx, refund); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			return nil
		}
		return fmt.Errorf("write refund entry: %w", err)
	}
	if err := e.Tasks.UpdateStatusTx(ctx, tx, task.ID, models.TaskStatusCancelled); err != nil {
		return fmt.Errorf("mark task cancelled: %w", err)
	}
	return tx.Commit(ctx)
}

// IsSettled reports whether the task has been released or refunded. The
// lifecycle layer queries this before allowing further transitions.
func (e *Engine) IsSettled(ctx context.Context, taskID uuid.UUID) (Settled, error) {
	released, refunded, err := e.Ledger.Settled(ctx, taskID)
	if err != nil {
		return Settled{}, err
	}
	return Settled{Released: released, Refunded: refunded}, nil
}

func (e *Engine) failTask(ctx context.Context, taskID uuid.UUID) error {
	tx, err := e.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := e.Tasks.UpdateStatusTx(ctx, tx, taskID, models.TaskStatusFailed); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// idemKey derives the stable processor idempotency key for an operation from
// the outbox event id.
func idemKey(op string, eventID uuid.UUID) string {
	return op + ":" + eventID.String()
}
