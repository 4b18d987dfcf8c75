// Package lifecycle owns task state transitions. Every transition that
// triggers a settlement enqueues the matching outbox event inside the same
// transaction as the task-status write, so an intent is never recorded
// without its trigger or vice versa. The caller gets an answer as soon as the
// transaction commits; settlement itself happens asynchronously.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bountyhive/backend/internal/models"
	"github.com/bountyhive/backend/internal/settlement"
)

var (
	// ErrInvalidTransition is returned when the task's current status does
	// not allow the requested transition.
	ErrInvalidTransition = errors.New("invalid task transition")
	// ErrInvalidAmount is returned when the amount violates the honor-task
	// invariant: zero for honor tasks, positive otherwise.
	ErrInvalidAmount = errors.New("invalid task amount")
	// ErrSettledConflict is returned when the task was already settled the
	// opposite way to the requested transition.
	ErrSettledConflict = errors.New("task already settled the other way")
	// ErrSelfAssignment is returned when a poster tries to hunt their own task.
	ErrSelfAssignment = errors.New("poster cannot accept their own task")
)

// TaskStore is the task repository surface the lifecycle needs.
type TaskStore interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Create(ctx context.Context, t *models.Task) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
	UpdateStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error
	SetHunterTx(ctx context.Context, tx pgx.Tx, id, hunterID uuid.UUID) error
	TouchTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
	ListByPoster(ctx context.Context, posterID uuid.UUID) ([]*models.Task, error)
}

// Outbox is the enqueue side of the event outbox.
type Outbox interface {
	Enqueue(ctx context.Context, tx pgx.Tx, kind string, payload any) (uuid.UUID, error)
}

// SettledQuerier answers whether a task has already been released or refunded.
type SettledQuerier interface {
	IsSettled(ctx context.Context, taskID uuid.UUID) (settlement.Settled, error)
}

type Service struct {
	Tasks   TaskStore
	Outbox  Outbox
	Settled SettledQuerier
}

func NewService(tasks TaskStore, outbox Outbox, settled SettledQuerier) *Service {
	return &Service{Tasks: tasks, Outbox: outbox, Settled: settled}
}

// CreateTask posts a new open task. Honor tasks carry no money and never
// touch the settlement engine.
func (s *Service) CreateTask(ctx context.Context, posterID uuid.UUID, title string, amountCents int64, honor bool) (*models.Task, error) {
	if honor && amountCents != 0 {
		return nil, fmt.Errorf("honor task with amount %d: %w", amountCents, ErrInvalidAmount)
	}
	if !honor && amountCents <= 0 {
		return nil, fmt.Errorf("paid task with amount %d: %w", amountCents, ErrInvalidAmount)
	}
	t := &models.Task{
		ID:          uuid.New(),
		PosterID:    posterID,
		Title:       title,
		AmountCents: amountCents,
		Honor:       honor,
		Status:      models.TaskStatusOpen,
	}
	if err := s.Tasks.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	return s.Tasks.GetByID(ctx, id)
}

func (s *Service) ListByPoster(ctx context.Context, posterID uuid.UUID) ([]*models.Task, error) {
	return s.Tasks.ListByPoster(ctx, posterID)
}

// AcceptTask assigns the hunter, moves the task to in_progress, and enqueues
// the escrow hold, all in one transaction. If the insert fails the status
// change rolls back with it.
func (s *Service) AcceptTask(ctx context.Context, taskID, hunterID uuid.UUID) error {
	task, err := s.Tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != models.TaskStatusOpen {
		return fmt.Errorf("accept %s task: %w", task.Status, ErrInvalidTransition)
	}
	if task.PosterID == hunterID {
		return ErrSelfAssignment
	}

	tx, err := s.Tasks.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := s.Tasks.SetHunterTx(ctx, tx, taskID, hunterID); err != nil {
		return err
	}
	if err := s.Tasks.UpdateStatusTx(ctx, tx, taskID, models.TaskStatusInProgress); err != nil {
		return err
	}
	if !task.Honor {
		if _, err := s.Outbox.Enqueue(ctx, tx, models.EventEscrowHold, models.EscrowHoldPayload{
			TaskID:   taskID,
			PosterID: task.PosterID,
		}); err != nil {
			return fmt.Errorf("enqueue escrow hold: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// CompleteTask enqueues the completion release. The task stays in_progress
// until the settlement engine writes the release entry and marks it
// completed atomically; honor tasks complete immediately.
func (s *Service) CompleteTask(ctx context.Context, taskID uuid.UUID) error {
	task, err := s.Tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != models.TaskStatusInProgress {
		return fmt.Errorf("complete %s task: %w", task.Status, ErrInvalidTransition)
	}
	if task.HunterID == nil {
		return fmt.Errorf("complete task without hunter: %w", ErrInvalidTransition)
	}

	if task.Honor {
		return s.setStatus(ctx, taskID, models.TaskStatusCompleted)
	}

	settled, err := s.Settled.IsSettled(ctx, taskID)
	if err != nil {
		return err
	}
	if settled.Refunded {
		return fmt.Errorf("complete refunded task: %w", ErrSettledConflict)
	}
	if settled.Released {
		return nil
	}

	tx, err := s.Tasks.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	// Write the task row in the same transaction as the enqueue. The row lock
	// serializes concurrent complete and cancel calls, closing the window
	// between the IsSettled check above and the insert.
	if err := s.Tasks.TouchTx(ctx, tx, taskID); err != nil {
		return err
	}
	if _, err := s.Outbox.Enqueue(ctx, tx, models.EventCompletionRelease, models.CompletionReleasePayload{
		TaskID:   taskID,
		HunterID: *task.HunterID,
	}); err != nil {
		return fmt.Errorf("enqueue completion release: %w", err)
	}
	return tx.Commit(ctx)
}

// CancelTask cancels the task. Before any hold exists the cancellation is a
// plain status change; once escrow is held it enqueues a refund and lets the
// settlement engine move the task to cancelled.
func (s *Service) CancelTask(ctx context.Context, taskID uuid.UUID, reason string) error {
	task, err := s.Tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	switch task.Status {
	case models.TaskStatusOpen:
		return s.setStatus(ctx, taskID, models.TaskStatusCancelled)
	case models.TaskStatusInProgress:
	default:
		return fmt.Errorf("cancel %s task: %w", task.Status, ErrInvalidTransition)
	}

	if task.Honor {
		return s.setStatus(ctx, taskID, models.TaskStatusCancelled)
	}

	settled, err := s.Settled.IsSettled(ctx, taskID)
	if err != nil {
		return err
	}
	if settled.Released {
		return fmt.Errorf("cancel released task: %w", ErrSettledConflict)
	}
	if settled.Refunded {
		return nil
	}

	tx, err := s.Tasks.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := s.Tasks.TouchTx(ctx, tx, taskID); err != nil {
		return err
	}
	if _, err := s.Outbox.Enqueue(ctx, tx, models.EventRefund, models.RefundPayload{
		TaskID: taskID,
		Reason: reason,
	}); err != nil {
		return fmt.Errorf("enqueue refund: %w", err)
	}
	return tx.Commit(ctx)
}

// ArchiveTask hides a finished task. Only terminal statuses can be archived.
func (s *Service) ArchiveTask(ctx context.Context, taskID uuid.UUID) error {
	task, err := s.Tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	switch task.Status {
	case models.TaskStatusCompleted, models.TaskStatusCancelled, models.TaskStatusFailed:
		return s.setStatus(ctx, taskID, models.TaskStatusArchived)
	default:
		return fmt.Errorf("archive %s task: %w", task.Status, ErrInvalidTransition)
	}
}

func (s *Service) setStatus(ctx context.Context, taskID uuid.UUID, status string) error {
	tx, err := s.Tasks.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := s.Tasks.UpdateStatusTx(ctx, tx, taskID, status); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
