// Package ledger exposes account-level operations over the append-only
// ledger: derived balances, deposits, and withdrawals. Balances are never
// stored; they are the signed sum of an account's entries.
package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bountyhive/backend/internal/models"
)

// ErrInsufficientFunds is returned when a withdrawal would take the derived
// balance negative. The check runs inside the withdrawing transaction, before
// the entry is written.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrInvalidAmount is returned for non-positive deposit or withdrawal amounts.
var ErrInvalidAmount = errors.New("amount must be positive")

// Store is the ledger repository surface the service needs.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	CreateTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error
	LockAccountTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) error
	SumByAccountTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (int64, error)
	SumByAccount(ctx context.Context, accountID uuid.UUID) (int64, error)
	ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.LedgerEntry, error)
	ListByTaskID(ctx context.Context, taskID uuid.UUID) ([]*models.LedgerEntry, error)
}

type Service interface {
	Balance(ctx context.Context, accountID uuid.UUID) (int64, error)
	Deposit(ctx context.Context, accountID uuid.UUID, amountCents int64, externalRef string) (*models.LedgerEntry, error)
	Withdraw(ctx context.Context, accountID uuid.UUID, amountCents int64, externalRef string) (*models.LedgerEntry, error)
	EntriesByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.LedgerEntry, error)
	EntriesByTask(ctx context.Context, taskID uuid.UUID) ([]*models.LedgerEntry, error)
}

type service struct {
	store Store
}

func NewService(store Store) Service {
	return &service{store: store}
}

var _ Service = (*service)(nil)

func (s *service) Balance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	return s.store.SumByAccount(ctx, accountID)
}

func (s *service) Deposit(ctx context.Context, accountID uuid.UUID, amountCents int64, externalRef string) (*models.LedgerEntry, error) {
	if amountCents <= 0 {
		return nil, ErrInvalidAmount
	}
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	entry := &models.LedgerEntry{
		ID:          uuid.New(),
		AccountID:   accountID,
		Kind:        models.LedgerEntryDeposit,
		AmountCents: amountCents,
		ExternalRef: externalRef,
	}
	if err := s.store.CreateTx(ctx, tx, entry); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return entry, nil
}

// Withdraw checks the derived balance and inserts the withdrawal entry under
// a per-account advisory lock held for the rest of the transaction. Sharing a
// transaction is not enough on its own: under read committed two concurrent
// withdrawals would each sum the ledger blind to the other's uncommitted
// entry and both pass the check. The lock serializes them.
func (s *service) Withdraw(ctx context.Context, accountID uuid.UUID, amountCents int64, externalRef string) (*models.LedgerEntry, error) {
	if amountCents <= 0 {
		return nil, ErrInvalidAmount
	}
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	if err := s.store.LockAccountTx(ctx, tx, accountID); err != nil {
		return nil, err
	}
	balance, err := s.store.SumByAccountTx(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}
	if balance < amountCents {
		return nil, ErrInsufficientFunds
	}
	entry := &models.LedgerEntry{
		ID:          uuid.New(),
		AccountID:   accountID,
		Kind:        models.LedgerEntryWithdrawal,
		AmountCents: -amountCents,
		ExternalRef: externalRef,
	}
	if err := s.store.CreateTx(ctx, tx, entry); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *service) EntriesByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.LedgerEntry, error) {
	return s.store.ListByAccountID(ctx, accountID)
}

func (s *service) EntriesByTask(ctx context.Context, taskID uuid.UUID) ([]*models.LedgerEntry, error) {
	return s.store.ListByTaskID(ctx, taskID)
}
