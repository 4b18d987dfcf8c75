// Package worker drives pending outbox events to completion. A single polling
// loop claims due events, dispatches each to the matching settlement
// operation, and converts every per-event error into a retry-or-fail decision
// so one event can never abort a sweep or crash the process.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bountyhive/backend/internal/models"
	"github.com/bountyhive/backend/internal/payments"
	"github.com/bountyhive/backend/internal/settlement"
)

const (
	defaultInterval  = 5 * time.Second
	defaultBatchSize = 25
	defaultAttempts  = 5
)

// OutboxStore is the outbox surface the worker drives.
type OutboxStore interface {
	ClaimDue(ctx context.Context, limit int) ([]*models.OutboxEvent, error)
	Complete(ctx context.Context, id uuid.UUID) error
	RetryOrFail(ctx context.Context, id uuid.UUID, cause string, maxAttempts int) error
	MarkFailed(ctx context.Context, id uuid.UUID, cause string) error
}

// Engine is the settlement operation surface the worker dispatches to.
type Engine interface {
	HoldEscrow(ctx context.Context, eventID uuid.UUID, p models.EscrowHoldPayload) error
	ReleaseCompletion(ctx context.Context, eventID uuid.UUID, p models.CompletionReleasePayload) error
	RefundEscrow(ctx context.Context, eventID uuid.UUID, p models.RefundPayload) error
}

// Settler is the settlement worker. Construct one per process and run it with
// Run; there is no package-level state. Sweeps run sequentially inside Run,
// so at most one is in flight per Settler.
type Settler struct {
	Outbox      OutboxStore
	Engine      Engine
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	Logger      *slog.Logger
}

// NewSettler applies defaults for any zero option.
func NewSettler(outbox OutboxStore, engine Engine, interval time.Duration, maxAttempts int, logger *slog.Logger) *Settler {
	if interval <= 0 {
		interval = defaultInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultAttempts
	}
	return &Settler{
		Outbox:      outbox,
		Engine:      engine,
		Interval:    interval,
		BatchSize:   defaultBatchSize,
		MaxAttempts: maxAttempts,
		Logger:      logger,
	}
}

// Run polls until ctx is cancelled. Claim errors are logged and the loop
// keeps going; durable state means nothing is lost across restarts.
func (s *Settler) Run(ctx context.Context) {
	t := time.NewTicker(s.Interval)
	defer t.Stop()
	s.Logger.Info("settlement worker started", "interval", s.Interval, "max_attempts", s.MaxAttempts)
	for {
		select {
		case <-ctx.Done():
			s.Logger.Info("settlement worker stopped")
			return
		case <-t.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep claims one batch of due events and processes them in order. Exported
// so tests and operator tooling can drive the worker without the ticker.
func (s *Settler) Sweep(ctx context.Context) {
	start := time.Now()
	sweepsTotal.Inc()
	defer func() { sweepDuration.Observe(time.Since(start).Seconds()) }()

	events, err := s.Outbox.ClaimDue(ctx, s.BatchSize)
	if err != nil {
		s.Logger.Error("claim due events", "error", err)
		return
	}
	for _, ev := range events {
		s.process(ctx, ev)
	}
}

// process runs one event end to end. Success completes the event; a
// non-retryable error fails it immediately; anything else reschedules it with
// backoff until the retry budget runs out.
func (s *Settler) process(ctx context.Context, ev *models.OutboxEvent) {
	err := s.dispatch(ctx, ev)
	if err == nil {
		if cErr := s.Outbox.Complete(ctx, ev.ID); cErr != nil {
			s.Logger.Error("complete event", "event_id", ev.ID, "error", cErr)
			return
		}
		eventsTotal.WithLabelValues(ev.Kind, outcomeCompleted).Inc()
		return
	}

	if payments.IsPermanent(err) || errors.Is(err, settlement.ErrNonRetryable) {
		s.Logger.Error("event failed permanently", "event_id", ev.ID, "kind", ev.Kind, "error", err)
		if fErr := s.Outbox.MarkFailed(ctx, ev.ID, err.Error()); fErr != nil {
			s.Logger.Error("mark event failed", "event_id", ev.ID, "error", fErr)
		}
		eventsTotal.WithLabelValues(ev.Kind, outcomeFailed).Inc()
		return
	}

	s.Logger.Warn("event attempt failed, scheduling retry",
		"event_id", ev.ID, "kind", ev.Kind, "attempts", ev.Attempts, "error", err)
	if rErr := s.Outbox.RetryOrFail(ctx, ev.ID, err.Error(), s.MaxAttempts); rErr != nil {
		s.Logger.Error("retry-or-fail event", "event_id", ev.ID, "error", rErr)
		return
	}
	eventsTotal.WithLabelValues(ev.Kind, outcomeRetried).Inc()
}

// dispatch decodes the typed payload and invokes the matching operation.
func (s *Settler) dispatch(ctx context.Context, ev *models.OutboxEvent) error {
	payload, err := ev.DecodePayload()
	if err != nil {
		// An undecodable payload never becomes decodable: fail, don't retry.
		return errors.Join(err, settlement.ErrNonRetryable)
	}
	switch p := payload.(type) {
	case models.EscrowHoldPayload:
		return s.Engine.HoldEscrow(ctx, ev.ID, p)
	case models.CompletionReleasePayload:
		return s.Engine.ReleaseCompletion(ctx, ev.ID, p)
	case models.RefundPayload:
		return s.Engine.RefundEscrow(ctx, ev.ID, p)
	default:
		return errors.Join(errors.New("unhandled payload type"), settlement.ErrNonRetryable)
	}
}
