// Package ops is the operator surface: failed settlements stay queryable
// forever, and a stuck event can be requeued by hand once the underlying
// problem is fixed.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bountyhive/backend/internal/ledger"
	"github.com/bountyhive/backend/internal/models"
	"github.com/bountyhive/backend/internal/repository"
	"github.com/bountyhive/backend/internal/settlement"
)

// OutboxQueries is the outbox surface operators need.
type OutboxQueries interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.OutboxEvent, error)
	ListFailed(ctx context.Context) ([]*models.OutboxEvent, error)
	Requeue(ctx context.Context, id uuid.UUID) error
}

// SettledQuerier reports a task's settlement state.
type SettledQuerier interface {
	IsSettled(ctx context.Context, taskID uuid.UUID) (settlement.Settled, error)
}

type Handler struct {
	outbox  OutboxQueries
	settled SettledQuerier
	ledger  ledger.Service
	log     *slog.Logger
}

func NewHandler(outbox OutboxQueries, settled SettledQuerier, ledgerSvc ledger.Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{outbox: outbox, settled: settled, ledger: ledgerSvc, log: log}
}

// Register adds the operator routes to the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ops/events/failed", h.ListFailedEvents)
	mux.HandleFunc("GET /ops/events/{id}", h.GetEvent)
	mux.HandleFunc("POST /ops/events/{id}/requeue", h.RequeueEvent)
	mux.HandleFunc("GET /ops/tasks/{id}/settlement", h.TaskSettlement)
	mux.HandleFunc("GET /ops/accounts/{id}/balance", h.AccountBalance)
	mux.HandleFunc("GET /ops/accounts/{id}/ledger", h.AccountLedger)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GET /ops/events/failed
func (h *Handler) ListFailedEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.outbox.ListFailed(r.Context())
	if err != nil {
		h.log.Error("list failed events", "error", err)
		http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []*models.OutboxEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// GET /ops/events/{id}
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"bad event id"}`, http.StatusBadRequest)
		return
	}
	ev, err := h.outbox.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
			return
		}
		h.log.Error("get event", "event_id", id, "error", err)
		http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// POST /ops/events/{id}/requeue
func (h *Handler) RequeueEvent(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"bad event id"}`, http.StatusBadRequest)
		return
	}
	if err := h.outbox.Requeue(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrEventNotRequeueable) {
			http.Error(w, `{"error":"event is not failed"}`, http.StatusConflict)
			return
		}
		h.log.Error("requeue event", "event_id", id, "error", err)
		http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
		return
	}
	h.log.Info("event requeued by operator", "event_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "requeued"})
}

// GET /ops/tasks/{id}/settlement
func (h *Handler) TaskSettlement(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"bad task id"}`, http.StatusBadRequest)
		return
	}
	settled, err := h.settled.IsSettled(r.Context(), id)
	if err != nil {
		h.log.Error("settlement status", "task_id", id, "error", err)
		http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, settled)
}

// GET /ops/accounts/{id}/balance
func (h *Handler) AccountBalance(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"bad account id"}`, http.StatusBadRequest)
		return
	}
	balance, err := h.ledger.Balance(r.Context(), id)
	if err != nil {
		h.log.Error("account balance", "account_id", id, "error", err)
		http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"balance_cents": balance})
}

// GET /ops/accounts/{id}/ledger
func (h *Handler) AccountLedger(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"bad account id"}`, http.StatusBadRequest)
		return
	}
	entries, err := h.ledger.EntriesByAccount(r.Context(), id)
	if err != nil {
		h.log.Error("account ledger", "account_id", id, "error", err)
		http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*models.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
