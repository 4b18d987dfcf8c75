package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bountyhive/backend/internal/ledger"
	"github.com/bountyhive/backend/internal/models"
	"github.com/bountyhive/backend/internal/repository"
	"github.com/bountyhive/backend/internal/settlement"
)

// --- mocks ---

type mockOutbox struct {
	events   map[uuid.UUID]*models.OutboxEvent
	requeued []uuid.UUID
}

func newMockOutbox(events ...*models.OutboxEvent) *mockOutbox {
	m := &mockOutbox{events: make(map[uuid.UUID]*models.OutboxEvent)}
	for _, e := range events {
		m.events[e.ID] = e
	}
	return m
}

func (m *mockOutbox) GetByID(_ context.Context, id uuid.UUID) (*models.OutboxEvent, error) {
	e, ok := m.events[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return e, nil
}

func (m *mockOutbox) ListFailed(context.Context) ([]*models.OutboxEvent, error) {
	var out []*models.OutboxEvent
	for _, e := range m.events {
		if e.Status == models.EventStatusFailed {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockOutbox) Requeue(_ context.Context, id uuid.UUID) error {
	e, ok := m.events[id]
	if !ok || e.Status != models.EventStatusFailed {
		return repository.ErrEventNotRequeueable
	}
	e.Status = models.EventStatusPending
	m.requeued = append(m.requeued, id)
	return nil
}

type mockSettled struct {
	settled settlement.Settled
}

func (m *mockSettled) IsSettled(context.Context, uuid.UUID) (settlement.Settled, error) {
	return m.settled, nil
}

type mockLedgerSvc struct {
	balance int64
}

func (m *mockLedgerSvc) Balance(context.Context, uuid.UUID) (int64, error) { return m.balance, nil }
func (m *mockLedgerSvc) Deposit(context.Context, uuid.UUID, int64, string) (*models.LedgerEntry, error) {
	return nil, nil
}
func (m *mockLedgerSvc) Withdraw(context.Context, uuid.UUID, int64, string) (*models.LedgerEntry, error) {
	return nil, nil
}
func (m *mockLedgerSvc) EntriesByAccount(context.Context, uuid.UUID) ([]*models.LedgerEntry, error) {
	return nil, nil
}
func (m *mockLedgerSvc) EntriesByTask(context.Context, uuid.UUID) ([]*models.LedgerEntry, error) {
	return nil, nil
}

var _ ledger.Service = (*mockLedgerSvc)(nil)

func newServer(outbox *mockOutbox, settled *mockSettled, ledgerSvc ledger.Service) *httptest.Server {
	if settled == nil {
		settled = &mockSettled{}
	}
	if ledgerSvc == nil {
		ledgerSvc = &mockLedgerSvc{}
	}
	mux := http.NewServeMux()
	NewHandler(outbox, settled, ledgerSvc, nil).Register(mux)
	return httptest.NewServer(mux)
}

func failedEvent() *models.OutboxEvent {
	msg := "card_declined"
	return &models.OutboxEvent{
		ID:        uuid.New(),
		Kind:      models.EventEscrowHold,
		Payload:   json.RawMessage(`{}`),
		Status:    models.EventStatusFailed,
		Attempts:  5,
		LastError: &msg,
	}
}

// --- tests ---

func TestListFailedEvents(t *testing.T) {
	ev := failedEvent()
	srv := newServer(newMockOutbox(ev), nil, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ops/events/failed")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got []models.OutboxEvent
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].ID != ev.ID {
		t.Errorf("got %+v, want the failed event", got)
	}
}

func TestRequeueFailedEvent(t *testing.T) {
	ev := failedEvent()
	outbox := newMockOutbox(ev)
	srv := newServer(outbox, nil, nil)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/ops/events/"+ev.ID.String()+"/requeue", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(outbox.requeued) != 1 || outbox.requeued[0] != ev.ID {
		t.Errorf("event not requeued")
	}
}

func TestRequeueNonFailedEventConflicts(t *testing.T) {
	ev := failedEvent()
	ev.Status = models.EventStatusCompleted
	srv := newServer(newMockOutbox(ev), nil, nil)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/ops/events/"+ev.ID.String()+"/requeue", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestGetEventNotFound(t *testing.T) {
	srv := newServer(newMockOutbox(), nil, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ops/events/" + uuid.NewString())
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestTaskSettlementStatus(t *testing.T) {
	srv := newServer(newMockOutbox(), &mockSettled{settled: settlement.Settled{Released: true}}, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ops/tasks/" + uuid.NewString() + "/settlement")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var got settlement.Settled
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Released || got.Refunded {
		t.Errorf("settled = %+v, want released only", got)
	}
}

func TestAccountBalance(t *testing.T) {
	srv := newServer(newMockOutbox(), nil, &mockLedgerSvc{balance: 4200})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ops/accounts/" + uuid.NewString() + "/balance")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var got map[string]int64
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["balance_cents"] != 4200 {
		t.Errorf("balance = %d, want 4200", got["balance_cents"])
	}
}
