package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rl1809/ticket-ledger/internal/core/domain"
	"github.com/rl1809/ticket-ledger/internal/port"
)

// MemoryLedger is an in-process OwnershipLedger. Every conditional write is
// evaluated under one mutex, giving the same guarantees as the MySQL
// adapter's WHERE clauses.
type MemoryLedger struct {
	mu      sync.Mutex
	nextID  int64
	tickets map[int64]*domain.TicketAsset
	batches map[string]int64
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		tickets: make(map[int64]*domain.TicketAsset),
		batches: make(map[string]int64),
	}
}

func (m *MemoryLedger) CreateBatch(ctx context.Context, ticket domain.TicketAsset) (domain.TicketAsset, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.batches[ticket.BatchKey]; ok {
		return m.tickets[id].Clone(), false, nil
	}

	m.nextID++
	now := time.Now()
	ticket.TicketID = m.nextID
	ticket.CreatedAt = now
	ticket.UpdatedAt = now
	stored := ticket.Clone()
	m.tickets[ticket.TicketID] = &stored
	m.batches[ticket.BatchKey] = ticket.TicketID
	return stored.Clone(), true, nil
}

func (m *MemoryLedger) Get(ctx context.Context, ticketID int64) (*domain.TicketAsset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tickets[ticketID]
	if !ok {
		return nil, nil
	}
	c := t.Clone()
	return &c, nil
}

func (m *MemoryLedger) Reserve(ctx context.Context, ticketID int64, operationID string, from, to domain.IssuanceState) error {
	return m.update(ticketID, func(t *domain.TicketAsset) bool {
		if t.PendingOperationID != "" || t.State != from {
			return false
		}
		t.PendingOperationID = operationID
		t.State = to
		return true
	})
}

func (m *MemoryLedger) Transition(ctx context.Context, ticketID int64, operationID string, from, to domain.IssuanceState) error {
	return m.update(ticketID, func(t *domain.TicketAsset) bool {
		if t.PendingOperationID != operationID || t.State != from {
			return false
		}
		t.State = to
		return true
	})
}

func (m *MemoryLedger) RecordIssuance(ctx context.Context, ticketID int64, operationID string, assetID domain.AssetID, authoritative bool) error {
	return m.update(ticketID, func(t *domain.TicketAsset) bool {
		if t.PendingOperationID != operationID || t.AssetID != nil {
			return false
		}
		id := assetID
		t.AssetID = &id
		t.Authoritative = authoritative
		t.State = domain.StateIssued
		t.PendingOperationID = ""
		return true
	})
}

func (m *MemoryLedger) RecordSale(ctx context.Context, ticketID int64, operationID string, holder domain.Address) error {
	return m.update(ticketID, func(t *domain.TicketAsset) bool {
		if t.PendingOperationID != operationID || t.CurrentHolder != nil {
			return false
		}
		h := holder
		t.CurrentHolder = &h
		t.State = domain.StateSold
		t.PendingOperationID = ""
		t.NeedsReconciliation = false
		t.ReconciliationNote = ""
		return true
	})
}

func (m *MemoryLedger) Release(ctx context.Context, ticketID int64, operationID string, to domain.IssuanceState) error {
	return m.update(ticketID, func(t *domain.TicketAsset) bool {
		if t.PendingOperationID != operationID {
			return false
		}
		t.PendingOperationID = ""
		t.State = to
		t.NeedsReconciliation = false
		t.ReconciliationNote = ""
		return true
	})
}

func (m *MemoryLedger) FlagReconciliation(ctx context.Context, ticketID int64, note string) error {
	return m.update(ticketID, func(t *domain.TicketAsset) bool {
		t.NeedsReconciliation = true
		t.ReconciliationNote = note
		return true
	})
}

func (m *MemoryLedger) ListPending(ctx context.Context) ([]domain.TicketAsset, error) {
	return m.list(func(t *domain.TicketAsset) bool { return t.PendingOperationID != "" }), nil
}

func (m *MemoryLedger) ListHeldBy(ctx context.Context, holder domain.Address) ([]domain.TicketAsset, error) {
	return m.list(func(t *domain.TicketAsset) bool {
		return t.CurrentHolder != nil && *t.CurrentHolder == holder
	}), nil
}

func (m *MemoryLedger) update(ticketID int64, apply func(t *domain.TicketAsset) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tickets[ticketID]
	if !ok {
		return domain.ErrAssetNotFound
	}
	if !apply(t) {
		return port.ErrReservationConflict
	}
	t.Version++
	t.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryLedger) list(keep func(t *domain.TicketAsset) bool) []domain.TicketAsset {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.TicketAsset
	for _, t := range m.tickets {
		if keep(t) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TicketID > out[j].TicketID })
	return out
}

// MemoryOperationStore is an in-process OperationStore and SequenceGenerator.
type MemoryOperationStore struct {
	mu        sync.Mutex
	ops       map[string]domain.PendingOperation
	sequences map[string]uint64
}

func NewMemoryOperationStore() *MemoryOperationStore {
	return &MemoryOperationStore{
		ops:       make(map[string]domain.PendingOperation),
		sequences: make(map[string]uint64),
	}
}

func (m *MemoryOperationStore) Create(ctx context.Context, op domain.PendingOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.ops[op.ID]; ok {
		return port.ErrOperationExists
	}
	m.ops[op.ID] = op
	return nil
}

func (m *MemoryOperationStore) Update(ctx context.Context, op domain.PendingOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.ops[op.ID]
	if !ok {
		return ErrOperationNotFound
	}
	stored.TxID = op.TxID
	stored.Flagged = op.Flagged
	m.ops[op.ID] = stored
	return nil
}

func (m *MemoryOperationStore) Get(ctx context.Context, operationID string) (*domain.PendingOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	op, ok := m.ops[operationID]
	if !ok {
		return nil, nil
	}
	return &op, nil
}

func (m *MemoryOperationStore) IncrementAttempt(ctx context.Context, operationID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	op, ok := m.ops[operationID]
	if !ok {
		return 0, ErrOperationNotFound
	}
	op.Attempt++
	m.ops[operationID] = op
	return op.Attempt, nil
}

func (m *MemoryOperationStore) Delete(ctx context.Context, operationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ops, operationID)
	return nil
}

func (m *MemoryOperationStore) List(ctx context.Context) ([]domain.PendingOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.PendingOperation, 0, len(m.ops))
	for _, op := range m.ops {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

func (m *MemoryOperationStore) Next(ctx context.Context, namespace string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequences[namespace]++
	return m.sequences[namespace], nil
}
