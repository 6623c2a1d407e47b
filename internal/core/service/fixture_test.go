package service

import (
	"context"
	"crypto/ed25519"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/ticket-ledger/internal/adapter/ledger"
	"github.com/rl1809/ticket-ledger/internal/adapter/storage"
	"github.com/rl1809/ticket-ledger/internal/core/domain"
	"github.com/rl1809/ticket-ledger/internal/port"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.SubmitTimeout = time.Second
	opts.ReconcileWorkers = 2
	opts.ReconcileMaxAttempts = 5
	opts.ReconcileRetryDelay = 5 * time.Millisecond
	opts.ReconcileSweepInterval = 20 * time.Millisecond
	opts.UnsubmittedGrace = 0
	return opts
}

func newKeyAuthority(t *testing.T) *SigningAuthority {
	t.Helper()
	_, key, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return NewSigningAuthority(key)
}

func newBuyer(t *testing.T) domain.Address {
	t.Helper()
	return newKeyAuthority(t).Address()
}

type fixture struct {
	ledger   *storage.MemoryLedger
	ops      *storage.MemoryOperationStore
	devnet   *ledger.Devnet
	platform *SigningAuthority
	svc      *LedgerService
}

// newFixture wires the service to in-memory storage and a devnet whose
// first asset id is 123.
func newFixture(t *testing.T, signer *SigningAuthority, opts Options) *fixture {
	t.Helper()
	if signer == nil {
		signer = newKeyAuthority(t)
	}
	f := &fixture{
		ledger:   storage.NewMemoryLedger(),
		ops:      storage.NewMemoryOperationStore(),
		platform: signer,
	}
	f.devnet = ledger.NewDevnet(signer, ledger.DevnetOptions{ConfirmationLag: 1, FirstAssetID: 123})
	f.svc = NewLedgerService(Dependencies{
		Ledger:     f.ledger,
		Operations: f.ops,
		Sequence:   f.ops,
		Client:     f.devnet,
		Signer:     signer,
		Logger:     discardLogger(),
	}, opts)
	return f
}

func (f *fixture) issue(t *testing.T, name string) domain.TicketAsset {
	t.Helper()
	result, err := f.svc.CreateTicketBatch(context.Background(), BatchRequest{EventName: name, Capacity: 100})
	require.NoError(t, err)
	ticket, err := f.ledger.Get(context.Background(), result.TicketID)
	require.NoError(t, err)
	require.NotNil(t, ticket)
	return *ticket
}

func (f *fixture) ticket(t *testing.T, id int64) domain.TicketAsset {
	t.Helper()
	ticket, err := f.ledger.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, ticket)
	return *ticket
}

func (f *fixture) pendingOps(t *testing.T) []domain.PendingOperation {
	t.Helper()
	ops, err := f.ops.List(context.Background())
	require.NoError(t, err)
	return ops
}

// MockLedgerClient is a scripted AssetLedgerClient.
type MockLedgerClient struct {
	mock.Mock
}

var _ port.AssetLedgerClient = (*MockLedgerClient)(nil)

func (m *MockLedgerClient) SuggestedParams(ctx context.Context) (domain.SuggestedParams, error) {
	args := m.Called(ctx)
	return args.Get(0).(domain.SuggestedParams), args.Error(1)
}

func (m *MockLedgerClient) CreateAsset(ctx context.Context, spec domain.AssetSpec) (domain.TxID, error) {
	args := m.Called(ctx, spec)
	return args.Get(0).(domain.TxID), args.Error(1)
}

func (m *MockLedgerClient) TransferAsset(ctx context.Context, assetID domain.AssetID, from, to domain.Address, amount uint64) (domain.TxID, error) {
	args := m.Called(ctx, assetID, from, to, amount)
	return args.Get(0).(domain.TxID), args.Error(1)
}

func (m *MockLedgerClient) WaitForConfirmation(ctx context.Context, txID domain.TxID, maxRounds int) (domain.Confirmation, error) {
	args := m.Called(ctx, txID, maxRounds)
	return args.Get(0).(domain.Confirmation), args.Error(1)
}

func (m *MockLedgerClient) AccountHoldings(ctx context.Context, address domain.Address) ([]domain.Holding, error) {
	args := m.Called(ctx, address)
	holdings, _ := args.Get(0).([]domain.Holding)
	return holdings, args.Error(1)
}

func (m *MockLedgerClient) BuildOptIn(ctx context.Context, address domain.Address, assetID domain.AssetID) ([]byte, error) {
	args := m.Called(ctx, address, assetID)
	blob, _ := args.Get(0).([]byte)
	return blob, args.Error(1)
}

type mockFixture struct {
	ledger   *storage.MemoryLedger
	ops      *storage.MemoryOperationStore
	client   *MockLedgerClient
	platform *SigningAuthority
	svc      *LedgerService
}

func newMockFixture(t *testing.T, opts Options) *mockFixture {
	t.Helper()
	f := &mockFixture{
		ledger:   storage.NewMemoryLedger(),
		ops:      storage.NewMemoryOperationStore(),
		client:   new(MockLedgerClient),
		platform: newKeyAuthority(t),
	}
	f.svc = NewLedgerService(Dependencies{
		Ledger:     f.ledger,
		Operations: f.ops,
		Sequence:   f.ops,
		Client:     f.client,
		Signer:     f.platform,
		Logger:     discardLogger(),
	}, opts)
	return f
}

// issuedTicket stores a ticket already issued with assetID.
func (f *mockFixture) issuedTicket(t *testing.T, assetID domain.AssetID) domain.TicketAsset {
	t.Helper()
	ctx := context.Background()
	ticket, _, err := f.ledger.CreateBatch(ctx, domain.TicketAsset{BatchKey: "batch", EventName: "Gig", Capacity: 1, State: domain.StateUnissued})
	require.NoError(t, err)
	require.NoError(t, f.ledger.Reserve(ctx, ticket.TicketID, "seed", domain.StateUnissued, domain.StateSubmitting))
	require.NoError(t, f.ledger.RecordIssuance(ctx, ticket.TicketID, "seed", assetID, true))
	got, err := f.ledger.Get(ctx, ticket.TicketID)
	require.NoError(t, err)
	return *got
}

func (f *mockFixture) ticket(t *testing.T, id int64) domain.TicketAsset {
	t.Helper()
	ticket, err := f.ledger.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, ticket)
	return *ticket
}

// pendingTransfer reserves ticket for buyer and records a submitted
// transfer op, as if a purchase request had timed out.
func (f *mockFixture) pendingTransfer(t *testing.T, ticket domain.TicketAsset, buyer domain.Address, txID domain.TxID) domain.PendingOperation {
	t.Helper()
	ctx := context.Background()
	op := domain.PendingOperation{
		ID:          "op-" + string(txID),
		Kind:        domain.OperationTransfer,
		TicketID:    ticket.TicketID,
		TxID:        txID,
		Buyer:       buyer,
		SubmittedAt: time.Now().Add(-time.Minute),
	}
	require.NoError(t, f.ledger.Reserve(ctx, ticket.TicketID, op.ID, domain.StateIssued, domain.StateReservationHeld))
	require.NoError(t, f.ledger.Transition(ctx, ticket.TicketID, op.ID, domain.StateReservationHeld, domain.StateAwaitingTransfer))
	require.NoError(t, f.ops.Create(ctx, op))
	return op
}
