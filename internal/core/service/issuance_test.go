package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/ticket-ledger/internal/adapter/storage"
	"github.com/rl1809/ticket-ledger/internal/core/domain"
)

func TestCreateTicketBatch_Confirmed(t *testing.T) {
	f := newFixture(t, nil, testOptions())

	result, err := f.svc.CreateTicketBatch(context.Background(), BatchRequest{EventName: "Tech Fest", Capacity: 100})

	require.NoError(t, err)
	assert.Equal(t, domain.StateIssued, result.State)
	require.NotNil(t, result.AssetID)
	assert.Equal(t, domain.AssetID(123), *result.AssetID)
	assert.True(t, result.Authoritative)

	ticket := f.ticket(t, result.TicketID)
	assert.Nil(t, ticket.CurrentHolder)
	assert.Empty(t, ticket.PendingOperationID)
	assert.Empty(t, f.pendingOps(t))
}

func TestCreateTicketBatch_Idempotent(t *testing.T) {
	f := newFixture(t, nil, testOptions())
	ctx := context.Background()
	req := BatchRequest{BatchKey: "tech-fest-2026", EventName: "Tech Fest", Capacity: 100}

	first, err := f.svc.CreateTicketBatch(ctx, req)
	require.NoError(t, err)
	second, err := f.svc.CreateTicketBatch(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.TicketID, second.TicketID)
	assert.Equal(t, *first.AssetID, *second.AssetID)
	assert.Equal(t, 1, f.devnet.Submissions())
}

func TestCreateTicketBatch_IdempotentWhileAwaitingConfirmation(t *testing.T) {
	f := newFixture(t, nil, testOptions())
	ctx := context.Background()
	req := BatchRequest{BatchKey: "slow-batch", EventName: "Slow", Capacity: 10}
	f.devnet.SetPaused(true)

	first, err := f.svc.CreateTicketBatch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingConfirmation, first.State)
	assert.Nil(t, first.AssetID)

	second, err := f.svc.CreateTicketBatch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingConfirmation, second.State)
	assert.Equal(t, 1, f.devnet.Submissions())

	// background polling, not resubmission, completes the issuance
	f.devnet.SetPaused(false)
	opID := f.ticket(t, first.TicketID).PendingOperationID
	outcome, err := f.svc.Reconciler.ReconcileOnce(ctx, opID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, outcome)

	ticket := f.ticket(t, first.TicketID)
	assert.Equal(t, domain.StateIssued, ticket.State)
	assert.Equal(t, domain.AssetID(123), *ticket.AssetID)
	assert.Equal(t, 1, f.devnet.Submissions())
}

func TestCreateTicketBatch_ConcurrentRetries(t *testing.T) {
	f := newFixture(t, nil, testOptions())
	req := BatchRequest{BatchKey: "same", EventName: "Concurrent", Capacity: 5}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateTicketBatch(context.Background(), req)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.devnet.Submissions())
}

func TestCreateTicketBatch_FallbackWithoutSigner(t *testing.T) {
	f := newFixture(t, &SigningAuthority{}, testOptions())
	ctx := context.Background()

	first, err := f.svc.CreateTicketBatch(ctx, BatchRequest{EventName: "Offline Fest", Capacity: 50})
	require.NoError(t, err)
	second, err := f.svc.CreateTicketBatch(ctx, BatchRequest{EventName: "Offline Fest 2", Capacity: 50})
	require.NoError(t, err)

	assert.Equal(t, domain.StateIssued, first.State)
	assert.False(t, first.Authoritative)
	require.NotNil(t, first.AssetID)
	assert.True(t, IsFallbackAsset(*first.AssetID))
	assert.Equal(t, *first.AssetID+1, *second.AssetID)
	assert.Zero(t, f.devnet.Submissions())
}

func TestCreateTicketBatch_HardSubmissionError(t *testing.T) {
	f := newFixture(t, nil, testOptions())
	f.devnet.FailNextSubmission(fmt.Errorf("%w: fee below minimum", domain.ErrTransactionRejected))

	result, err := f.svc.CreateTicketBatch(context.Background(), BatchRequest{EventName: "Broken", Capacity: 1})

	assert.ErrorIs(t, err, domain.ErrIssuanceFailed)
	assert.Equal(t, domain.StateIssuanceFailed, result.State)
	ticket := f.ticket(t, result.TicketID)
	assert.Equal(t, domain.StateIssuanceFailed, ticket.State)
	assert.Nil(t, ticket.AssetID)
	assert.Empty(t, ticket.PendingOperationID)
	assert.Empty(t, f.pendingOps(t))
}

func TestCreateTicketBatch_FailedIsNotRetried(t *testing.T) {
	f := newFixture(t, nil, testOptions())
	ctx := context.Background()
	req := BatchRequest{BatchKey: "broken", EventName: "Broken", Capacity: 1}
	f.devnet.FailNextSubmission(fmt.Errorf("%w: fee below minimum", domain.ErrTransactionRejected))

	_, err := f.svc.CreateTicketBatch(ctx, req)
	require.Error(t, err)

	result, err := f.svc.CreateTicketBatch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.StateIssuanceFailed, result.State)
	assert.Zero(t, f.devnet.Submissions())
}

func TestCreateTicketBatch_RejectedAtConfirmation(t *testing.T) {
	f := newFixture(t, nil, testOptions())
	f.devnet.RejectNext("asset name invalid")

	result, err := f.svc.CreateTicketBatch(context.Background(), BatchRequest{EventName: "Rejected", Capacity: 1})

	assert.ErrorIs(t, err, domain.ErrIssuanceFailed)
	assert.ErrorIs(t, err, domain.ErrTransactionRejected)
	assert.Equal(t, domain.StateIssuanceFailed, f.ticket(t, result.TicketID).State)
}

func TestCreateTicketBatch_Validation(t *testing.T) {
	f := newFixture(t, nil, testOptions())
	ctx := context.Background()

	_, err := f.svc.CreateTicketBatch(ctx, BatchRequest{EventName: " ", Capacity: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidBatch)

	_, err = f.svc.CreateTicketBatch(ctx, BatchRequest{EventName: "x", Capacity: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidBatch)

	_, err = f.svc.CreateTicketBatch(ctx, BatchRequest{EventName: "x", Capacity: 1, UnitPrice: decimal.NewFromInt(-1)})
	assert.ErrorIs(t, err, domain.ErrInvalidBatch)

	_, err = f.svc.CreateTicketBatch(ctx, BatchRequest{BatchKey: strings.Repeat("k", 65), EventName: "x", Capacity: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidBatch)
	assert.Zero(t, f.devnet.Submissions())

	result, err := f.svc.CreateTicketBatch(ctx, BatchRequest{BatchKey: strings.Repeat("k", 64), EventName: "x", Capacity: 1})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("k", 64), result.BatchKey)
}

func TestCreateTicketBatch_SubmissionOutcomeUnknown(t *testing.T) {
	f := newMockFixture(t, testOptions())
	ctx := context.Background()
	req := BatchRequest{BatchKey: "timeout", EventName: "Timeout", Capacity: 10}
	f.client.On("CreateAsset", mock.Anything, mock.Anything).
		Return(domain.TxID(""), fmt.Errorf("create_asset: %w: deadline", domain.ErrLedgerTimeout)).Once()

	result, err := f.svc.CreateTicketBatch(ctx, req)

	require.NoError(t, err)
	assert.Equal(t, domain.StateSubmitting, result.State)
	ticket := f.ticket(t, result.TicketID)
	assert.Equal(t, domain.StateSubmitting, ticket.State)
	assert.NotEmpty(t, ticket.PendingOperationID)
	require.Len(t, f.pendingOps(t), 1)

	// a retry must not create a second asset
	again, err := f.svc.CreateTicketBatch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, result.TicketID, again.TicketID)
	assert.Equal(t, domain.StateSubmitting, again.State)
	f.client.AssertNumberOfCalls(t, "CreateAsset", 1)

	outcome, err := f.svc.Reconciler.ReconcileOnce(ctx, ticket.PendingOperationID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFlagged, outcome)
	assert.True(t, f.ticket(t, result.TicketID).NeedsReconciliation)
	f.client.AssertNumberOfCalls(t, "CreateAsset", 1)
}

func TestCreateTicketBatch_LostAcknowledgement(t *testing.T) {
	f := newFixture(t, nil, testOptions())
	ctx := context.Background()
	f.devnet.DropNextAck()

	result, err := f.svc.CreateTicketBatch(ctx, BatchRequest{EventName: "Lost Ack", Capacity: 3})

	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingConfirmation, result.State)
	opID := f.ticket(t, result.TicketID).PendingOperationID

	outcome, err := f.svc.Reconciler.ReconcileOnce(ctx, opID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, outcome)
	ticket := f.ticket(t, result.TicketID)
	assert.Equal(t, domain.StateIssued, ticket.State)
	assert.Equal(t, domain.AssetID(123), *ticket.AssetID)
	assert.Equal(t, 1, f.devnet.Submissions())
}

func TestCreateTicketBatch_NotSubmittedIsFailed(t *testing.T) {
	f := newMockFixture(t, testOptions())
	f.client.On("CreateAsset", mock.Anything, mock.Anything).
		Return(domain.TxID(""), fmt.Errorf("%w: params: node returned 401", domain.ErrNotSubmitted))

	result, err := f.svc.CreateTicketBatch(context.Background(), BatchRequest{EventName: "Refused", Capacity: 1})

	assert.ErrorIs(t, err, domain.ErrIssuanceFailed)
	assert.Equal(t, domain.StateIssuanceFailed, f.ticket(t, result.TicketID).State)
	assert.Empty(t, f.pendingOps(t))
}

// recordFailingLedger fails RecordIssuance while armed.
type recordFailingLedger struct {
	*storage.MemoryLedger
	fail bool
}

func (l *recordFailingLedger) RecordIssuance(ctx context.Context, ticketID int64, operationID string, assetID domain.AssetID, authoritative bool) error {
	if l.fail {
		return errors.New("write failed")
	}
	return l.MemoryLedger.RecordIssuance(ctx, ticketID, operationID, assetID, authoritative)
}

func TestCreateTicketBatch_FallbackRecordFailureReleases(t *testing.T) {
	tickets := &recordFailingLedger{MemoryLedger: storage.NewMemoryLedger(), fail: true}
	ops := storage.NewMemoryOperationStore()
	svc := NewLedgerService(Dependencies{
		Ledger:     tickets,
		Operations: ops,
		Sequence:   ops,
		Client:     new(MockLedgerClient),
		Signer:     &SigningAuthority{},
		Logger:     discardLogger(),
	}, testOptions())
	ctx := context.Background()
	req := BatchRequest{BatchKey: "offline", EventName: "Offline", Capacity: 1}

	_, err := svc.CreateTicketBatch(ctx, req)
	require.Error(t, err)

	ticket, err := tickets.Get(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, ticket)
	assert.Equal(t, domain.StateUnissued, ticket.State)
	assert.Empty(t, ticket.PendingOperationID)
	assert.Nil(t, ticket.AssetID)

	// the same batch key issues once the store recovers
	tickets.fail = false
	result, err := svc.CreateTicketBatch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, ticket.TicketID, result.TicketID)
	assert.Equal(t, domain.StateIssued, result.State)
	assert.False(t, result.Authoritative)
}

func TestMintTicket(t *testing.T) {
	f := newMockFixture(t, testOptions())
	f.client.On("CreateAsset", mock.Anything, domain.AssetSpec{
		Name:     "Jazz Night",
		UnitName: "EVT",
		Total:    1,
		URL:      "ipfs://bafy/jazz.json",
	}).Return(domain.TxID("TX1"), nil)
	f.client.On("WaitForConfirmation", mock.Anything, domain.TxID("TX1"), 4).
		Return(domain.Confirmation{TxID: "TX1", Confirmed: true, AssetID: 88}, nil)

	result, err := f.svc.MintTicket(context.Background(), MintRequest{
		EventName:   "Jazz Night",
		MetadataURL: " ipfs://bafy/jazz.json ",
		UnitPrice:   decimal.NewFromInt(20),
	})

	require.NoError(t, err)
	assert.Equal(t, domain.StateIssued, result.State)
	assert.Equal(t, domain.AssetID(88), *result.AssetID)
	assert.True(t, result.Authoritative)

	ticket := f.ticket(t, result.TicketID)
	assert.Equal(t, uint64(1), ticket.Capacity)
	assert.Equal(t, "ipfs://bafy/jazz.json", ticket.MetadataURL)
	f.client.AssertExpectations(t)
}

func TestMintTicket_DefaultName(t *testing.T) {
	f := newMockFixture(t, testOptions())
	f.client.On("CreateAsset", mock.Anything, domain.AssetSpec{
		Name:     "TICKET",
		UnitName: "EVT",
		Total:    1,
		URL:      "https://example.org/t.json",
	}).Return(domain.TxID("TX2"), nil)
	f.client.On("WaitForConfirmation", mock.Anything, domain.TxID("TX2"), 4).
		Return(domain.Confirmation{TxID: "TX2", Confirmed: true, AssetID: 89}, nil)

	_, err := f.svc.MintTicket(context.Background(), MintRequest{MetadataURL: "https://example.org/t.json"})

	require.NoError(t, err)
	f.client.AssertExpectations(t)
}

func TestMintTicket_ThenPurchase(t *testing.T) {
	f := newFixture(t, nil, testOptions())
	ctx := context.Background()

	minted, err := f.svc.MintTicket(ctx, MintRequest{BatchKey: "vip-1", EventName: "VIP", MetadataURL: "ipfs://vip"})
	require.NoError(t, err)
	require.NotNil(t, minted.AssetID)

	buyer := newBuyer(t)
	f.devnet.OptIn(buyer, *minted.AssetID)
	result, err := f.svc.PurchaseTicket(ctx, minted.TicketID, string(buyer))
	require.NoError(t, err)
	assert.True(t, result.Success)

	view, err := f.svc.TicketStatus(ctx, minted.TicketID)
	require.NoError(t, err)
	assert.Equal(t, "ipfs://vip", view.MetadataURL)
	assert.Equal(t, domain.PurchaseStatusSold, view.Status)

	// the platform held the only unit
	holdings, _ := f.devnet.AccountHoldings(ctx, f.platform.Address())
	h, _ := domain.HoldsAsset(holdings, *minted.AssetID)
	assert.Zero(t, h.Amount)
}

func TestMintTicket_Validation(t *testing.T) {
	f := newFixture(t, nil, testOptions())
	ctx := context.Background()

	_, err := f.svc.MintTicket(ctx, MintRequest{EventName: "No URL"})
	assert.ErrorIs(t, err, domain.ErrInvalidBatch)

	_, err = f.svc.MintTicket(ctx, MintRequest{MetadataURL: "https://example.org/" + strings.Repeat("a", 90)})
	assert.ErrorIs(t, err, domain.ErrInvalidBatch)

	_, err = f.svc.MintTicket(ctx, MintRequest{MetadataURL: "ipfs://x", UnitPrice: decimal.NewFromInt(-5)})
	assert.ErrorIs(t, err, domain.ErrInvalidBatch)

	assert.Zero(t, f.devnet.Submissions())
}

func TestCreateTicketBatch_AssetParameters(t *testing.T) {
	f := newMockFixture(t, testOptions())
	f.client.On("CreateAsset", mock.Anything, domain.AssetSpec{
		Name:     "Internationa",
		UnitName: "TKT",
		Total:    250,
		Decimals: 0,
	}).Return(domain.TxID("TX1"), nil)
	f.client.On("WaitForConfirmation", mock.Anything, domain.TxID("TX1"), 4).
		Return(domain.Confirmation{TxID: "TX1", Confirmed: true, AssetID: 77}, nil)

	result, err := f.svc.CreateTicketBatch(context.Background(), BatchRequest{EventName: "International Jazz", Capacity: 250})

	require.NoError(t, err)
	assert.Equal(t, domain.AssetID(77), *result.AssetID)
	f.client.AssertExpectations(t)
}

func TestCreateTicketBatch_CancelledAfterSubmission(t *testing.T) {
	f := newMockFixture(t, testOptions())
	ctx, cancel := context.WithCancel(context.Background())

	f.client.On("CreateAsset", mock.Anything, mock.Anything).Return(domain.TxID("TX1"), nil).Run(func(mock.Arguments) { cancel() })
	f.client.On("WaitForConfirmation", mock.Anything, domain.TxID("TX1"), 4).
		Return(domain.Confirmation{TxID: "TX1"}, context.Canceled).Once()

	result, err := f.svc.CreateTicketBatch(ctx, BatchRequest{EventName: "Gone", Capacity: 1})
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingConfirmation, result.State)

	// the operation survives the request and is resolved in the background
	f.client.On("WaitForConfirmation", mock.Anything, domain.TxID("TX1"), 4).
		Return(domain.Confirmation{TxID: "TX1", Confirmed: true, AssetID: 5}, nil)
	opID := f.ticket(t, result.TicketID).PendingOperationID
	outcome, err := f.svc.Reconciler.ReconcileOnce(context.Background(), opID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, outcome)
}

func TestTruncateAssetName(t *testing.T) {
	tests := []struct {
		name string
		max  int
		want string
	}{
		{"Tech Fest", 12, "Tech Fest"},
		{"International Jazz", 12, "Internationa"},
		{"  padded  ", 12, "padded"},
		{"Café Concert", 4, "Caf"},
		{"Café Concert", 5, "Café"},
		{"日本語のイベント", 7, "日本"},
		{"anything", 0, "anything"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TruncateAssetName(tt.name, tt.max), "%q/%d", tt.name, tt.max)
	}
}
