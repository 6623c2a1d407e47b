package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/ticket-ledger/internal/core/domain"
	"github.com/rl1809/ticket-ledger/internal/monitoring"
	"github.com/rl1809/ticket-ledger/internal/port"
)

// PendingTracker accepts operations whose confirmation must be resolved in
// the background.
type PendingTracker interface {
	Track(operationID string)
}

type BatchRequest struct {
	// BatchKey identifies the batch across retried requests. Empty means
	// the request is not retry-safe and a fresh key is generated.
	BatchKey  string
	EventName string
	Capacity  uint64
	UnitPrice decimal.Decimal
}

// MintRequest issues a single-unit ticket whose asset carries a metadata
// URL.
type MintRequest struct {
	BatchKey    string
	EventName   string
	MetadataURL string
	UnitPrice   decimal.Decimal
}

const (
	// batch_key column width
	maxBatchKeyLength = 64
	// ledger limit on the asset URL field, in bytes
	maxMetadataURLLength = 96
	mintUnitName         = "EVT"
	mintDefaultName      = "TICKET"
)

type BatchResult struct {
	TicketID      int64
	BatchKey      string
	AssetID       *domain.AssetID
	Authoritative bool
	State         domain.IssuanceState
}

// IssuanceCoordinator creates exactly one ledger asset per ticket batch.
type IssuanceCoordinator struct {
	settlement
	client   port.AssetLedgerClient
	signer   port.Signer
	fallback *MockFallbackGenerator
	tracker  PendingTracker
	opts     Options
	now      func() time.Time
}

func NewIssuanceCoordinator(deps Dependencies, fallback *MockFallbackGenerator, tracker PendingTracker, opts Options) *IssuanceCoordinator {
	return &IssuanceCoordinator{
		settlement: settlement{ledger: deps.Ledger, ops: deps.Operations, logger: deps.Logger},
		client:     deps.Client,
		signer:     deps.Signer,
		fallback:   fallback,
		tracker:    tracker,
		opts:       opts,
		now:        time.Now,
	}
}

func (c *IssuanceCoordinator) CreateTicketBatch(ctx context.Context, req BatchRequest) (BatchResult, error) {
	eventName := strings.TrimSpace(req.EventName)
	if eventName == "" {
		return BatchResult{}, fmt.Errorf("%w: event name is required", domain.ErrInvalidBatch)
	}
	if req.Capacity == 0 {
		return BatchResult{}, fmt.Errorf("%w: capacity must be positive", domain.ErrInvalidBatch)
	}
	return c.createBatch(ctx, domain.TicketAsset{
		BatchKey:  req.BatchKey,
		EventName: eventName,
		Capacity:  req.Capacity,
		UnitPrice: req.UnitPrice,
	})
}

// MintTicket issues one ticket as its own single-unit asset pointing at
// MetadataURL. It shares the reservation and confirmation path of
// CreateTicketBatch.
func (c *IssuanceCoordinator) MintTicket(ctx context.Context, req MintRequest) (BatchResult, error) {
	metadataURL := strings.TrimSpace(req.MetadataURL)
	if metadataURL == "" {
		return BatchResult{}, fmt.Errorf("%w: metadata url is required", domain.ErrInvalidBatch)
	}
	if len(metadataURL) > maxMetadataURLLength {
		return BatchResult{}, fmt.Errorf("%w: metadata url exceeds %d bytes", domain.ErrInvalidBatch, maxMetadataURLLength)
	}
	eventName := strings.TrimSpace(req.EventName)
	if eventName == "" {
		eventName = mintDefaultName
	}
	return c.createBatch(ctx, domain.TicketAsset{
		BatchKey:    req.BatchKey,
		EventName:   eventName,
		Capacity:    1,
		UnitPrice:   req.UnitPrice,
		MetadataURL: metadataURL,
	})
}

func (c *IssuanceCoordinator) createBatch(ctx context.Context, ticket domain.TicketAsset) (BatchResult, error) {
	if ticket.UnitPrice.IsNegative() {
		return BatchResult{}, fmt.Errorf("%w: unit price must not be negative", domain.ErrInvalidBatch)
	}
	if len(ticket.BatchKey) > maxBatchKeyLength {
		return BatchResult{}, fmt.Errorf("%w: batch key exceeds %d bytes", domain.ErrInvalidBatch, maxBatchKeyLength)
	}
	if ticket.BatchKey == "" {
		ticket.BatchKey = uuid.NewString()
	}
	ticket.State = domain.StateUnissued

	ticket, created, err := c.ledger.CreateBatch(ctx, ticket)
	if err != nil {
		return BatchResult{}, fmt.Errorf("create batch: %w", err)
	}
	if !created {
		c.logger.Info("batch already known", "ticket_id", ticket.TicketID, "batch_key", ticket.BatchKey, "state", ticket.State)
		if ticket.State != domain.StateUnissued {
			return batchResultOf(ticket), nil
		}
	}

	return c.issue(ctx, ticket)
}

// assetSpec describes the ledger asset backing ticket. Minted tickets are
// single-unit assets with their own unit name and metadata URL.
func (c *IssuanceCoordinator) assetSpec(ticket domain.TicketAsset) domain.AssetSpec {
	spec := domain.AssetSpec{
		Name:     TruncateAssetName(ticket.EventName, c.opts.AssetNameMaxLength),
		UnitName: c.opts.AssetUnitName,
		Total:    ticket.Capacity,
	}
	if ticket.MetadataURL != "" {
		spec.UnitName = mintUnitName
		spec.URL = ticket.MetadataURL
	}
	return spec
}

func (c *IssuanceCoordinator) issue(ctx context.Context, ticket domain.TicketAsset) (BatchResult, error) {
	op := domain.PendingOperation{
		ID:          uuid.NewString(),
		Kind:        domain.OperationIssuance,
		TicketID:    ticket.TicketID,
		SubmittedAt: c.now(),
	}

	if !c.signer.Available() {
		return c.issueFallback(ctx, ticket, op)
	}

	err := c.ledger.Reserve(ctx, ticket.TicketID, op.ID, domain.StateUnissued, domain.StateSubmitting)
	if errors.Is(err, port.ErrReservationConflict) {
		// a concurrent request for the same batch owns the issuance
		return c.current(ctx, ticket.TicketID)
	}
	if err != nil {
		return BatchResult{}, fmt.Errorf("reserve issuance: %w", err)
	}

	if err := c.ops.Create(ctx, op); err != nil {
		if relErr := c.ledger.Release(ctx, ticket.TicketID, op.ID, domain.StateUnissued); relErr != nil {
			c.logger.Error("failed to release issuance reservation", "ticket_id", ticket.TicketID, "error", relErr)
		}
		return BatchResult{}, fmt.Errorf("record pending issuance: %w", err)
	}

	// The request may be cancelled from here on; the submission must still
	// be tracked to its end.
	detached := context.WithoutCancel(ctx)

	submitCtx, cancel := context.WithTimeout(detached, c.opts.SubmitTimeout)
	txID, err := c.client.CreateAsset(submitCtx, c.assetSpec(ticket))
	cancel()
	if err != nil && domain.Undelivered(err) {
		if failErr := c.failIssuance(detached, op, err); failErr != nil {
			c.logger.Error("failed to record issuance failure", "ticket_id", ticket.TicketID, "error", failErr)
		}
		return BatchResult{TicketID: ticket.TicketID, BatchKey: ticket.BatchKey, State: domain.StateIssuanceFailed},
			fmt.Errorf("%w: %w", domain.ErrIssuanceFailed, err)
	}
	state := domain.StateSubmitting
	if txID != "" {
		op.TxID = txID
		if err := c.ops.Update(detached, op); err != nil {
			c.logger.Error("failed to record issuance tx id", "ticket_id", ticket.TicketID, "tx_id", txID, "error", err)
		}
		if err := c.ledger.Transition(detached, ticket.TicketID, op.ID, domain.StateSubmitting, domain.StateAwaitingConfirmation); err != nil {
			c.logger.Warn("failed to mark issuance awaiting confirmation", "ticket_id", ticket.TicketID, "error", err)
		}
		state = domain.StateAwaitingConfirmation
	}
	if err != nil {
		// the asset may already exist on the ledger
		c.logger.Warn("issuance submission outcome unknown", "ticket_id", ticket.TicketID, "operation_id", op.ID, "tx_id", txID, "error", err)
		c.tracker.Track(op.ID)
		return BatchResult{TicketID: ticket.TicketID, BatchKey: ticket.BatchKey, State: state}, nil
	}

	conf, err := c.client.WaitForConfirmation(ctx, txID, c.opts.ConfirmationRounds)
	switch {
	case errors.Is(err, domain.ErrTransactionRejected):
		if failErr := c.failIssuance(detached, op, err); failErr != nil {
			c.logger.Error("failed to record issuance failure", "ticket_id", ticket.TicketID, "error", failErr)
		}
		return BatchResult{TicketID: ticket.TicketID, BatchKey: ticket.BatchKey, State: domain.StateIssuanceFailed},
			fmt.Errorf("%w: %w", domain.ErrIssuanceFailed, err)
	case err != nil || !conf.Confirmed:
		// unknown outcome: only confirmation polling may resolve it
		c.logger.Info("issuance awaiting confirmation", "ticket_id", ticket.TicketID, "tx_id", txID, "error", err)
		c.tracker.Track(op.ID)
		return BatchResult{TicketID: ticket.TicketID, BatchKey: ticket.BatchKey, State: domain.StateAwaitingConfirmation}, nil
	}

	if err := c.completeIssuance(detached, op, conf.AssetID); err != nil {
		c.tracker.Track(op.ID)
		return BatchResult{}, err
	}
	return c.current(detached, ticket.TicketID)
}

func (c *IssuanceCoordinator) issueFallback(ctx context.Context, ticket domain.TicketAsset, op domain.PendingOperation) (BatchResult, error) {
	err := c.ledger.Reserve(ctx, ticket.TicketID, op.ID, domain.StateUnissued, domain.StateFallback)
	if errors.Is(err, port.ErrReservationConflict) {
		return c.current(ctx, ticket.TicketID)
	}
	if err != nil {
		return BatchResult{}, fmt.Errorf("reserve fallback issuance: %w", err)
	}

	assetID, err := c.fallback.Next(ctx)
	if err != nil {
		if relErr := c.ledger.Release(ctx, ticket.TicketID, op.ID, domain.StateUnissued); relErr != nil {
			c.logger.Error("failed to release fallback reservation", "ticket_id", ticket.TicketID, "error", relErr)
		}
		monitoring.TrackIssuance(monitoring.PathFallback, "failed")
		return BatchResult{}, err
	}

	if err := c.ledger.RecordIssuance(ctx, ticket.TicketID, op.ID, assetID, false); err != nil {
		if relErr := c.ledger.Release(ctx, ticket.TicketID, op.ID, domain.StateUnissued); relErr != nil {
			c.logger.Error("failed to release fallback reservation", "ticket_id", ticket.TicketID, "error", relErr)
		}
		monitoring.TrackIssuance(monitoring.PathFallback, "failed")
		return BatchResult{}, fmt.Errorf("record fallback issuance: %w", err)
	}
	monitoring.TrackIssuance(monitoring.PathFallback, "issued")

	return c.current(ctx, ticket.TicketID)
}

func (c *IssuanceCoordinator) current(ctx context.Context, ticketID int64) (BatchResult, error) {
	ticket, err := c.ledger.Get(ctx, ticketID)
	if err != nil {
		return BatchResult{}, fmt.Errorf("get ticket: %w", err)
	}
	if ticket == nil {
		return BatchResult{}, domain.ErrAssetNotFound
	}
	return batchResultOf(*ticket), nil
}

func batchResultOf(t domain.TicketAsset) BatchResult {
	return BatchResult{
		TicketID:      t.TicketID,
		BatchKey:      t.BatchKey,
		AssetID:       t.AssetID,
		Authoritative: t.Authoritative,
		State:         t.State,
	}
}

// TruncateAssetName cuts name to at most max bytes without splitting a
// multi-byte character. Ledger name limits are byte limits.
func TruncateAssetName(name string, max int) string {
	name = strings.TrimSpace(name)
	if max <= 0 || len(name) <= max {
		return name
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return strings.TrimSpace(name[:cut])
}
