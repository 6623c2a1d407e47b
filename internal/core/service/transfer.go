package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/ticket-ledger/internal/core/domain"
	"github.com/rl1809/ticket-ledger/internal/monitoring"
	"github.com/rl1809/ticket-ledger/internal/port"
)

type PurchaseResult struct {
	TicketID    int64
	Success     bool
	Status      domain.PurchaseStatus
	Holder      *domain.Address
	OperationID string
	TxID        domain.TxID
}

// TransferCoordinator moves a ticket from the platform to a buyer. The only
// mutual exclusion in the purchase path is the conditional write that claims
// the ticket's pending_operation_id; no lock is held across ledger calls.
type TransferCoordinator struct {
	settlement
	client  port.AssetLedgerClient
	signer  port.Signer
	tracker PendingTracker
	opts    Options
	now     func() time.Time
}

func NewTransferCoordinator(deps Dependencies, tracker PendingTracker, opts Options) *TransferCoordinator {
	return &TransferCoordinator{
		settlement: settlement{ledger: deps.Ledger, ops: deps.Operations, logger: deps.Logger},
		client:     deps.Client,
		signer:     deps.Signer,
		tracker:    tracker,
		opts:       opts,
		now:        time.Now,
	}
}

func (c *TransferCoordinator) PurchaseTicket(ctx context.Context, ticketID int64, buyerAddress string) (PurchaseResult, error) {
	result, err := c.purchase(ctx, ticketID, buyerAddress)
	if err != nil {
		monitoring.TrackTransfer(outcomeLabel(result, err))
	}
	return result, err
}

func (c *TransferCoordinator) purchase(ctx context.Context, ticketID int64, buyerAddress string) (PurchaseResult, error) {
	result := PurchaseResult{TicketID: ticketID, Status: domain.PurchaseStatusIssued}

	buyer, err := domain.ParseAddress(buyerAddress)
	if err != nil {
		return result, err
	}
	if !c.signer.Available() {
		return result, domain.ErrSigningUnavailable
	}

	ticket, err := c.ledger.Get(ctx, ticketID)
	if err != nil {
		return result, fmt.Errorf("get ticket: %w", err)
	}
	if ticket == nil {
		return result, domain.ErrAssetNotFound
	}
	result.Status = ticket.PurchaseStatus()

	// (a) ticket is issued and unsold
	if ticket.State == domain.StateSold {
		return result, domain.ErrAlreadySold
	}
	// (b) no transfer is in flight
	if ticket.PurchaseStatus() == domain.PurchaseStatusPending {
		return result, domain.ErrTransferInFlight
	}
	if !ticket.IsTransferable() {
		return result, fmt.Errorf("%w: ticket %d is %s", domain.ErrNotIssued, ticketID, ticket.State)
	}
	if ticket.PendingOperationID != "" {
		return result, domain.ErrTransferInFlight
	}
	if !ticket.Authoritative {
		return result, fmt.Errorf("%w: asset %d is non-authoritative", domain.ErrAssetNotFound, *ticket.AssetID)
	}
	assetID := *ticket.AssetID

	// (c) buyer has opted in to the asset
	holdings, err := c.client.AccountHoldings(ctx, buyer)
	if err != nil {
		return result, fmt.Errorf("query holdings: %w", err)
	}
	if _, ok := domain.HoldsAsset(holdings, assetID); !ok {
		return result, domain.ErrOptInRequired
	}

	op := domain.PendingOperation{
		ID:          uuid.NewString(),
		Kind:        domain.OperationTransfer,
		TicketID:    ticketID,
		Buyer:       buyer,
		SubmittedAt: c.now(),
	}
	if err := c.reserve(ctx, op); err != nil {
		return c.refresh(ctx, result), err
	}
	result.OperationID = op.ID
	result.Status = domain.PurchaseStatusPending

	// Past the reservation the ledger submission outlives the request.
	detached := context.WithoutCancel(ctx)

	submitCtx, cancel := context.WithTimeout(detached, c.opts.SubmitTimeout)
	txID, err := c.client.TransferAsset(submitCtx, assetID, c.signer.Address(), buyer, 1)
	cancel()
	if err != nil && domain.Undelivered(err) {
		if abortErr := c.abortSale(detached, op, err); abortErr != nil {
			c.logger.Error("failed to release reservation", "ticket_id", ticketID, "operation_id", op.ID, "error", abortErr)
		}
		result.OperationID = ""
		result.Status = domain.PurchaseStatusIssued
		return result, fmt.Errorf("submit transfer: %w", err)
	}
	if txID != "" {
		c.recordSubmission(detached, &op, txID)
		result.TxID = txID
	}
	if err != nil {
		// The ledger may have taken the transfer. The reservation holds
		// until the reconciler settles it.
		c.logger.Warn("transfer submission outcome unknown", "ticket_id", ticketID, "operation_id", op.ID, "tx_id", txID, "error", err)
		c.tracker.Track(op.ID)
		if errors.Is(err, domain.ErrLedgerTimeout) {
			return result, fmt.Errorf("submit transfer: %w", err)
		}
		return result, fmt.Errorf("%w: submit transfer: %v", domain.ErrLedgerTimeout, err)
	}

	conf, err := c.client.WaitForConfirmation(ctx, txID, c.opts.ConfirmationRounds)
	switch {
	case errors.Is(err, domain.ErrTransactionRejected):
		if abortErr := c.abortSale(detached, op, err); abortErr != nil {
			c.logger.Error("failed to release reservation", "ticket_id", ticketID, "operation_id", op.ID, "error", abortErr)
		}
		result.Status = domain.PurchaseStatusIssued
		return result, err
	case err != nil || !conf.Confirmed:
		c.logger.Info("transfer awaiting confirmation", "ticket_id", ticketID, "tx_id", txID, "error", err)
		c.tracker.Track(op.ID)
		return result, domain.ErrLedgerTimeout
	}

	if err := c.completeSale(detached, op); err != nil {
		c.tracker.Track(op.ID)
		c.logger.Error("confirmed transfer not yet recorded", "ticket_id", ticketID, "tx_id", txID, "error", err)
		return result, domain.ErrLedgerTimeout
	}

	result.Success = true
	result.Status = domain.PurchaseStatusSold
	result.Holder = &buyer
	return result, nil
}

// recordSubmission stores the tx id on the operation and moves the ticket to
// awaiting_transfer.
func (c *TransferCoordinator) recordSubmission(ctx context.Context, op *domain.PendingOperation, txID domain.TxID) {
	op.TxID = txID
	if err := c.ops.Update(ctx, *op); err != nil {
		c.logger.Error("failed to record transfer tx id", "ticket_id", op.TicketID, "tx_id", txID, "error", err)
	}
	if err := c.ledger.Transition(ctx, op.TicketID, op.ID, domain.StateReservationHeld, domain.StateAwaitingTransfer); err != nil {
		c.logger.Warn("failed to mark transfer awaiting confirmation", "ticket_id", op.TicketID, "error", err)
	}
}

// reserve claims the ticket for op. Losing the race maps to AlreadySold or
// TransferInFlight depending on what the winner left behind.
func (c *TransferCoordinator) reserve(ctx context.Context, op domain.PendingOperation) error {
	err := c.ledger.Reserve(ctx, op.TicketID, op.ID, domain.StateIssued, domain.StateReservationHeld)
	if errors.Is(err, port.ErrReservationConflict) {
		ticket, getErr := c.ledger.Get(ctx, op.TicketID)
		if getErr != nil {
			return fmt.Errorf("get ticket: %w", getErr)
		}
		if ticket != nil && ticket.State == domain.StateSold {
			return domain.ErrAlreadySold
		}
		return domain.ErrTransferInFlight
	}
	if err != nil {
		return fmt.Errorf("reserve ticket: %w", err)
	}

	if err := c.ops.Create(ctx, op); err != nil {
		if relErr := c.ledger.Release(ctx, op.TicketID, op.ID, domain.StateIssued); relErr != nil {
			c.logger.Error("failed to release reservation", "ticket_id", op.TicketID, "error", relErr)
		}
		return fmt.Errorf("record pending transfer: %w", err)
	}
	return nil
}

func (c *TransferCoordinator) refresh(ctx context.Context, result PurchaseResult) PurchaseResult {
	ticket, err := c.ledger.Get(ctx, result.TicketID)
	if err == nil && ticket != nil {
		result.Status = ticket.PurchaseStatus()
	}
	return result
}

func outcomeLabel(result PurchaseResult, err error) string {
	if result.Status == domain.PurchaseStatusPending && errors.Is(err, domain.ErrLedgerTimeout) {
		return "pending"
	}
	return string(domain.KindOf(err))
}
