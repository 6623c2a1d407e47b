package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rl1809/ticket-ledger/internal/core/domain"
	"github.com/rl1809/ticket-ledger/internal/monitoring"
	"github.com/rl1809/ticket-ledger/internal/port"
)

// settlement applies confirmed or terminal ledger outcomes to the local
// records. Each method ends the operation's life: the ticket reservation is
// cleared and the PendingOperation removed, except for flag which keeps both.
type settlement struct {
	ledger port.OwnershipLedger
	ops    port.OperationStore
	logger *slog.Logger
}

func (s *settlement) completeIssuance(ctx context.Context, op domain.PendingOperation, assetID domain.AssetID) error {
	err := s.ledger.RecordIssuance(ctx, op.TicketID, op.ID, assetID, true)
	if errors.Is(err, port.ErrReservationConflict) {
		ticket, getErr := s.ledger.Get(ctx, op.TicketID)
		if getErr == nil && ticket != nil && ticket.State == domain.StateIssued &&
			ticket.AssetID != nil && *ticket.AssetID == assetID {
			s.forget(ctx, op)
			return nil
		}
	}
	if err != nil {
		return fmt.Errorf("record issuance: %w", err)
	}
	s.forget(ctx, op)
	monitoring.ObserveConfirmation(string(op.Kind), op.SubmittedAt)
	monitoring.TrackIssuance(monitoring.PathLedger, "issued")
	s.logger.Info("asset issued", "ticket_id", op.TicketID, "operation_id", op.ID, "asset_id", assetID)
	return nil
}

func (s *settlement) failIssuance(ctx context.Context, op domain.PendingOperation, cause error) error {
	if err := s.ledger.Release(ctx, op.TicketID, op.ID, domain.StateIssuanceFailed); err != nil {
		return fmt.Errorf("mark issuance failed: %w", err)
	}
	s.forget(ctx, op)
	monitoring.TrackIssuance(monitoring.PathLedger, "failed")
	s.logger.Error("asset issuance failed", "ticket_id", op.TicketID, "operation_id", op.ID, "error", cause)
	return nil
}

func (s *settlement) completeSale(ctx context.Context, op domain.PendingOperation) error {
	err := s.ledger.RecordSale(ctx, op.TicketID, op.ID, op.Buyer)
	if errors.Is(err, port.ErrReservationConflict) {
		// another path may have committed the same confirmation first
		ticket, getErr := s.ledger.Get(ctx, op.TicketID)
		if getErr == nil && ticket != nil && ticket.State == domain.StateSold &&
			ticket.CurrentHolder != nil && *ticket.CurrentHolder == op.Buyer {
			s.forget(ctx, op)
			return nil
		}
	}
	if err != nil {
		return fmt.Errorf("record sale: %w", err)
	}
	s.forget(ctx, op)
	monitoring.ObserveConfirmation(string(op.Kind), op.SubmittedAt)
	monitoring.TrackTransfer("sold")
	s.logger.Info("ticket sold", "ticket_id", op.TicketID, "operation_id", op.ID, "holder", op.Buyer)
	return nil
}

func (s *settlement) abortSale(ctx context.Context, op domain.PendingOperation, cause error) error {
	if err := s.ledger.Release(ctx, op.TicketID, op.ID, domain.StateIssued); err != nil {
		return fmt.Errorf("release reservation: %w", err)
	}
	s.forget(ctx, op)
	s.logger.Warn("transfer aborted, reservation released", "ticket_id", op.TicketID, "operation_id", op.ID, "error", cause)
	return nil
}

func (s *settlement) abort(ctx context.Context, op domain.PendingOperation, cause error) error {
	if op.Kind == domain.OperationIssuance {
		return s.failIssuance(ctx, op, cause)
	}
	return s.abortSale(ctx, op, cause)
}

// flag hands the ticket over to an operator. The reservation stays in place
// so no further purchase can race the unresolved ledger state.
func (s *settlement) flag(ctx context.Context, op domain.PendingOperation, note string) error {
	if err := s.ledger.FlagReconciliation(ctx, op.TicketID, note); err != nil {
		return fmt.Errorf("flag reconciliation: %w", err)
	}
	op.Flagged = true
	if err := s.ops.Update(ctx, op); err != nil {
		return fmt.Errorf("flag operation: %w", err)
	}
	monitoring.TrackReconciliationFlag(string(op.Kind))
	s.logger.Error("ticket needs manual reconciliation",
		"ticket_id", op.TicketID, "operation_id", op.ID, "tx_id", op.TxID, "kind", op.Kind, "reason", note)
	return nil
}

func (s *settlement) forget(ctx context.Context, op domain.PendingOperation) {
	if err := s.ops.Delete(ctx, op.ID); err != nil {
		s.logger.Warn("failed to delete settled operation", "operation_id", op.ID, "error", err)
	}
}
