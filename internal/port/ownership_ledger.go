package port

import (
	"context"
	"errors"

	"github.com/rl1809/ticket-ledger/internal/core/domain"
)

// ErrReservationConflict is returned when a conditional write loses the race
// for a ticket's pending_operation_id.
var ErrReservationConflict = errors.New("reservation conflict")

// OwnershipLedger is the authoritative local record of ticket assets.
// It does not validate state transitions beyond the conditional writes below.
type OwnershipLedger interface {
	// CreateBatch inserts a new ticket in state unissued. If the batch key is
	// already known the existing ticket is returned with created=false.
	CreateBatch(ctx context.Context, ticket domain.TicketAsset) (domain.TicketAsset, bool, error)

	// Get returns nil when the ticket does not exist
	Get(ctx context.Context, ticketID int64) (*domain.TicketAsset, error)

	// Reserve sets pending_operation_id = operationID and state = to only if
	// no operation is pending and the ticket is currently in state from.
	Reserve(ctx context.Context, ticketID int64, operationID string, from, to domain.IssuanceState) error

	// Transition moves a reserved ticket between states while operationID
	// still owns the reservation.
	Transition(ctx context.Context, ticketID int64, operationID string, from, to domain.IssuanceState) error

	// RecordIssuance writes the asset id once, marks the ticket issued and
	// clears the reservation held by operationID.
	RecordIssuance(ctx context.Context, ticketID int64, operationID string, assetID domain.AssetID, authoritative bool) error

	// RecordSale sets the holder, marks the ticket sold and clears the
	// reservation held by operationID.
	RecordSale(ctx context.Context, ticketID int64, operationID string, holder domain.Address) error

	// Release clears the reservation held by operationID and moves the
	// ticket to state to.
	Release(ctx context.Context, ticketID int64, operationID string, to domain.IssuanceState) error

	FlagReconciliation(ctx context.Context, ticketID int64, note string) error

	// ListPending returns tickets holding a reservation.
	ListPending(ctx context.Context) ([]domain.TicketAsset, error)

	// ListHeldBy returns sold tickets owned by holder, newest first.
	ListHeldBy(ctx context.Context, holder domain.Address) ([]domain.TicketAsset, error)
}
