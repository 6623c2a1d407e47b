package domain

import "time"

type OperationKind string

const (
	OperationIssuance OperationKind = "issuance"
	OperationTransfer OperationKind = "transfer"
)

// PendingOperation is an in-flight ledger submission awaiting confirmation.
// ID doubles as the idempotency key written into the ticket's
// pending_operation_id column.
type PendingOperation struct {
	ID          string
	Kind        OperationKind
	TicketID    int64
	TxID        TxID    // empty until the ledger accepts the submission
	Buyer       Address // transfers only
	SubmittedAt time.Time
	Attempt     int
	Flagged     bool // handed over to manual reconciliation
}

func (o *PendingOperation) Submitted() bool {
	return o.TxID != ""
}
