package port

import (
	"context"
	"errors"

	"github.com/rl1809/ticket-ledger/internal/core/domain"
)

var ErrOperationExists = errors.New("operation already exists")

type OperationStore interface {
	// Create stores op, returns ErrOperationExists if the id is taken
	Create(ctx context.Context, op domain.PendingOperation) error

	// Update overwrites the mutable fields (tx id, flagged) of op
	Update(ctx context.Context, op domain.PendingOperation) error

	// Get returns nil when the operation does not exist
	Get(ctx context.Context, operationID string) (*domain.PendingOperation, error)

	// IncrementAttempt bumps the poll attempt counter and returns the new value
	IncrementAttempt(ctx context.Context, operationID string) (int, error)

	Delete(ctx context.Context, operationID string) error

	List(ctx context.Context) ([]domain.PendingOperation, error)
}

// SequenceGenerator hands out monotonically increasing numbers per namespace.
type SequenceGenerator interface {
	Next(ctx context.Context, namespace string) (uint64, error)
}
