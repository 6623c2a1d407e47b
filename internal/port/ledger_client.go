package port

import (
	"context"

	"github.com/rl1809/ticket-ledger/internal/core/domain"
)

// AssetLedgerClient is the gateway to the external ledger. Every method may
// block on network I/O and must respect ctx.
type AssetLedgerClient interface {
	SuggestedParams(ctx context.Context) (domain.SuggestedParams, error)

	// CreateAsset submits a signed asset creation and returns once the
	// network has accepted it. The asset id is reported by WaitForConfirmation.
	CreateAsset(ctx context.Context, spec domain.AssetSpec) (domain.TxID, error)

	// TransferAsset submits a signed transfer. Returns domain.ErrOptInRequired
	// if the network refuses the receiver.
	TransferAsset(ctx context.Context, assetID domain.AssetID, from, to domain.Address, amount uint64) (domain.TxID, error)

	// WaitForConfirmation polls up to maxRounds times. An unconfirmed result
	// is not an error; a rejected transaction is domain.ErrTransactionRejected.
	WaitForConfirmation(ctx context.Context, txID domain.TxID, maxRounds int) (domain.Confirmation, error)

	AccountHoldings(ctx context.Context, address domain.Address) ([]domain.Holding, error)

	// BuildOptIn returns an unsigned, encoded opt-in transaction for address.
	BuildOptIn(ctx context.Context, address domain.Address, assetID domain.AssetID) ([]byte, error)
}

// Signer produces signatures with the platform key.
type Signer interface {
	Available() bool
	Address() domain.Address
	Sign(payload []byte) (domain.SignedPayload, error)
}
