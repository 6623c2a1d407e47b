package service

import (
	"log/slog"
	"time"

	"github.com/rl1809/ticket-ledger/internal/port"
)

type Dependencies struct {
	Ledger     port.OwnershipLedger
	Operations port.OperationStore
	Sequence   port.SequenceGenerator
	Client     port.AssetLedgerClient
	Signer     port.Signer
	Logger     *slog.Logger
}

type Options struct {
	ConfirmationRounds int
	SubmitTimeout      time.Duration
	AssetNameMaxLength int
	AssetUnitName      string

	ReconcileWorkers       int
	ReconcileQueueSize     int
	ReconcileMaxAttempts   int
	ReconcileRetryDelay    time.Duration
	ReconcileSweepInterval time.Duration
	// UnsubmittedGrace is how long an operation may sit without a tx id
	// before the reconciler assumes its request died mid-submission.
	UnsubmittedGrace time.Duration
}

func DefaultOptions() Options {
	return Options{
		ConfirmationRounds:     4,
		SubmitTimeout:          10 * time.Second,
		AssetNameMaxLength:     12,
		AssetUnitName:          "TKT",
		ReconcileWorkers:       4,
		ReconcileQueueSize:     1024,
		ReconcileMaxAttempts:   10,
		ReconcileRetryDelay:    5 * time.Second,
		ReconcileSweepInterval: time.Minute,
		UnsubmittedGrace:       time.Minute,
	}
}
