package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rl1809/ticket-ledger/internal/core/domain"
	"github.com/rl1809/ticket-ledger/internal/monitoring"
	"github.com/rl1809/ticket-ledger/internal/port"
)

type Outcome string

const (
	OutcomeCommitted Outcome = "committed"
	OutcomeAborted   Outcome = "aborted"
	OutcomePending   Outcome = "pending"
	OutcomeFlagged   Outcome = "flagged"
	OutcomeGone      Outcome = "gone"
)

// Reconciler resolves submitted operations whose confirmation did not arrive
// within the request. It only ever polls for confirmation; it never
// resubmits a mutating ledger call.
type Reconciler struct {
	settlement
	client port.AssetLedgerClient
	opts   Options
	now    func() time.Time

	queue    chan string
	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewReconciler(deps Dependencies, opts Options) *Reconciler {
	return &Reconciler{
		settlement: settlement{ledger: deps.Ledger, ops: deps.Operations, logger: deps.Logger},
		client:     deps.Client,
		opts:       opts,
		now:        time.Now,
		queue:      make(chan string, opts.ReconcileQueueSize),
		inflight:   make(map[string]struct{}),
	}
}

// Track queues an operation for confirmation polling. Duplicate ids are
// ignored while queued; a full queue drops the id and leaves it to the
// periodic sweep.
func (r *Reconciler) Track(operationID string) {
	r.mu.Lock()
	if _, ok := r.inflight[operationID]; ok {
		r.mu.Unlock()
		return
	}
	r.inflight[operationID] = struct{}{}
	r.mu.Unlock()

	select {
	case r.queue <- operationID:
	default:
		r.release(operationID)
		r.logger.Warn("reconcile queue full, deferring to sweep", "operation_id", operationID)
	}
}

func (r *Reconciler) release(operationID string) {
	r.mu.Lock()
	delete(r.inflight, operationID)
	r.mu.Unlock()
}

// Resume queues every stored operation. Called once at start-up so that
// submissions in flight when the process stopped are not lost.
func (r *Reconciler) Resume(ctx context.Context) error {
	ops, err := r.ops.List(ctx)
	if err != nil {
		return fmt.Errorf("list operations: %w", err)
	}
	resumed := 0
	for _, op := range ops {
		if op.Flagged {
			continue
		}
		r.Track(op.ID)
		resumed++
	}
	monitoring.SetPendingOperations(len(ops))
	r.logger.Info("resumed pending operations", "count", resumed)
	return nil
}

// Run starts the worker pool and the sweeper and blocks until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < r.opts.ReconcileWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r.workerLoop(ctx, id)
		}(i)
	}
	r.logger.Info("reconciler started", "workers", r.opts.ReconcileWorkers)

	ticker := time.NewTicker(r.opts.ReconcileSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			r.logger.Info("reconciler stopped")
			return nil
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				r.logger.Warn("sweep failed", "error", err)
			}
		}
	}
}

// Sweep re-queues stored operations that nobody is currently polling.
func (r *Reconciler) Sweep(ctx context.Context) error {
	ops, err := r.ops.List(ctx)
	if err != nil {
		return fmt.Errorf("list operations: %w", err)
	}
	monitoring.SetPendingOperations(len(ops))
	for _, op := range ops {
		if op.Flagged || r.now().Sub(op.SubmittedAt) < r.opts.ReconcileRetryDelay {
			continue
		}
		r.Track(op.ID)
	}
	return nil
}

func (r *Reconciler) workerLoop(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case operationID := <-r.queue:
			outcome, err := r.ReconcileOnce(ctx, operationID)
			r.release(operationID)
			if err != nil {
				r.logger.Warn("reconcile attempt failed", "worker", id, "operation_id", operationID, "error", err)
			}
			if outcome == OutcomePending && ctx.Err() == nil {
				time.AfterFunc(r.opts.ReconcileRetryDelay, func() { r.Track(operationID) })
			}
		}
	}
}

// ReconcileOnce makes one confirmation attempt for an operation.
func (r *Reconciler) ReconcileOnce(ctx context.Context, operationID string) (Outcome, error) {
	op, err := r.ops.Get(ctx, operationID)
	if err != nil {
		return OutcomePending, fmt.Errorf("get operation: %w", err)
	}
	if op == nil {
		return OutcomeGone, nil
	}
	if op.Flagged {
		return OutcomeFlagged, nil
	}

	ticket, err := r.ledger.Get(ctx, op.TicketID)
	if err != nil {
		return OutcomePending, fmt.Errorf("get ticket: %w", err)
	}
	if ticket == nil || ticket.PendingOperationID != op.ID {
		// the ticket has moved on without this operation
		r.forget(ctx, *op)
		return OutcomeGone, nil
	}

	if !op.Submitted() {
		return r.reconcileUnsubmitted(ctx, *op)
	}

	attempt, err := r.ops.IncrementAttempt(ctx, op.ID)
	if err != nil {
		return OutcomePending, fmt.Errorf("increment attempt: %w", err)
	}
	op.Attempt = attempt

	conf, err := r.client.WaitForConfirmation(ctx, op.TxID, r.opts.ConfirmationRounds)
	switch {
	case errors.Is(err, domain.ErrTransactionRejected):
		if abortErr := r.abort(ctx, *op, err); abortErr != nil {
			return OutcomePending, abortErr
		}
		return OutcomeAborted, nil
	case err == nil && conf.Confirmed:
		return r.commit(ctx, *op, conf)
	}

	if err != nil {
		r.logger.Warn("confirmation poll failed", "operation_id", op.ID, "tx_id", op.TxID, "attempt", attempt, "error", err)
	}
	if attempt < r.opts.ReconcileMaxAttempts {
		return OutcomePending, nil
	}
	return r.exhausted(ctx, *op)
}

func (r *Reconciler) commit(ctx context.Context, op domain.PendingOperation, conf domain.Confirmation) (Outcome, error) {
	var err error
	if op.Kind == domain.OperationIssuance {
		err = r.completeIssuance(ctx, op, conf.AssetID)
	} else {
		err = r.completeSale(ctx, op)
	}
	if err != nil {
		return OutcomePending, err
	}
	return OutcomeCommitted, nil
}

// reconcileUnsubmitted handles operations that never recorded a tx id. The
// submission may or may not have reached the ledger, so nothing is resubmitted.
func (r *Reconciler) reconcileUnsubmitted(ctx context.Context, op domain.PendingOperation) (Outcome, error) {
	if r.now().Sub(op.SubmittedAt) < r.opts.UnsubmittedGrace {
		// the originating request may still be submitting
		return OutcomePending, nil
	}
	if op.Kind == domain.OperationTransfer {
		return r.settleFromHoldings(ctx, op, "transfer submission outcome unknown")
	}
	if err := r.flag(ctx, op, "issuance submission outcome unknown"); err != nil {
		return OutcomePending, err
	}
	return OutcomeFlagged, nil
}

// exhausted runs when the retry budget is spent without a confirmation.
func (r *Reconciler) exhausted(ctx context.Context, op domain.PendingOperation) (Outcome, error) {
	if op.Kind == domain.OperationTransfer {
		return r.settleFromHoldings(ctx, op, fmt.Sprintf("transfer %s unconfirmed after %d attempts", op.TxID, op.Attempt))
	}
	if err := r.flag(ctx, op, fmt.Sprintf("issuance %s unconfirmed after %d attempts", op.TxID, op.Attempt)); err != nil {
		return OutcomePending, err
	}
	return OutcomeFlagged, nil
}

// settleFromHoldings commits a transfer the ledger already reflects in the
// buyer's holdings and flags everything else.
func (r *Reconciler) settleFromHoldings(ctx context.Context, op domain.PendingOperation, note string) (Outcome, error) {
	ticket, err := r.ledger.Get(ctx, op.TicketID)
	if err != nil {
		return OutcomePending, fmt.Errorf("get ticket: %w", err)
	}
	if ticket != nil && ticket.AssetID != nil {
		holdings, err := r.client.AccountHoldings(ctx, op.Buyer)
		if err != nil {
			return OutcomePending, fmt.Errorf("query holdings: %w", err)
		}
		if h, ok := domain.HoldsAsset(holdings, *ticket.AssetID); ok && h.Amount >= 1 {
			if err := r.completeSale(ctx, op); err != nil {
				return OutcomePending, err
			}
			return OutcomeCommitted, nil
		}
	}
	if err := r.flag(ctx, op, note); err != nil {
		return OutcomePending, err
	}
	return OutcomeFlagged, nil
}
