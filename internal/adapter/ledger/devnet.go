package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/rl1809/ticket-ledger/internal/core/domain"
)

type DevnetOptions struct {
	// ConfirmationLag is the number of rounds between submission and
	// confirmation. Every confirmation poll advances one round.
	ConfirmationLag int
	PollInterval    time.Duration
	GenesisID       string
	FirstAssetID    domain.AssetID
}

func DefaultDevnetOptions() DevnetOptions {
	return DevnetOptions{
		ConfirmationLag: 1,
		GenesisID:       "devnet-v1",
		FirstAssetID:    1000,
	}
}

type devnetTx struct {
	stx       SignedTransaction
	submitted domain.Round
	confirmed domain.Round
	assetID   domain.AssetID
	poolError string
	doomed    string
}

// Devnet is an in-process ledger. It verifies signatures, enforces opt-in
// and confirms transactions after a configurable number of rounds.
type Devnet struct {
	mu       sync.Mutex
	signer   signer
	opts     DevnetOptions
	round    domain.Round
	holdings map[domain.Address]map[domain.AssetID]uint64
	assets   map[domain.AssetID]domain.Address
	txs      map[domain.TxID]*devnetTx
	queue    []domain.TxID

	nextAsset   domain.AssetID
	paused      bool
	submitErr   error
	dropAck     bool
	rejectNext  string
	submissions int
}

func NewDevnet(s signer, opts DevnetOptions) *Devnet {
	if opts.FirstAssetID == 0 {
		opts.FirstAssetID = DefaultDevnetOptions().FirstAssetID
	}
	if opts.GenesisID == "" {
		opts.GenesisID = DefaultDevnetOptions().GenesisID
	}
	return &Devnet{
		signer:    s,
		opts:      opts,
		round:     1,
		holdings:  make(map[domain.Address]map[domain.AssetID]uint64),
		assets:    make(map[domain.AssetID]domain.Address),
		txs:       make(map[domain.TxID]*devnetTx),
		nextAsset: opts.FirstAssetID,
	}
}

func (d *Devnet) SuggestedParams(ctx context.Context) (domain.SuggestedParams, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.params(), nil
}

func (d *Devnet) params() domain.SuggestedParams {
	gh := blake3.Sum256([]byte(d.opts.GenesisID))
	return domain.SuggestedParams{
		Fee:         1000,
		MinFee:      1000,
		FirstValid:  d.round,
		LastValid:   d.round + validityWindow,
		GenesisID:   d.opts.GenesisID,
		GenesisHash: gh[:],
	}
}

func (d *Devnet) CreateAsset(ctx context.Context, spec domain.AssetSpec) (domain.TxID, error) {
	if !d.signer.Available() {
		return "", domain.ErrSigningUnavailable
	}
	params, _ := d.SuggestedParams(ctx)
	tx := assetConfigTx(params, d.signer.Address(), spec, newNote())
	stx, _, err := signTransaction(d.signer, tx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrNotSubmitted, err)
	}
	return d.Submit(ctx, stx)
}

func (d *Devnet) TransferAsset(ctx context.Context, assetID domain.AssetID, from, to domain.Address, amount uint64) (domain.TxID, error) {
	if !d.signer.Available() {
		return "", domain.ErrSigningUnavailable
	}
	if from != d.signer.Address() {
		return "", fmt.Errorf("%w: cannot sign for %s", domain.ErrNotSubmitted, from)
	}
	params, _ := d.SuggestedParams(ctx)
	tx := assetTransferTx(params, assetID, from, to, amount, newNote())
	stx, _, err := signTransaction(d.signer, tx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrNotSubmitted, err)
	}
	return d.Submit(ctx, stx)
}

// Submit accepts a signed transaction into the pool after the same checks
// a node performs on admission.
func (d *Devnet) Submit(ctx context.Context, stx SignedTransaction) (domain.TxID, error) {
	if err := stx.Verify(); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrTransactionRejected, err)
	}
	id, err := stx.Txn.ID()
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrNotSubmitted, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.submitErr; err != nil {
		d.submitErr = nil
		return "", err
	}
	if _, ok := d.txs[id]; ok {
		return "", fmt.Errorf("%w: transaction %s already in ledger", domain.ErrTransactionRejected, id)
	}
	if domain.Round(stx.Txn.LastValid) < d.round {
		return "", fmt.Errorf("%w: transaction %s expired at round %d", domain.ErrTransactionRejected, id, stx.Txn.LastValid)
	}
	if err := d.admit(&stx.Txn); err != nil {
		return "", err
	}

	d.txs[id] = &devnetTx{stx: stx, submitted: d.round, doomed: d.rejectNext}
	d.rejectNext = ""
	d.queue = append(d.queue, id)
	d.submissions++
	if d.dropAck {
		d.dropAck = false
		return id, fmt.Errorf("submit: %w: acknowledgement lost", domain.ErrLedgerTimeout)
	}
	return id, nil
}

func (d *Devnet) admit(tx *Transaction) error {
	switch tx.Type {
	case TypeAssetConfig:
		if tx.AssetParams == nil || tx.AssetParams.Total == 0 {
			return fmt.Errorf("%w: asset total must be positive", domain.ErrTransactionRejected)
		}
		return nil
	case TypeAssetTransfer:
		asset := domain.AssetID(tx.XferAsset)
		if _, ok := d.assets[asset]; !ok {
			return fmt.Errorf("%w: asset %d does not exist", domain.ErrTransactionRejected, asset)
		}
		if tx.IsOptIn() {
			return nil
		}
		if _, ok := d.holdings[tx.AssetReceiver][asset]; !ok {
			return fmt.Errorf("%w: receiver %s %s to asset %d", domain.ErrOptInRequired, tx.AssetReceiver, optInMessage, asset)
		}
		if d.holdings[tx.Sender][asset] < tx.AssetAmount {
			return fmt.Errorf("%w: overspend of asset %d by %s", domain.ErrTransactionRejected, asset, tx.Sender)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown transaction type %q", domain.ErrTransactionRejected, tx.Type)
	}
}

// WaitForConfirmation polls at most maxRounds times, advancing the devnet
// by one round per poll unless paused.
func (d *Devnet) WaitForConfirmation(ctx context.Context, txID domain.TxID, maxRounds int) (domain.Confirmation, error) {
	for i := 0; i < maxRounds; i++ {
		if i > 0 && d.opts.PollInterval > 0 {
			select {
			case <-ctx.Done():
				return domain.Confirmation{TxID: txID}, ctx.Err()
			case <-time.After(d.opts.PollInterval):
			}
		}
		if err := ctx.Err(); err != nil {
			return domain.Confirmation{TxID: txID}, err
		}

		status, err := d.Status(txID)
		if err != nil {
			return domain.Confirmation{TxID: txID}, err
		}
		if status.PoolError != "" {
			return domain.Confirmation{TxID: txID}, fmt.Errorf("%w: %s", domain.ErrTransactionRejected, status.PoolError)
		}
		if status.ConfirmedRound > 0 {
			return domain.Confirmation{
				TxID:      txID,
				Confirmed: true,
				Round:     domain.Round(status.ConfirmedRound),
				AssetID:   domain.AssetID(status.AssetIndex),
			}, nil
		}
	}
	return domain.Confirmation{TxID: txID}, nil
}

var errUnknownTransaction = errors.New("unknown transaction")

// Status advances one round and reports the pool state of txID.
func (d *Devnet) Status(txID domain.TxID) (pendingResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, ok := d.txs[txID]
	if !ok {
		return pendingResponse{}, fmt.Errorf("%w: %s", errUnknownTransaction, txID)
	}
	if !d.paused {
		d.advance()
	}
	return pendingResponse{
		ConfirmedRound: uint64(tx.confirmed),
		AssetIndex:     uint64(tx.assetID),
		PoolError:      tx.poolError,
	}, nil
}

func (d *Devnet) advance() {
	d.round++
	remaining := d.queue[:0]
	for _, id := range d.queue {
		tx := d.txs[id]
		if int(d.round-tx.submitted) < d.opts.ConfirmationLag {
			remaining = append(remaining, id)
			continue
		}
		d.apply(tx)
	}
	d.queue = remaining
}

// apply re-checks balances at confirmation time: two transfers admitted
// against the same balance cannot both land.
func (d *Devnet) apply(tx *devnetTx) {
	if tx.doomed != "" {
		tx.poolError = tx.doomed
		return
	}

	txn := &tx.stx.Txn
	switch txn.Type {
	case TypeAssetConfig:
		id := d.nextAsset
		d.nextAsset++
		d.assets[id] = txn.Sender
		d.holding(txn.Sender)[id] = txn.AssetParams.Total
		tx.assetID = id
	case TypeAssetTransfer:
		asset := domain.AssetID(txn.XferAsset)
		if txn.IsOptIn() {
			if _, ok := d.holding(txn.Sender)[asset]; !ok {
				d.holding(txn.Sender)[asset] = 0
			}
			break
		}
		if _, ok := d.holdings[txn.AssetReceiver][asset]; !ok {
			tx.poolError = "receiver " + optInMessage
			return
		}
		if d.holdings[txn.Sender][asset] < txn.AssetAmount {
			tx.poolError = "overspend"
			return
		}
		d.holdings[txn.Sender][asset] -= txn.AssetAmount
		d.holdings[txn.AssetReceiver][asset] += txn.AssetAmount
	}
	tx.confirmed = d.round
}

func (d *Devnet) holding(addr domain.Address) map[domain.AssetID]uint64 {
	h, ok := d.holdings[addr]
	if !ok {
		h = make(map[domain.AssetID]uint64)
		d.holdings[addr] = h
	}
	return h
}

func (d *Devnet) AccountHoldings(ctx context.Context, address domain.Address) ([]domain.Holding, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]domain.Holding, 0, len(d.holdings[address]))
	for id, amount := range d.holdings[address] {
		out = append(out, domain.Holding{AssetID: id, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out, nil
}

func (d *Devnet) BuildOptIn(ctx context.Context, address domain.Address, assetID domain.AssetID) ([]byte, error) {
	params, _ := d.SuggestedParams(ctx)
	return EncodeTransaction(assetTransferTx(params, assetID, address, address, 0, nil))
}

// OptIn registers address for assetID without a signed transaction.
func (d *Devnet) OptIn(address domain.Address, assetID domain.AssetID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.holding(address)[assetID]; !ok {
		d.holding(address)[assetID] = 0
	}
}

// SetPaused stops round progression; submitted transactions stay pending.
func (d *Devnet) SetPaused(paused bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = paused
}

func (d *Devnet) SetConfirmationLag(rounds int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opts.ConfirmationLag = rounds
}

// FailNextSubmission makes the next Submit return err without admitting
// the transaction.
func (d *Devnet) FailNextSubmission(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.submitErr = err
}

// DropNextAck admits the next submitted transaction but answers as if the
// acknowledgement timed out. The tx id is still returned, like the gateway
// does for a lost response.
func (d *Devnet) DropNextAck() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dropAck = true
}

// RejectNext admits the next submitted transaction but drops it from the
// pool with reason when it would have confirmed.
func (d *Devnet) RejectNext(reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rejectNext = reason
}

func (d *Devnet) Submissions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submissions
}

func (d *Devnet) Round() domain.Round {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.round
}

func newNote() []byte {
	id := uuid.New()
	return id[:]
}
