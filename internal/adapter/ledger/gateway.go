package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rl1809/ticket-ledger/internal/core/domain"
	"github.com/rl1809/ticket-ledger/internal/monitoring"
)

type GatewayConfig struct {
	BaseURL      string
	Token        string
	Timeout      time.Duration // per request
	PollInterval time.Duration // between confirmation polls
}

var errNotFound = errors.New("not found")

// Gateway talks to a ledger node over its REST API. Mutating calls are
// signed locally with the platform key.
type Gateway struct {
	cfg    GatewayConfig
	http   *http.Client
	signer signer
	logger *slog.Logger
}

func NewGateway(cfg GatewayConfig, s signer, logger *slog.Logger) *Gateway {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Gateway{
		cfg:    cfg,
		http:   &http.Client{},
		signer: s,
		logger: logger,
	}
}

func (g *Gateway) SuggestedParams(ctx context.Context) (domain.SuggestedParams, error) {
	var resp paramsResponse
	err := g.do(ctx, "params", http.MethodGet, "/v2/transactions/params", nil, &resp)
	monitoring.TrackLedgerRequest("params", err)
	if err != nil {
		return domain.SuggestedParams{}, err
	}
	return domain.SuggestedParams{
		Fee:         resp.Fee,
		MinFee:      resp.MinFee,
		FirstValid:  domain.Round(resp.LastRound),
		LastValid:   domain.Round(resp.LastRound + validityWindow),
		GenesisID:   resp.GenesisID,
		GenesisHash: resp.GenesisHash,
	}, nil
}

func (g *Gateway) CreateAsset(ctx context.Context, spec domain.AssetSpec) (domain.TxID, error) {
	if !g.signer.Available() {
		return "", domain.ErrSigningUnavailable
	}
	params, err := g.SuggestedParams(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrNotSubmitted, err)
	}
	return g.submit(ctx, "create_asset", assetConfigTx(params, g.signer.Address(), spec, newNote()))
}

func (g *Gateway) TransferAsset(ctx context.Context, assetID domain.AssetID, from, to domain.Address, amount uint64) (domain.TxID, error) {
	if !g.signer.Available() {
		return "", domain.ErrSigningUnavailable
	}
	if from != g.signer.Address() {
		return "", fmt.Errorf("%w: cannot sign for %s", domain.ErrNotSubmitted, from)
	}
	params, err := g.SuggestedParams(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrNotSubmitted, err)
	}
	return g.submit(ctx, "transfer_asset", assetTransferTx(params, assetID, from, to, amount, newNote()))
}

// submit posts a signed transaction. When the node's answer is lost the
// locally derived tx id is returned along with the error, so the caller can
// keep polling for a transaction that may have landed.
func (g *Gateway) submit(ctx context.Context, op string, tx Transaction) (domain.TxID, error) {
	stx, localID, err := signTransaction(g.signer, tx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrNotSubmitted, err)
	}
	body, err := EncodeSigned(stx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrNotSubmitted, err)
	}

	var resp submitResponse
	err = g.do(ctx, op, http.MethodPost, "/v2/transactions", body, &resp)
	monitoring.TrackLedgerRequest(op, err)
	if err != nil {
		if domain.Undelivered(err) {
			return "", err
		}
		g.logger.Warn("transaction submission outcome unknown", "op", op, "tx_id", localID, "error", err)
		return localID, err
	}

	if resp.TxID != string(localID) {
		g.logger.Warn("node reported unexpected tx id", "tx_id", resp.TxID, "local_tx_id", localID)
	}
	g.logger.Info("transaction submitted", "op", op, "tx_id", resp.TxID)
	return domain.TxID(resp.TxID), nil
}

func (g *Gateway) WaitForConfirmation(ctx context.Context, txID domain.TxID, maxRounds int) (domain.Confirmation, error) {
	for i := 0; i < maxRounds; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return domain.Confirmation{TxID: txID}, ctx.Err()
			case <-time.After(g.cfg.PollInterval):
			}
		}

		var resp pendingResponse
		err := g.do(ctx, "pending", http.MethodGet, "/v2/transactions/pending/"+url.PathEscape(string(txID)), nil, &resp)
		monitoring.TrackLedgerRequest("pending", err)
		if err != nil {
			if ctx.Err() != nil {
				return domain.Confirmation{TxID: txID}, ctx.Err()
			}
			// the node may not have seen the transaction yet
			g.logger.Debug("confirmation poll failed", "tx_id", txID, "attempt", i+1, "error", err)
			continue
		}

		if resp.PoolError != "" {
			return domain.Confirmation{TxID: txID}, fmt.Errorf("%w: %s", domain.ErrTransactionRejected, resp.PoolError)
		}
		if resp.ConfirmedRound > 0 {
			return domain.Confirmation{
				TxID:      txID,
				Confirmed: true,
				Round:     domain.Round(resp.ConfirmedRound),
				AssetID:   domain.AssetID(resp.AssetIndex),
			}, nil
		}
	}
	return domain.Confirmation{TxID: txID}, nil
}

func (g *Gateway) AccountHoldings(ctx context.Context, address domain.Address) ([]domain.Holding, error) {
	var resp accountResponse
	err := g.do(ctx, "holdings", http.MethodGet, "/v2/accounts/"+url.PathEscape(string(address)), nil, &resp)
	monitoring.TrackLedgerRequest("holdings", err)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	holdings := make([]domain.Holding, 0, len(resp.Assets))
	for _, a := range resp.Assets {
		holdings = append(holdings, domain.Holding{AssetID: domain.AssetID(a.AssetID), Amount: a.Amount})
	}
	return holdings, nil
}

func (g *Gateway) BuildOptIn(ctx context.Context, address domain.Address, assetID domain.AssetID) ([]byte, error) {
	params, err := g.SuggestedParams(ctx)
	if err != nil {
		return nil, err
	}
	return EncodeTransaction(assetTransferTx(params, assetID, address, address, 0, nil))
}

// do performs one bounded request. body, if set, is sent as CBOR.
func (g *Gateway) do(ctx context.Context, op, method, path string, body []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: %w: build request: %v", op, domain.ErrNotSubmitted, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", cborMediaType)
	}
	if g.cfg.Token != "" {
		req.Header.Set(tokenHeader, g.cfg.Token)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w: %v", op, domain.ErrLedgerTimeout, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return classify(op, method, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func classify(op, method string, resp *http.Response) error {
	var e errorResponse
	json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e)

	switch {
	case strings.Contains(e.Message, optInMessage):
		return fmt.Errorf("%s: %w: %s", op, domain.ErrOptInRequired, e.Message)
	case resp.StatusCode == http.StatusBadRequest && method == http.MethodPost:
		return fmt.Errorf("%s: %w: %s", op, domain.ErrTransactionRejected, e.Message)
	case resp.StatusCode < http.StatusInternalServerError && method == http.MethodPost:
		// the node answered and refused the request itself
		return fmt.Errorf("%s: %w: node returned %d: %s", op, domain.ErrNotSubmitted, resp.StatusCode, e.Message)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w: %s", op, errNotFound, e.Message)
	default:
		return fmt.Errorf("%s: node returned %d: %s", op, resp.StatusCode, e.Message)
	}
}
