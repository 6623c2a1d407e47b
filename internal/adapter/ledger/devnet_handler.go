package ledger

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rl1809/ticket-ledger/internal/core/domain"
)

const maxTransactionBytes = 64 << 10

// Handler serves the devnet over the node REST API, so Gateway can run
// against it. An empty token disables authentication.
func (d *Devnet) Handler(token string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/transactions/params", d.handleParams)
	mux.HandleFunc("POST /v2/transactions", d.handleSubmit)
	mux.HandleFunc("GET /v2/transactions/pending/{txid}", d.handlePending)
	mux.HandleFunc("GET /v2/accounts/{address}", d.handleAccount)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token != "" && r.Header.Get(tokenHeader) != token {
			writeNodeError(w, http.StatusUnauthorized, "invalid API token")
			return
		}
		mux.ServeHTTP(w, r)
	})
}

func (d *Devnet) handleParams(w http.ResponseWriter, r *http.Request) {
	params, _ := d.SuggestedParams(r.Context())
	writeNodeJSON(w, http.StatusOK, paramsResponse{
		Fee:         params.Fee,
		MinFee:      params.MinFee,
		LastRound:   uint64(params.FirstValid),
		GenesisID:   params.GenesisID,
		GenesisHash: params.GenesisHash,
	})
}

func (d *Devnet) handleSubmit(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxTransactionBytes))
	if err != nil {
		writeNodeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stx, err := DecodeSigned(raw)
	if err != nil {
		writeNodeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := d.Submit(r.Context(), stx)
	if err != nil {
		writeNodeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeNodeJSON(w, http.StatusOK, submitResponse{TxID: string(id)})
}

func (d *Devnet) handlePending(w http.ResponseWriter, r *http.Request) {
	status, err := d.Status(domain.TxID(r.PathValue("txid")))
	if errors.Is(err, errUnknownTransaction) {
		writeNodeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeNodeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeNodeJSON(w, http.StatusOK, status)
}

func (d *Devnet) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := domain.ParseAddress(r.PathValue("address"))
	if err != nil {
		writeNodeError(w, http.StatusBadRequest, err.Error())
		return
	}

	holdings, _ := d.AccountHoldings(r.Context(), addr)
	resp := accountResponse{Address: string(addr), Assets: make([]assetHolding, 0, len(holdings))}
	for _, h := range holdings {
		resp.Assets = append(resp.Assets, assetHolding{AssetID: uint64(h.AssetID), Amount: h.Amount})
	}
	writeNodeJSON(w, http.StatusOK, resp)
}

func writeNodeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeNodeError(w http.ResponseWriter, status int, message string) {
	writeNodeJSON(w, status, errorResponse{Message: message})
}
