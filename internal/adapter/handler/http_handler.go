package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/rl1809/ticket-ledger/internal/core/domain"
	"github.com/rl1809/ticket-ledger/internal/core/service"
)

const maxBodyBytes = 1 << 20

type HTTPHandler struct {
	tickets TicketService
	logger  *slog.Logger
}

type CreateBatchHTTPRequest struct {
	BatchKey  string          `json:"batch_key"`
	EventName string          `json:"event_name"`
	Capacity  uint64          `json:"capacity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type MintHTTPRequest struct {
	BatchKey    string          `json:"batch_key"`
	EventName   string          `json:"event_name"`
	MetadataURL string          `json:"metadata_url"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type BatchHTTPResponse struct {
	TicketID      int64   `json:"ticket_id"`
	BatchKey      string  `json:"batch_key"`
	AssetID       *uint64 `json:"asset_id"`
	Authoritative bool    `json:"authoritative"`
	State         string  `json:"issuance_state"`
}

type PurchaseHTTPRequest struct {
	BuyerAddress string `json:"buyer_address"`
}

type PurchaseHTTPResponse struct {
	TicketID    int64   `json:"ticket_id"`
	Success     bool    `json:"success"`
	Status      string  `json:"status"`
	Holder      *string `json:"holder,omitempty"`
	OperationID string  `json:"operation_id,omitempty"`
	TxID        string  `json:"tx_id,omitempty"`
	Error       string  `json:"error,omitempty"`
	Message     string  `json:"message,omitempty"`
}

type TicketHTTPResponse struct {
	TicketID            int64           `json:"ticket_id"`
	EventName           string          `json:"event_name"`
	AssetID             *uint64         `json:"asset_id"`
	Authoritative       bool            `json:"authoritative"`
	UnitPrice           decimal.Decimal `json:"unit_price"`
	MetadataURL         string          `json:"metadata_url,omitempty"`
	State               string          `json:"issuance_state"`
	Status              string          `json:"status"`
	CurrentHolder       *string         `json:"current_holder"`
	NeedsReconciliation bool            `json:"needs_reconciliation"`
}

type OptInRequestHTTPRequest struct {
	Address string `json:"address"`
	AssetID uint64 `json:"asset_id"`
}

type ErrorHTTPResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func NewHTTPHandler(tickets TicketService, logger *slog.Logger) *HTTPHandler {
	return &HTTPHandler{tickets: tickets, logger: logger}
}

func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/batches", h.CreateBatch)
	mux.HandleFunc("POST /api/tickets/mint", h.Mint)
	mux.HandleFunc("POST /api/tickets/{id}/purchase", h.Purchase)
	mux.HandleFunc("GET /api/tickets/{id}", h.TicketStatus)
	mux.HandleFunc("GET /api/tickets", h.TicketsHeldBy)
	mux.HandleFunc("GET /api/optin-status", h.OptInStatus)
	mux.HandleFunc("POST /api/optin-request", h.OptInRequest)
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())
}

func (h *HTTPHandler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req CreateBatchHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.tickets.CreateTicketBatch(r.Context(), service.BatchRequest{
		BatchKey:  req.BatchKey,
		EventName: req.EventName,
		Capacity:  req.Capacity,
		UnitPrice: req.UnitPrice,
	})
	h.writeBatch(w, r, result, err)
}

func (h *HTTPHandler) Mint(w http.ResponseWriter, r *http.Request) {
	var req MintHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.tickets.MintTicket(r.Context(), service.MintRequest{
		BatchKey:    req.BatchKey,
		EventName:   req.EventName,
		MetadataURL: req.MetadataURL,
		UnitPrice:   req.UnitPrice,
	})
	h.writeBatch(w, r, result, err)
}

func (h *HTTPHandler) writeBatch(w http.ResponseWriter, r *http.Request, result service.BatchResult, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if result.State == domain.StateAwaitingConfirmation || result.State == domain.StateSubmitting {
		status = http.StatusAccepted
	}
	writeJSON(w, status, BatchHTTPResponse{
		TicketID:      result.TicketID,
		BatchKey:      result.BatchKey,
		AssetID:       assetIDPtr(result.AssetID),
		Authoritative: result.Authoritative,
		State:         string(result.State),
	})
}

func (h *HTTPHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	ticketID, ok := h.ticketID(w, r)
	if !ok {
		return
	}
	var req PurchaseHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.tickets.PurchaseTicket(r.Context(), ticketID, req.BuyerAddress)
	resp := PurchaseHTTPResponse{
		TicketID:    ticketID,
		Success:     result.Success,
		Status:      string(result.Status),
		Holder:      addressPtr(result.Holder),
		OperationID: result.OperationID,
		TxID:        string(result.TxID),
	}
	kind := domain.KindOf(err)
	if err != nil {
		resp.Error = string(kind)
		resp.Message = publicMessage(kind, err)
		if kind == domain.KindInternal {
			h.logger.Error("purchase failed", "ticket_id", ticketID, "error", err)
		}
	}
	writeJSON(w, httpStatus(kind), resp)
}

func (h *HTTPHandler) TicketStatus(w http.ResponseWriter, r *http.Request) {
	ticketID, ok := h.ticketID(w, r)
	if !ok {
		return
	}

	view, err := h.tickets.TicketStatus(r.Context(), ticketID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticketResponse(view))
}

func (h *HTTPHandler) TicketsHeldBy(w http.ResponseWriter, r *http.Request) {
	views, err := h.tickets.TicketsHeldBy(r.Context(), r.URL.Query().Get("holder"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := make([]TicketHTTPResponse, 0, len(views))
	for _, v := range views {
		resp = append(resp, ticketResponse(v))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) OptInStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	assetID, err := strconv.ParseUint(q.Get("asset_id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Error: string(domain.KindInvalidRequest), Message: "invalid asset_id"})
		return
	}

	optedIn, err := h.tickets.CheckOptInStatus(r.Context(), q.Get("address"), domain.AssetID(assetID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"opted_in": optedIn})
}

func (h *HTTPHandler) OptInRequest(w http.ResponseWriter, r *http.Request) {
	var req OptInRequestHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	blob, err := h.tickets.BuildOptInRequest(r.Context(), req.Address, domain.AssetID(req.AssetID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"transaction": blob})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{
			Error:   string(domain.KindInvalidRequest),
			Message: "invalid request body",
		})
		return false
	}
	return true
}

func (h *HTTPHandler) ticketID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{
			Error:   string(domain.KindInvalidRequest),
			Message: "invalid ticket id",
		})
		return 0, false
	}
	return id, true
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	if kind == domain.KindInternal {
		h.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, httpStatus(kind), ErrorHTTPResponse{Error: string(kind), Message: publicMessage(kind, err)})
}

func ticketResponse(v service.TicketView) TicketHTTPResponse {
	return TicketHTTPResponse{
		TicketID:            v.TicketID,
		EventName:           v.EventName,
		AssetID:             assetIDPtr(v.AssetID),
		Authoritative:       v.Authoritative,
		UnitPrice:           v.UnitPrice,
		MetadataURL:         v.MetadataURL,
		State:               string(v.State),
		Status:              string(v.Status),
		CurrentHolder:       addressPtr(v.CurrentHolder),
		NeedsReconciliation: v.NeedsReconciliation,
	}
}

func assetIDPtr(id *domain.AssetID) *uint64 {
	if id == nil {
		return nil
	}
	v := uint64(*id)
	return &v
}

func addressPtr(a *domain.Address) *string {
	if a == nil {
		return nil
	}
	v := string(*a)
	return &v
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
