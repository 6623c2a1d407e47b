package handler

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/rl1809/ticket-ledger/internal/core/domain"
	"github.com/rl1809/ticket-ledger/internal/core/service"
)

// GRPCHandler reports domain errors in the response body, like the HTTP
// handler, and reserves gRPC status errors for transport failures.
type GRPCHandler struct {
	tickets TicketService
	logger  *slog.Logger
}

var _ TicketLedgerServer = (*GRPCHandler)(nil)

func NewGRPCHandler(tickets TicketService, logger *slog.Logger) *GRPCHandler {
	return &GRPCHandler{tickets: tickets, logger: logger}
}

func (h *GRPCHandler) CreateTicketBatch(ctx context.Context, req *CreateTicketBatchRequest) (*CreateTicketBatchResponse, error) {
	price, ok := parsePrice(req.UnitPrice)
	if !ok {
		return &CreateTicketBatchResponse{Error: string(domain.KindInvalidRequest), Message: "invalid unit price"}, nil
	}

	result, err := h.tickets.CreateTicketBatch(ctx, service.BatchRequest{
		BatchKey:  req.BatchKey,
		EventName: req.EventName,
		Capacity:  req.Capacity,
		UnitPrice: price,
	})
	return h.batchResponse("CreateTicketBatch", result, err), nil
}

func (h *GRPCHandler) MintTicket(ctx context.Context, req *MintTicketRequest) (*CreateTicketBatchResponse, error) {
	price, ok := parsePrice(req.UnitPrice)
	if !ok {
		return &CreateTicketBatchResponse{Error: string(domain.KindInvalidRequest), Message: "invalid unit price"}, nil
	}

	result, err := h.tickets.MintTicket(ctx, service.MintRequest{
		BatchKey:    req.BatchKey,
		EventName:   req.EventName,
		MetadataURL: req.MetadataURL,
		UnitPrice:   price,
	})
	return h.batchResponse("MintTicket", result, err), nil
}

func (h *GRPCHandler) batchResponse(method string, result service.BatchResult, err error) *CreateTicketBatchResponse {
	resp := &CreateTicketBatchResponse{
		TicketID:      result.TicketID,
		BatchKey:      result.BatchKey,
		Authoritative: result.Authoritative,
		State:         string(result.State),
	}
	if result.AssetID != nil {
		resp.AssetID = uint64(*result.AssetID)
	}
	resp.Error, resp.Message = h.describe(method, err)
	return resp
}

// parsePrice accepts an empty price as zero.
func parsePrice(s string) (decimal.Decimal, bool) {
	if s == "" {
		return decimal.Zero, true
	}
	price, err := decimal.NewFromString(s)
	return price, err == nil
}

func (h *GRPCHandler) PurchaseTicket(ctx context.Context, req *PurchaseTicketRequest) (*PurchaseTicketResponse, error) {
	result, err := h.tickets.PurchaseTicket(ctx, req.TicketID, req.BuyerAddress)
	resp := &PurchaseTicketResponse{
		Success:     result.Success,
		Status:      string(result.Status),
		OperationID: result.OperationID,
		TxID:        string(result.TxID),
	}
	if result.Holder != nil {
		resp.Holder = string(*result.Holder)
	}
	resp.Error, resp.Message = h.describe("PurchaseTicket", err)
	return resp, nil
}

func (h *GRPCHandler) TicketStatus(ctx context.Context, req *TicketStatusRequest) (*TicketStatusResponse, error) {
	view, err := h.tickets.TicketStatus(ctx, req.TicketID)
	if err != nil {
		resp := &TicketStatusResponse{TicketID: req.TicketID}
		resp.Error, resp.Message = h.describe("TicketStatus", err)
		return resp, nil
	}

	resp := &TicketStatusResponse{
		TicketID:            view.TicketID,
		EventName:           view.EventName,
		Authoritative:       view.Authoritative,
		UnitPrice:           view.UnitPrice.String(),
		MetadataURL:         view.MetadataURL,
		State:               string(view.State),
		Status:              string(view.Status),
		NeedsReconciliation: view.NeedsReconciliation,
	}
	if view.AssetID != nil {
		resp.AssetID = uint64(*view.AssetID)
	}
	if view.CurrentHolder != nil {
		resp.CurrentHolder = string(*view.CurrentHolder)
	}
	return resp, nil
}

func (h *GRPCHandler) CheckOptInStatus(ctx context.Context, req *OptInStatusRequest) (*OptInStatusResponse, error) {
	optedIn, err := h.tickets.CheckOptInStatus(ctx, req.Address, domain.AssetID(req.AssetID))
	resp := &OptInStatusResponse{OptedIn: optedIn}
	resp.Error, resp.Message = h.describe("CheckOptInStatus", err)
	return resp, nil
}

func (h *GRPCHandler) BuildOptInRequest(ctx context.Context, req *OptInRequestRequest) (*OptInRequestResponse, error) {
	blob, err := h.tickets.BuildOptInRequest(ctx, req.Address, domain.AssetID(req.AssetID))
	resp := &OptInRequestResponse{Transaction: blob}
	resp.Error, resp.Message = h.describe("BuildOptInRequest", err)
	return resp, nil
}

func (h *GRPCHandler) describe(method string, err error) (string, string) {
	if err == nil {
		return "", ""
	}
	kind := domain.KindOf(err)
	if kind == domain.KindInternal {
		h.logger.Error("grpc request failed", "method", method, "error", err)
	}
	return string(kind), publicMessage(kind, err)
}
