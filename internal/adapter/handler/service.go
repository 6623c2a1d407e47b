package handler

import (
	"context"
	"net/http"

	"github.com/rl1809/ticket-ledger/internal/core/domain"
	"github.com/rl1809/ticket-ledger/internal/core/service"
)

// TicketService is the boundary both transports expose.
type TicketService interface {
	CreateTicketBatch(ctx context.Context, req service.BatchRequest) (service.BatchResult, error)
	MintTicket(ctx context.Context, req service.MintRequest) (service.BatchResult, error)
	PurchaseTicket(ctx context.Context, ticketID int64, buyerAddress string) (service.PurchaseResult, error)
	TicketStatus(ctx context.Context, ticketID int64) (service.TicketView, error)
	TicketsHeldBy(ctx context.Context, holder string) ([]service.TicketView, error)
	CheckOptInStatus(ctx context.Context, address string, assetID domain.AssetID) (bool, error)
	BuildOptInRequest(ctx context.Context, address string, assetID domain.AssetID) (string, error)
}

var _ TicketService = (*service.LedgerService)(nil)

// httpStatus maps an error kind onto the HTTP status returned to callers.
func httpStatus(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindNone:
		return http.StatusOK
	case domain.KindInvalidAddress, domain.KindInvalidRequest:
		return http.StatusBadRequest
	case domain.KindAssetNotFound:
		return http.StatusNotFound
	case domain.KindAlreadySold:
		return http.StatusGone
	case domain.KindOptInRequired, domain.KindTransferInFlight, domain.KindNotIssued:
		return http.StatusConflict
	case domain.KindLedgerTimeout:
		return http.StatusAccepted
	case domain.KindSigningUnavailable, domain.KindLedgerUnavailable:
		return http.StatusServiceUnavailable
	case domain.KindIssuanceFailed, domain.KindRejected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage keeps internal error text away from callers.
func publicMessage(kind domain.ErrorKind, err error) string {
	if kind == domain.KindInternal {
		return "internal error"
	}
	return err.Error()
}
