package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/rl1809/ticket-ledger/internal/core/domain"
	"github.com/rl1809/ticket-ledger/internal/port"
)

// TicketView is the read model returned to callers polling a ticket.
type TicketView struct {
	TicketID            int64
	EventName           string
	AssetID             *domain.AssetID
	Authoritative       bool
	UnitPrice           decimal.Decimal
	MetadataURL         string
	State               domain.IssuanceState
	Status              domain.PurchaseStatus
	CurrentHolder       *domain.Address
	NeedsReconciliation bool
}

// LedgerService is the boundary consumed by the transport layer.
type LedgerService struct {
	*IssuanceCoordinator
	*TransferCoordinator
	*OptInService
	Reconciler *Reconciler

	ledger port.OwnershipLedger
}

func NewLedgerService(deps Dependencies, opts Options) *LedgerService {
	reconciler := NewReconciler(deps, opts)
	fallback := NewMockFallbackGenerator(deps.Sequence, deps.Logger)
	return &LedgerService{
		IssuanceCoordinator: NewIssuanceCoordinator(deps, fallback, reconciler, opts),
		TransferCoordinator: NewTransferCoordinator(deps, reconciler, opts),
		OptInService:        NewOptInService(deps.Client),
		Reconciler:          reconciler,
		ledger:              deps.Ledger,
	}
}

func (s *LedgerService) TicketStatus(ctx context.Context, ticketID int64) (TicketView, error) {
	ticket, err := s.ledger.Get(ctx, ticketID)
	if err != nil {
		return TicketView{}, fmt.Errorf("get ticket: %w", err)
	}
	if ticket == nil {
		return TicketView{}, domain.ErrAssetNotFound
	}
	return viewOf(*ticket), nil
}

func (s *LedgerService) TicketsHeldBy(ctx context.Context, holder string) ([]TicketView, error) {
	addr, err := domain.ParseAddress(holder)
	if err != nil {
		return nil, err
	}
	tickets, err := s.ledger.ListHeldBy(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("list held tickets: %w", err)
	}
	sort.SliceStable(tickets, func(i, j int) bool { return tickets[i].TicketID > tickets[j].TicketID })

	views := make([]TicketView, 0, len(tickets))
	for _, t := range tickets {
		views = append(views, viewOf(t))
	}
	return views, nil
}

func viewOf(t domain.TicketAsset) TicketView {
	return TicketView{
		TicketID:            t.TicketID,
		EventName:           t.EventName,
		AssetID:             t.AssetID,
		Authoritative:       t.Authoritative,
		UnitPrice:           t.UnitPrice,
		MetadataURL:         t.MetadataURL,
		State:               t.State,
		Status:              t.PurchaseStatus(),
		CurrentHolder:       t.CurrentHolder,
		NeedsReconciliation: t.NeedsReconciliation,
	}
}
