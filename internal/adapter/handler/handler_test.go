package handler

import (
	"context"
	"io"
	"log/slog"

	"github.com/stretchr/testify/mock"

	"github.com/rl1809/ticket-ledger/internal/core/domain"
	"github.com/rl1809/ticket-ledger/internal/core/service"
)

type MockTicketService struct {
	mock.Mock
}

func (m *MockTicketService) CreateTicketBatch(ctx context.Context, req service.BatchRequest) (service.BatchResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(service.BatchResult), args.Error(1)
}

func (m *MockTicketService) MintTicket(ctx context.Context, req service.MintRequest) (service.BatchResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(service.BatchResult), args.Error(1)
}

func (m *MockTicketService) PurchaseTicket(ctx context.Context, ticketID int64, buyerAddress string) (service.PurchaseResult, error) {
	args := m.Called(ctx, ticketID, buyerAddress)
	return args.Get(0).(service.PurchaseResult), args.Error(1)
}

func (m *MockTicketService) TicketStatus(ctx context.Context, ticketID int64) (service.TicketView, error) {
	args := m.Called(ctx, ticketID)
	return args.Get(0).(service.TicketView), args.Error(1)
}

func (m *MockTicketService) TicketsHeldBy(ctx context.Context, holder string) ([]service.TicketView, error) {
	args := m.Called(ctx, holder)
	return args.Get(0).([]service.TicketView), args.Error(1)
}

func (m *MockTicketService) CheckOptInStatus(ctx context.Context, address string, assetID domain.AssetID) (bool, error) {
	args := m.Called(ctx, address, assetID)
	return args.Bool(0), args.Error(1)
}

func (m *MockTicketService) BuildOptInRequest(ctx context.Context, address string, assetID domain.AssetID) (string, error) {
	args := m.Called(ctx, address, assetID)
	return args.String(0), args.Error(1)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func assetPtr(id domain.AssetID) *domain.AssetID { return &id }

func holderPtr(a domain.Address) *domain.Address { return &a }
