package service

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/rl1809/ticket-ledger/internal/core/domain"
	"github.com/rl1809/ticket-ledger/internal/port"
)

// OptInService answers opt-in questions for buyers. It never touches the
// ownership ledger.
type OptInService struct {
	client port.AssetLedgerClient
}

func NewOptInService(client port.AssetLedgerClient) *OptInService {
	return &OptInService{client: client}
}

// CheckOptInStatus reports whether address holds a slot for assetID, with
// any balance.
func (s *OptInService) CheckOptInStatus(ctx context.Context, address string, assetID domain.AssetID) (bool, error) {
	addr, err := domain.ParseAddress(address)
	if err != nil {
		return false, err
	}
	if assetID == 0 {
		return false, domain.ErrAssetNotFound
	}
	holdings, err := s.client.AccountHoldings(ctx, addr)
	if err != nil {
		return false, fmt.Errorf("query holdings: %w", err)
	}
	_, ok := domain.HoldsAsset(holdings, assetID)
	return ok, nil
}

// BuildOptInRequest returns the base64 unsigned opt-in transaction the
// buyer's wallet signs and submits itself.
func (s *OptInService) BuildOptInRequest(ctx context.Context, address string, assetID domain.AssetID) (string, error) {
	addr, err := domain.ParseAddress(address)
	if err != nil {
		return "", err
	}
	if assetID == 0 || IsFallbackAsset(assetID) {
		return "", domain.ErrAssetNotFound
	}
	blob, err := s.client.BuildOptIn(ctx, addr, assetID)
	if err != nil {
		return "", fmt.Errorf("build opt-in: %w", err)
	}
	return base64.StdEncoding.EncodeToString(blob), nil
}
