package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rl1809/ticket-ledger/internal/core/domain"
	"github.com/rl1809/ticket-ledger/internal/port"
)

const (
	fallbackNamespace = "fallback-asset"

	// FallbackAssetBase keeps synthesized ids far above anything a real
	// ledger hands out so the two ranges never collide.
	FallbackAssetBase domain.AssetID = 1 << 62
)

// MockFallbackGenerator synthesizes non-authoritative asset ids when the
// platform cannot sign. Ids come from a monotonic sequence, never at random.
type MockFallbackGenerator struct {
	sequence port.SequenceGenerator
	logger   *slog.Logger
}

func NewMockFallbackGenerator(sequence port.SequenceGenerator, logger *slog.Logger) *MockFallbackGenerator {
	return &MockFallbackGenerator{sequence: sequence, logger: logger}
}

func (g *MockFallbackGenerator) Next(ctx context.Context) (domain.AssetID, error) {
	n, err := g.sequence.Next(ctx, fallbackNamespace)
	if err != nil {
		return 0, fmt.Errorf("fallback sequence: %w", err)
	}
	id := FallbackAssetBase + domain.AssetID(n)
	g.logger.Warn("issued non-authoritative asset id", "asset_id", id)
	return id, nil
}

// IsFallbackAsset reports whether id lies in the synthesized range.
func IsFallbackAsset(id domain.AssetID) bool {
	return id >= FallbackAssetBase
}
