package monitor

import (
	"context"
	"fmt"

	"github.com/boxsignal/repricer/internal/adapter"
	"github.com/boxsignal/repricer/internal/model"
)

// BuyBoxMonitor is the polymorphic "check buy box status" capability.
type BuyBoxMonitor interface {
	CheckBuyBoxStatus(ctx context.Context, sku string) (*model.MonitoringResult, error)
}

// MonitorError shields callers from marketplace-specific error shapes. The
// cause stays reachable through Unwrap so the retry policy can still
// classify it.
type MonitorError struct {
	MarketplaceID string
	SKU           string
	Cause         error
}

func (e *MonitorError) Error() string {
	return fmt.Sprintf("buy box check failed on %s (sku %s): %v", e.MarketplaceID, e.SKU, e.Cause)
}

func (e *MonitorError) Unwrap() error {
	return e.Cause
}

// Factory resolves the monitor capability per marketplace, backed by the
// adapter factory's cached, authenticated clients.
type Factory struct {
	adapters *adapter.Factory
}

func NewFactory(adapters *adapter.Factory) *Factory {
	return &Factory{adapters: adapters}
}

// ForConnection resolves a monitor bound to the connection's marketplace and
// credentials. Fails with UnsupportedMarketplace for unknown ids and passes
// through the factory's AuthenticationError.
func (f *Factory) ForConnection(ctx context.Context, conn *model.MarketplaceConnection) (BuyBoxMonitor, error) {
	adp, err := f.adapters.GetAdapter(ctx, conn.MarketplaceID, conn.Credentials)
	if err != nil {
		return nil, err
	}
	return &adapterMonitor{adapter: adp}, nil
}

func (f *Factory) IsSupported(marketplaceID string) bool {
	return f.adapters.Registry().IsSupported(marketplaceID)
}

func (f *Factory) ListSupported() []string {
	return f.adapters.Registry().ListSupported()
}

type adapterMonitor struct {
	adapter adapter.MarketplaceAdapter
}

func (m *adapterMonitor) CheckBuyBoxStatus(ctx context.Context, sku string) (*model.MonitoringResult, error) {
	result, err := m.adapter.GetBuyBoxStatus(ctx, sku)
	if err != nil {
		return nil, &MonitorError{
			MarketplaceID: m.adapter.MarketplaceID(),
			SKU:           sku,
			Cause:         err,
		}
	}
	return result, nil
}
