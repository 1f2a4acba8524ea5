package adapter

import (
	"context"
	"strings"
	"sync"

	"github.com/boxsignal/repricer/internal/config"
	"github.com/boxsignal/repricer/internal/model"
	"github.com/boxsignal/repricer/internal/pkg/apperrors"
)

// MarketplaceAdapter is the capability contract a marketplace implementation
// must provide to plug in. The scheduler, rule engine and factory stay
// marketplace-agnostic; new marketplaces register a builder and nothing else
// changes.
type MarketplaceAdapter interface {
	// Initialize authenticates the adapter with the connection credentials.
	// Rejected credentials surface as an AUTH_FAILED AppError.
	Initialize(ctx context.Context, creds model.Credentials) error

	// GetBuyBoxStatus fetches the current offer situation for one sku.
	GetBuyBoxStatus(ctx context.Context, sku string) (*model.MonitoringResult, error)

	// UpdatePrice pushes a new price (minor units) for the sku.
	UpdatePrice(ctx context.Context, sku string, newPrice int64) error

	// MarketplaceID returns the concrete id the adapter was built for.
	MarketplaceID() string

	// Close releases adapter-held resources (streams, idle connections).
	Close()
}

// Builder constructs an unauthenticated adapter for a concrete marketplace
// id. The factory calls Initialize afterwards and only caches on success.
type Builder func(marketplaceID string, cfg config.MarketplaceConfig) MarketplaceAdapter

// Registry maps marketplace ids to builders. Single-variant marketplaces
// register under their exact id; families register once under the family
// name and resolve any "family_variant" id (amazon_us, amazon_eu, ... share
// the amazon implementation, parameterized by the regional endpoint).
type Registry struct {
	mu       sync.RWMutex
	exact    map[string]Builder
	families map[string]Builder
}

func NewRegistry() *Registry {
	return &Registry{
		exact:    make(map[string]Builder),
		families: make(map[string]Builder),
	}
}

func (r *Registry) Register(marketplaceID string, b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exact[marketplaceID] = b
}

func (r *Registry) RegisterFamily(family string, b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.families[family] = b
}

// Resolve returns the builder for a marketplace id. Exact matches win over
// family prefixes.
func (r *Registry) Resolve(marketplaceID string) (Builder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if b, ok := r.exact[marketplaceID]; ok {
		return b, nil
	}
	if family, _, ok := strings.Cut(marketplaceID, "_"); ok {
		if b, ok := r.families[family]; ok {
			return b, nil
		}
	}
	return nil, apperrors.NewUnsupportedMarketplace(marketplaceID)
}

func (r *Registry) IsSupported(marketplaceID string) bool {
	_, err := r.Resolve(marketplaceID)
	return err == nil
}

// ListSupported returns the registered ids: exact ids as-is, families with a
// wildcard suffix.
func (r *Registry) ListSupported() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.exact)+len(r.families))
	for id := range r.exact {
		ids = append(ids, id)
	}
	for family := range r.families {
		ids = append(ids, family+"_*")
	}
	return ids
}

// DefaultRegistry wires the marketplaces this build ships with.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterFamily("amazon", NewAmazonAdapter)
	r.Register("ebay", NewEbayAdapter)
	r.Register("mirakl", NewMiraklAdapter)
	return r
}
