package adapter

import (
	"context"
	"strings"
	"sync"

	"github.com/boxsignal/repricer/internal/config"
	"github.com/boxsignal/repricer/internal/model"
	"github.com/boxsignal/repricer/internal/pkg/logger"
)

// Factory builds and caches one authenticated adapter per
// (marketplaceID, credential-fingerprint) pair. Adapters are shared across
// concurrent pipelines, so implementations must tolerate concurrent use.
//
// The cache is insert-if-absent: concurrent GetAdapter calls for the same
// key trigger at most one Initialize, with the other callers awaiting that
// result. A failed Initialize never populates the cache.
type Factory struct {
	registry *Registry
	configs  map[string]config.MarketplaceConfig

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	ready   chan struct{}
	adapter MarketplaceAdapter
	err     error
}

func NewFactory(registry *Registry, configs map[string]config.MarketplaceConfig) *Factory {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Factory{
		registry: registry,
		configs:  configs,
		entries:  make(map[string]*cacheEntry),
	}
}

func (f *Factory) Registry() *Registry {
	return f.registry
}

// GetAdapter returns a ready adapter for the marketplace and credentials,
// reusing a cached instance when one exists.
func (f *Factory) GetAdapter(ctx context.Context, marketplaceID string, creds model.Credentials) (MarketplaceAdapter, error) {
	builder, err := f.registry.Resolve(marketplaceID)
	if err != nil {
		return nil, err
	}

	key := cacheKey(marketplaceID, creds)

	f.mu.Lock()
	if entry, ok := f.entries[key]; ok {
		f.mu.Unlock()
		select {
		case <-entry.ready:
			return entry.adapter, entry.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	entry := &cacheEntry{ready: make(chan struct{})}
	f.entries[key] = entry
	f.mu.Unlock()

	adp := builder(marketplaceID, f.configs[marketplaceID])
	initErr := adp.Initialize(ctx, creds)
	if initErr != nil {
		entry.err = initErr
		// Never cache a failed initialize; the next call gets a fresh try.
		f.mu.Lock()
		delete(f.entries, key)
		f.mu.Unlock()
		close(entry.ready)
		adp.Close()
		return nil, initErr
	}

	entry.adapter = adp
	close(entry.ready)
	logger.Debug("adapter initialized", "marketplace", marketplaceID)
	return adp, nil
}

// ClearAdapterInstances evicts the cached adapters for one marketplace, or
// all of them when marketplaceID is empty. Used on credential rotation and
// test reset. In-flight initializations are left alone; their entries are
// re-evaluated on the next eviction.
func (f *Factory) ClearAdapterInstances(marketplaceID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for key, entry := range f.entries {
		if marketplaceID != "" && !strings.HasPrefix(key, marketplaceID+":") {
			continue
		}
		select {
		case <-entry.ready:
			if entry.adapter != nil {
				entry.adapter.Close()
			}
			delete(f.entries, key)
		default:
			// still initializing
		}
	}
}

// CachedCount reports the number of ready cache entries.
func (f *Factory) CachedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, entry := range f.entries {
		select {
		case <-entry.ready:
			if entry.err == nil {
				n++
			}
		default:
		}
	}
	return n
}

func cacheKey(marketplaceID string, creds model.Credentials) string {
	return marketplaceID + ":" + creds.Fingerprint()
}
