package adapter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boxsignal/repricer/internal/config"
	"github.com/boxsignal/repricer/internal/model"
	"github.com/boxsignal/repricer/internal/pkg/apperrors"
)

type fakeAdapter struct {
	id        string
	initCalls *atomic.Int64
	initErr   error
	initDelay time.Duration
	closed    atomic.Bool
}

func (f *fakeAdapter) Initialize(ctx context.Context, creds model.Credentials) error {
	f.initCalls.Add(1)
	if f.initDelay > 0 {
		time.Sleep(f.initDelay)
	}
	return f.initErr
}

func (f *fakeAdapter) GetBuyBoxStatus(ctx context.Context, sku string) (*model.MonitoringResult, error) {
	return &model.MonitoringResult{SKU: sku, MarketplaceID: f.id}, nil
}

func (f *fakeAdapter) UpdatePrice(ctx context.Context, sku string, newPrice int64) error { return nil }
func (f *fakeAdapter) MarketplaceID() string                                             { return f.id }
func (f *fakeAdapter) Close()                                                            { f.closed.Store(true) }

func fakeRegistry(initCalls *atomic.Int64, initErr error, delay time.Duration) *Registry {
	r := NewRegistry()
	r.RegisterFamily("amazon", func(id string, cfg config.MarketplaceConfig) MarketplaceAdapter {
		return &fakeAdapter{id: id, initCalls: initCalls, initErr: initErr, initDelay: delay}
	})
	r.Register("ebay", func(id string, cfg config.MarketplaceConfig) MarketplaceAdapter {
		return &fakeAdapter{id: id, initCalls: initCalls, initErr: initErr, initDelay: delay}
	})
	return r
}

func TestGetAdapterInitializesOnceUnderConcurrency(t *testing.T) {
	var initCalls atomic.Int64
	f := NewFactory(fakeRegistry(&initCalls, nil, 10*time.Millisecond), nil)
	creds := model.Credentials{"client_id": "a", "client_secret": "b"}

	const callers = 32
	adapters := make([]MarketplaceAdapter, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			adp, err := f.GetAdapter(context.Background(), "amazon_us", creds)
			if err != nil {
				t.Errorf("caller %d: %v", i, err)
				return
			}
			adapters[i] = adp
		}(i)
	}
	wg.Wait()

	if got := initCalls.Load(); got != 1 {
		t.Fatalf("expected exactly 1 Initialize across %d concurrent callers, got %d", callers, got)
	}
	for i := 1; i < callers; i++ {
		if adapters[i] != adapters[0] {
			t.Fatalf("caller %d received a different instance", i)
		}
	}
	if f.CachedCount() != 1 {
		t.Errorf("expected 1 cached adapter, got %d", f.CachedCount())
	}
}

func TestGetAdapterDistinctCredentialsDistinctInstances(t *testing.T) {
	var initCalls atomic.Int64
	f := NewFactory(fakeRegistry(&initCalls, nil, 0), nil)

	a, err := f.GetAdapter(context.Background(), "amazon_us", model.Credentials{"client_id": "a"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := f.GetAdapter(context.Background(), "amazon_us", model.Credentials{"client_id": "b"})
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("different credentials must not share an adapter instance")
	}
	if got := initCalls.Load(); got != 2 {
		t.Errorf("expected 2 initializations, got %d", got)
	}
}

func TestGetAdapterFailedInitializeNotCached(t *testing.T) {
	var initCalls atomic.Int64
	f := NewFactory(fakeRegistry(&initCalls, apperrors.NewAuthFailed("bad credentials", nil), 0), nil)
	creds := model.Credentials{"client_id": "a"}

	for i := 0; i < 3; i++ {
		if _, err := f.GetAdapter(context.Background(), "amazon_us", creds); err == nil {
			t.Fatal("expected initialize failure")
		} else if !apperrors.IsType(err, apperrors.ErrAuthFailed) {
			t.Fatalf("expected AUTH_FAILED, got %v", err)
		}
	}

	// Each call must have retried a fresh initialize.
	if got := initCalls.Load(); got != 3 {
		t.Errorf("expected 3 initialize attempts, got %d", got)
	}
	if f.CachedCount() != 0 {
		t.Errorf("failed adapters must never be cached, got %d", f.CachedCount())
	}
}

func TestGetAdapterUnsupportedMarketplace(t *testing.T) {
	var initCalls atomic.Int64
	f := NewFactory(fakeRegistry(&initCalls, nil, 0), nil)

	_, err := f.GetAdapter(context.Background(), "walmart", model.Credentials{"k": "v"})
	if !apperrors.IsType(err, apperrors.ErrUnsupportedMarketplace) {
		t.Fatalf("expected UNSUPPORTED_MARKETPLACE, got %v", err)
	}
	if initCalls.Load() != 0 {
		t.Error("unsupported marketplace must not construct an adapter")
	}
}

func TestClearAdapterInstances(t *testing.T) {
	var initCalls atomic.Int64
	f := NewFactory(fakeRegistry(&initCalls, nil, 0), nil)

	amazon, _ := f.GetAdapter(context.Background(), "amazon_us", model.Credentials{"k": "v"})
	if _, err := f.GetAdapter(context.Background(), "ebay", model.Credentials{"k": "v"}); err != nil {
		t.Fatal(err)
	}
	if f.CachedCount() != 2 {
		t.Fatalf("expected 2 cached adapters, got %d", f.CachedCount())
	}

	f.ClearAdapterInstances("amazon_us")
	if f.CachedCount() != 1 {
		t.Fatalf("expected ebay to survive amazon eviction, got %d cached", f.CachedCount())
	}
	if !amazon.(*fakeAdapter).closed.Load() {
		t.Error("evicted adapter must be closed")
	}

	// A fresh request re-initializes.
	before := initCalls.Load()
	if _, err := f.GetAdapter(context.Background(), "amazon_us", model.Credentials{"k": "v"}); err != nil {
		t.Fatal(err)
	}
	if initCalls.Load() != before+1 {
		t.Error("expected re-initialization after eviction")
	}

	f.ClearAdapterInstances("")
	if f.CachedCount() != 0 {
		t.Errorf("expected empty cache after full clear, got %d", f.CachedCount())
	}
}

func TestRegistryFamilyResolution(t *testing.T) {
	r := DefaultRegistry()

	for _, id := range []string{"amazon_us", "amazon_eu", "amazon_fe", "ebay", "mirakl"} {
		if !r.IsSupported(id) {
			t.Errorf("expected %s to be supported", id)
		}
	}
	for _, id := range []string{"walmart", "amazon", "shopify_us"} {
		if r.IsSupported(id) {
			t.Errorf("expected %s to be unsupported", id)
		}
	}
}
