package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/boxsignal/repricer/internal/adapter"
	"github.com/boxsignal/repricer/internal/config"
	"github.com/boxsignal/repricer/internal/credits"
	"github.com/boxsignal/repricer/internal/model"
	"github.com/boxsignal/repricer/internal/monitor"
	"github.com/boxsignal/repricer/internal/pkg/apperrors"
	"github.com/boxsignal/repricer/internal/repository"
)

// scriptedAdapter serves canned buy box results and scripted update errors.
type scriptedAdapter struct {
	id string

	mu         sync.Mutex
	results    map[string]*model.MonitoringResult
	initErr    error
	updateErr  error
	updated    map[string]int64
	gate       chan struct{}
	checkPanic bool
	nilResult  bool
}

func (a *scriptedAdapter) Initialize(ctx context.Context, creds model.Credentials) error {
	return a.initErr
}

func (a *scriptedAdapter) GetBuyBoxStatus(ctx context.Context, sku string) (*model.MonitoringResult, error) {
	if a.gate != nil {
		select {
		case <-a.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.checkPanic {
		panic("adapter contract violated")
	}
	if a.nilResult {
		return nil, nil
	}
	if res, ok := a.results[sku]; ok {
		copied := *res
		return &copied, nil
	}
	return &model.MonitoringResult{SKU: sku, MarketplaceID: a.id, CheckedAt: time.Now()}, nil
}

func (a *scriptedAdapter) UpdatePrice(ctx context.Context, sku string, newPrice int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.updateErr != nil {
		return a.updateErr
	}
	if a.updated == nil {
		a.updated = make(map[string]int64)
	}
	a.updated[sku] = newPrice
	return nil
}

func (a *scriptedAdapter) MarketplaceID() string { return a.id }
func (a *scriptedAdapter) Close()                {}

type fixture struct {
	sched   *Scheduler
	adapter *scriptedAdapter
	conns   *repository.MemoryConnectionRepo
	list    *repository.MemoryListingRepo
	rules   *repository.MemoryRuleRepo
	actions *repository.MemoryActionRepo
	ledger  *credits.MemoryLedger
}

func newFixture(t *testing.T, adp *scriptedAdapter) *fixture {
	t.Helper()

	registry := adapter.NewRegistry()
	registry.RegisterFamily("amazon", func(id string, cfg config.MarketplaceConfig) adapter.MarketplaceAdapter {
		return adp
	})
	adapters := adapter.NewFactory(registry, nil)

	f := &fixture{
		adapter: adp,
		conns:   repository.NewMemoryConnectionRepo(),
		list:    repository.NewMemoryListingRepo(),
		rules:   repository.NewMemoryRuleRepo(),
		actions: repository.NewMemoryActionRepo(),
		ledger:  credits.NewMemoryLedger(),
	}

	cfg := config.SchedulerConfig{
		IntervalSeconds:  300,
		Workers:          4,
		ListingTimeoutMs: 5000,
		RetryAttempts:    1,
		RetryBaseMs:      1,
	}
	costs := config.CreditsConfig{MonitorCost: 1, RepriceCost: 5}

	f.sched = New(cfg, costs, adapters, monitor.NewFactory(adapters), f.ledger,
		f.conns, f.list, f.rules, f.actions)
	return f
}

func (f *fixture) seed(t *testing.T, listings int) {
	t.Helper()
	f.conns.Put(&model.MarketplaceConnection{
		ID:             "conn1",
		OrganizationID: "org1",
		MarketplaceID:  "amazon_us",
		Credentials:    model.Credentials{"client_id": "a", "client_secret": "b"},
		Status:         model.ConnectionActive,
	})
	for i := 0; i < listings; i++ {
		id := string(rune('a' + i))
		f.list.Put(&model.TrackedListing{
			ID:             "listing-" + id,
			SKU:            "SKU-" + id,
			MarketplaceID:  "amazon_us",
			OrganizationID: "org1",
			CurrentPrice:   2599,
			MinPrice:       2200,
			MaxPrice:       3000,
		})
	}
	f.rules.Put(&model.RepricingRule{
		ID:             "rule1",
		OrganizationID: "org1",
		Scope:          model.ScopeGlobal,
		Strategy:       model.MatchLowest,
		Priority:       1,
		Enabled:        true,
		CreatedAt:      time.Now(),
	})
}

func TestRunOnceRepricesListing(t *testing.T) {
	adp := &scriptedAdapter{
		id: "amazon_us",
		results: map[string]*model.MonitoringResult{
			"SKU-a": {
				SKU:              "SKU-a",
				BuyBoxOwned:      false,
				BuyBoxPrice:      2450,
				CompetitorPrices: []int64{2450, 2700},
			},
		},
	}
	f := newFixture(t, adp)
	f.seed(t, 1)
	f.ledger.Credit(context.Background(), "org1", 100)

	stats, err := f.sched.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.ListingsChecked != 1 || stats.RepricesApplied != 1 {
		t.Fatalf("expected 1 checked / 1 repriced, got %+v", stats)
	}

	actions := f.actions.All()
	if len(actions) != 1 {
		t.Fatalf("expected exactly one action, got %d", len(actions))
	}
	act := actions[0]
	if act.Outcome != model.OutcomeSuccess {
		t.Fatalf("expected success, got %s (%s)", act.Outcome, act.Error)
	}
	if act.OldPrice != 2599 || act.NewPrice != 2449 {
		t.Errorf("expected 2599 -> 2449, got %d -> %d", act.OldPrice, act.NewPrice)
	}
	if act.RuleApplied != "rule1" {
		t.Errorf("expected rule1 applied, got %q", act.RuleApplied)
	}
	if act.CreditsCharged != 6 {
		t.Errorf("expected monitor+reprice charge of 6, got %d", act.CreditsCharged)
	}

	if price := adp.updated["SKU-a"]; price != 2449 {
		t.Errorf("expected marketplace updated to 2449, got %d", price)
	}
	listing, _ := f.list.Get("listing-a")
	if listing.CurrentPrice != 2449 {
		t.Errorf("expected persisted price 2449, got %d", listing.CurrentPrice)
	}
	if listing.LastCheckedAt == nil || listing.LastRepricedAt == nil {
		t.Error("expected check and reprice timestamps persisted")
	}

	if balance, _ := f.ledger.Balance(context.Background(), "org1"); balance != 94 {
		t.Errorf("expected balance 94 after charges, got %d", balance)
	}
}

func TestRunOnceOverlapSkipped(t *testing.T) {
	adp := &scriptedAdapter{id: "amazon_us", gate: make(chan struct{})}
	f := newFixture(t, adp)
	f.seed(t, 1)
	f.ledger.Credit(context.Background(), "org1", 100)

	done := make(chan error, 1)
	go func() {
		_, err := f.sched.RunOnce(context.Background())
		done <- err
	}()

	// Wait until the first tick is inside the adapter call.
	deadline := time.After(2 * time.Second)
	for !f.sched.running.Load() {
		select {
		case <-deadline:
			t.Fatal("first tick never started")
		case <-time.After(time.Millisecond):
		}
	}

	if _, err := f.sched.RunOnce(context.Background()); !errors.Is(err, ErrTickInProgress) {
		t.Fatalf("expected ErrTickInProgress, got %v", err)
	}

	close(adp.gate)
	if err := <-done; err != nil {
		t.Fatalf("first tick failed: %v", err)
	}

	// A later tick runs normally again.
	if _, err := f.sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("expected tick to run after overlap cleared, got %v", err)
	}
}

func TestAuthFailureCircuitBreaksConnection(t *testing.T) {
	adp := &scriptedAdapter{
		id:      "amazon_us",
		initErr: apperrors.NewAuthFailed("refresh token revoked", nil),
	}
	f := newFixture(t, adp)
	f.seed(t, 3)
	f.ledger.Credit(context.Background(), "org1", 100)

	stats, err := f.sched.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(stats.Errors) != 3 {
		t.Fatalf("expected 3 listing errors, got %d", len(stats.Errors))
	}

	actions := f.actions.All()
	if len(actions) != 3 {
		t.Fatalf("expected one action per listing, got %d", len(actions))
	}
	for _, act := range actions {
		if act.Outcome != model.OutcomeAuthError {
			t.Errorf("listing %s: expected skipped-auth-error, got %s", act.ListingID, act.Outcome)
		}
		if act.CreditsCharged != 0 {
			t.Errorf("listing %s: auth failure must not charge credits, charged %d", act.ListingID, act.CreditsCharged)
		}
		if act.NewPrice != act.OldPrice {
			t.Errorf("listing %s: auth failure must not change price", act.ListingID)
		}
	}

	if status, _ := f.conns.Status("conn1"); status != model.ConnectionError {
		t.Errorf("expected connection marked error, got %s", status)
	}
	if balance, _ := f.ledger.Balance(context.Background(), "org1"); balance != 100 {
		t.Errorf("expected untouched balance, got %d", balance)
	}
}

func TestFailedUpdateChargesOnlyMonitorCost(t *testing.T) {
	adp := &scriptedAdapter{
		id: "amazon_us",
		results: map[string]*model.MonitoringResult{
			"SKU-a": {
				SKU:              "SKU-a",
				BuyBoxOwned:      false,
				BuyBoxPrice:      2450,
				CompetitorPrices: []int64{2450},
			},
		},
		updateErr: apperrors.New(apperrors.ErrPermanentUpstream, "listing archived upstream", nil),
	}
	f := newFixture(t, adp)
	f.seed(t, 1)
	f.ledger.Credit(context.Background(), "org1", 100)

	if _, err := f.sched.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	actions := f.actions.All()
	if len(actions) != 1 {
		t.Fatalf("expected one action, got %d", len(actions))
	}
	act := actions[0]
	if act.Outcome != model.OutcomeFailed {
		t.Fatalf("expected failed outcome, got %s", act.Outcome)
	}
	if act.CreditsCharged != 1 {
		t.Errorf("failed update must cost exactly the monitoring charge, got %d", act.CreditsCharged)
	}
	if act.NewPrice != act.OldPrice {
		t.Errorf("failed update must not record a price change, got %d -> %d", act.OldPrice, act.NewPrice)
	}

	listing, _ := f.list.Get("listing-a")
	if listing.CurrentPrice != 2599 {
		t.Errorf("failed update must leave the stored price, got %d", listing.CurrentPrice)
	}
	if listing.LastRepricedAt != nil {
		t.Error("failed update must not stamp LastRepricedAt")
	}
	if balance, _ := f.ledger.Balance(context.Background(), "org1"); balance != 99 {
		t.Errorf("expected balance 99 (monitor cost only), got %d", balance)
	}
}

func TestInsufficientCreditsSkipsListing(t *testing.T) {
	adp := &scriptedAdapter{id: "amazon_us"}
	f := newFixture(t, adp)
	f.seed(t, 1)
	// No credit top-up: balance is zero.

	if _, err := f.sched.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	actions := f.actions.All()
	if len(actions) != 1 {
		t.Fatalf("expected one action, got %d", len(actions))
	}
	act := actions[0]
	if act.Outcome != model.OutcomeInsufficientCredits {
		t.Fatalf("expected skipped-insufficient-credits, got %s", act.Outcome)
	}
	if act.CreditsCharged != 0 {
		t.Errorf("skipped listing must not be charged, got %d", act.CreditsCharged)
	}
	if len(adp.updated) != 0 {
		t.Error("skipped listing must not touch the marketplace")
	}
}

func TestNoMatchingRuleIsNoAction(t *testing.T) {
	adp := &scriptedAdapter{
		id: "amazon_us",
		results: map[string]*model.MonitoringResult{
			"SKU-a": {
				SKU:              "SKU-a",
				BuyBoxPrice:      2450,
				CompetitorPrices: []int64{2450},
			},
		},
	}
	f := newFixture(t, adp)
	f.conns.Put(&model.MarketplaceConnection{
		ID:             "conn1",
		OrganizationID: "org1",
		MarketplaceID:  "amazon_us",
		Credentials:    model.Credentials{"client_id": "a"},
		Status:         model.ConnectionActive,
	})
	f.list.Put(&model.TrackedListing{
		ID:             "listing-a",
		SKU:            "SKU-a",
		MarketplaceID:  "amazon_us",
		OrganizationID: "org1",
		CurrentPrice:   2599,
		MinPrice:       2200,
		MaxPrice:       3000,
	})
	f.ledger.Credit(context.Background(), "org1", 100)

	if _, err := f.sched.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	actions := f.actions.All()
	if len(actions) != 1 || actions[0].Outcome != model.OutcomeNoAction {
		t.Fatalf("expected single no-action record, got %+v", actions)
	}
	// Monitoring still happened and still costs.
	if actions[0].CreditsCharged != 1 {
		t.Errorf("expected monitor charge of 1, got %d", actions[0].CreditsCharged)
	}
	if balance, _ := f.ledger.Balance(context.Background(), "org1"); balance != 99 {
		t.Errorf("expected balance 99, got %d", balance)
	}
}

func TestWorkerPanicContainedToListing(t *testing.T) {
	adp := &scriptedAdapter{id: "amazon_us", checkPanic: true}
	f := newFixture(t, adp)
	f.seed(t, 2)
	f.ledger.Credit(context.Background(), "org1", 100)

	stats, err := f.sched.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("a panicking adapter must not fail the tick: %v", err)
	}
	if len(stats.Errors) != 2 {
		t.Fatalf("expected both listings reported as errors, got %d", len(stats.Errors))
	}

	actions := f.actions.All()
	if len(actions) != 2 {
		t.Fatalf("expected one action per listing, got %d", len(actions))
	}
	for _, act := range actions {
		if act.Outcome != model.OutcomeFailed {
			t.Errorf("listing %s: expected failed outcome, got %s", act.ListingID, act.Outcome)
		}
		if act.CreditsCharged != 0 {
			t.Errorf("listing %s: panicked pipeline must not charge, got %d", act.ListingID, act.CreditsCharged)
		}
		if act.NewPrice != act.OldPrice {
			t.Errorf("listing %s: panicked pipeline must not record a price change", act.ListingID)
		}
	}

	// The scheduler stays live for the next fire.
	adp.mu.Lock()
	adp.checkPanic = false
	adp.mu.Unlock()
	if _, err := f.sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("expected a clean tick after the panic, got %v", err)
	}
}

func TestNilMonitorResultIsFailedAction(t *testing.T) {
	adp := &scriptedAdapter{id: "amazon_us", nilResult: true}
	f := newFixture(t, adp)
	f.seed(t, 1)
	f.ledger.Credit(context.Background(), "org1", 100)

	if _, err := f.sched.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	actions := f.actions.All()
	if len(actions) != 1 {
		t.Fatalf("expected one action, got %d", len(actions))
	}
	if actions[0].Outcome != model.OutcomeFailed {
		t.Fatalf("expected failed outcome for a nil monitor result, got %s", actions[0].Outcome)
	}
	if actions[0].CreditsCharged != 0 {
		t.Errorf("nil monitor result must not charge, got %d", actions[0].CreditsCharged)
	}
	if balance, _ := f.ledger.Balance(context.Background(), "org1"); balance != 100 {
		t.Errorf("expected untouched balance, got %d", balance)
	}
}

func TestGroupListingsSkipsDuplicateConnection(t *testing.T) {
	conns := []*model.MarketplaceConnection{
		{ID: "conn1", OrganizationID: "org1", MarketplaceID: "amazon_us", Status: model.ConnectionActive},
		{ID: "conn2", OrganizationID: "org1", MarketplaceID: "amazon_us", Status: model.ConnectionActive},
	}
	listings := []*model.TrackedListing{
		{ID: "l1", OrganizationID: "org1", MarketplaceID: "amazon_us"},
		{ID: "l2", OrganizationID: "org1", MarketplaceID: "amazon_us"},
	}

	groups := groupListings(conns, listings)
	if len(groups) != 1 {
		t.Fatalf("expected one group per (org, marketplace) pair, got %d", len(groups))
	}
	if groups[0].conn.ID != "conn1" {
		t.Errorf("expected the first connection to drive the tick, got %s", groups[0].conn.ID)
	}
	if len(groups[0].listings) != 2 {
		t.Errorf("expected both listings on the surviving group, got %d", len(groups[0].listings))
	}
}

func TestStartStopTicker(t *testing.T) {
	adp := &scriptedAdapter{id: "amazon_us"}
	f := newFixture(t, adp)

	f.sched.Start()
	f.sched.Stop()

	// Stop must be idempotent with respect to in-flight state.
	if f.sched.running.Load() {
		t.Error("no tick should be running after Stop")
	}
}
