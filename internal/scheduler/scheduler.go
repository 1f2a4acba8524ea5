package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/boxsignal/repricer/internal/adapter"
	"github.com/boxsignal/repricer/internal/config"
	"github.com/boxsignal/repricer/internal/credits"
	"github.com/boxsignal/repricer/internal/model"
	"github.com/boxsignal/repricer/internal/monitor"
	"github.com/boxsignal/repricer/internal/pkg/apperrors"
	"github.com/boxsignal/repricer/internal/pkg/logger"
	"github.com/boxsignal/repricer/internal/pkg/metrics"
	"github.com/google/uuid"
)

// ErrTickInProgress is returned when a fire overlaps the previous tick.
var ErrTickInProgress = errors.New("tick already running")

type ConnectionRepo interface {
	ListActive(ctx context.Context) ([]*model.MarketplaceConnection, error)
	UpdateStatus(ctx context.Context, id string, status model.ConnectionStatus) error
}

type ListingRepo interface {
	ListActive(ctx context.Context) ([]*model.TrackedListing, error)
	Update(ctx context.Context, l *model.TrackedListing) error
}

type RuleRepo interface {
	ListEnabled(ctx context.Context) ([]*model.RepricingRule, error)
}

type ActionRepo interface {
	Insert(ctx context.Context, action *model.RepricingAction) error
}

// Scheduler drives the recurring repricing tick: resolve connections, check
// buy box status, evaluate rules, push prices, meter credits, audit every
// listing. One scheduler never runs concurrently with itself; an
// overlapping fire is skipped and logged.
type Scheduler struct {
	cfg      config.SchedulerConfig
	costs    config.CreditsConfig
	adapters *adapter.Factory
	monitors *monitor.Factory
	ledger   credits.Ledger
	retry    RetryPolicy

	connections ConnectionRepo
	listings    ListingRepo
	rules       RuleRepo
	actions     ActionRepo

	running  atomic.Bool
	ticksRun atomic.Int64
	cancel   context.CancelFunc
	stopped  chan struct{}

	mu        sync.Mutex
	lastStats *model.TickStats
}

func New(
	cfg config.SchedulerConfig,
	costs config.CreditsConfig,
	adapters *adapter.Factory,
	monitors *monitor.Factory,
	ledger credits.Ledger,
	connections ConnectionRepo,
	listings ListingRepo,
	rules RuleRepo,
	actions ActionRepo,
) *Scheduler {
	return &Scheduler{
		cfg:         cfg,
		costs:       costs,
		adapters:    adapters,
		monitors:    monitors,
		ledger:      ledger,
		retry:       NewRetryPolicy(cfg.RetryAttempts, cfg.RetryBase()),
		connections: connections,
		listings:    listings,
		rules:       rules,
		actions:     actions,
	}
}

// Start launches the recurring trigger in a background goroutine.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.stopped = make(chan struct{})

	go func() {
		defer close(s.stopped)
		ticker := time.NewTicker(s.cfg.Interval())
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrTickInProgress) {
					logger.Error("tick failed", "error", err)
				}
			}
		}
	}()
	logger.Info("scheduler started", "interval", s.cfg.Interval().String(), "workers", s.workers())
}

// Stop cancels the trigger and waits for a running tick to wind down.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.stopped
	}
}

// LastStats returns the most recent tick summary.
func (s *Scheduler) LastStats() *model.TickStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastStats
}

// RunOnce executes a single tick. If a tick is still running the fire is
// skipped with ErrTickInProgress — the engine never runs concurrently with
// itself. Any panic is contained at the tick boundary so the next scheduled
// fire still happens.
func (s *Scheduler) RunOnce(ctx context.Context) (stats *model.TickStats, err error) {
	if !s.running.CompareAndSwap(false, true) {
		metrics.TicksTotal.WithLabelValues("skipped_overlap").Inc()
		logger.Warn("tick fired while previous tick still running, skipping")
		return nil, ErrTickInProgress
	}
	defer s.running.Store(false)

	defer func() {
		if r := recover(); r != nil {
			metrics.TicksTotal.WithLabelValues("failed").Inc()
			logger.Error("tick panicked", "panic", r)
			err = errors.New("tick panicked")
		}
	}()

	tickID := uuid.NewString()
	stats = &model.TickStats{
		TicksRun:  int(s.ticksRun.Add(1)),
		StartedAt: time.Now().UTC(),
		Errors:    []string{},
	}
	log := logger.With("tick", tickID)
	log.Info("tick started")

	conns, listings, ruleSet, loadErr := s.loadWorkingSet(ctx)
	if loadErr != nil {
		metrics.TicksTotal.WithLabelValues("failed").Inc()
		stats.FinishedAt = time.Now().UTC()
		s.storeStats(stats)
		return stats, loadErr
	}

	byConnection := groupListings(conns, listings)

	jobs := make(chan listingJob)
	var wg sync.WaitGroup
	var statsMu sync.Mutex

	for i := 0; i < s.workers(); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				listingCtx, cancel := context.WithTimeout(ctx, s.listingTimeout())
				action, repriced := s.safeRunListing(listingCtx, job)
				cancel()
				s.finishListing(ctx, job.listing, action)

				statsMu.Lock()
				stats.ListingsChecked++
				if repriced {
					stats.RepricesApplied++
				}
				if action.Outcome == model.OutcomeFailed {
					stats.Errors = append(stats.Errors, action.SKU+": "+action.Error)
				}
				statsMu.Unlock()
			}
		}()
	}

	for _, group := range byConnection {
		if ctx.Err() != nil {
			break
		}

		adp, adapterErr := s.adapters.GetAdapter(ctx, group.conn.MarketplaceID, group.conn.Credentials)
		if adapterErr != nil {
			// Authentication failure circuit-breaks the whole connection
			// for this tick, not just one listing.
			s.failConnection(ctx, group, adapterErr, stats, &statsMu)
			continue
		}

		mon, monErr := s.monitors.ForConnection(ctx, group.conn)
		if monErr != nil {
			s.failConnection(ctx, group, monErr, stats, &statsMu)
			continue
		}

		for _, listing := range group.listings {
			jobs <- listingJob{
				tickID:  tickID,
				listing: listing,
				adapter: adp,
				monitor: mon,
				rules:   ruleSet,
			}
		}
	}
	close(jobs)
	wg.Wait()

	stats.FinishedAt = time.Now().UTC()
	s.storeStats(stats)

	if len(stats.Errors) > 0 {
		metrics.TicksTotal.WithLabelValues("completed_with_errors").Inc()
	} else {
		metrics.TicksTotal.WithLabelValues("completed").Inc()
	}
	log.Info("tick finished",
		"listings_checked", stats.ListingsChecked,
		"reprices_applied", stats.RepricesApplied,
		"errors", len(stats.Errors),
		"elapsed", stats.FinishedAt.Sub(stats.StartedAt).String())
	return stats, nil
}

func (s *Scheduler) workers() int {
	if s.cfg.Workers <= 0 {
		return 8
	}
	return s.cfg.Workers
}

func (s *Scheduler) listingTimeout() time.Duration {
	if d := s.cfg.ListingTimeout(); d > 0 {
		return d
	}
	return 30 * time.Second
}

func (s *Scheduler) loadWorkingSet(ctx context.Context) ([]*model.MarketplaceConnection, []*model.TrackedListing, []*model.RepricingRule, error) {
	conns, err := s.connections.ListActive(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	listings, err := s.listings.ListActive(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	ruleSet, err := s.rules.ListEnabled(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	return conns, listings, ruleSet, nil
}

type connectionGroup struct {
	conn     *model.MarketplaceConnection
	listings []*model.TrackedListing
}

// groupListings pairs each listing with its connection. Listings without an
// active connection are silently excluded from the tick. One connection per
// (organization, marketplace) pair drives the tick; a duplicate active
// connection for the same pair is skipped entirely so it neither steals the
// listings nor burns an adapter initialization on an empty group.
func groupListings(conns []*model.MarketplaceConnection, listings []*model.TrackedListing) []*connectionGroup {
	index := make(map[string]*connectionGroup, len(conns))
	ordered := make([]*connectionGroup, 0, len(conns))
	for _, conn := range conns {
		key := conn.OrganizationID + "|" + conn.MarketplaceID
		if _, ok := index[key]; ok {
			logger.Warn("duplicate active connection for organization and marketplace, skipping",
				"connection", conn.ID, "organization", conn.OrganizationID, "marketplace", conn.MarketplaceID)
			continue
		}
		group := &connectionGroup{conn: conn}
		index[key] = group
		ordered = append(ordered, group)
	}
	for _, listing := range listings {
		if group, ok := index[listing.OrganizationID+"|"+listing.MarketplaceID]; ok {
			group.listings = append(group.listings, listing)
		}
	}
	return ordered
}

// failConnection records a skipped-auth-error action for every listing under
// a connection whose adapter could not be resolved, and marks the connection
// so later ticks leave it alone until credentials are re-entered.
func (s *Scheduler) failConnection(ctx context.Context, group *connectionGroup, cause error, stats *model.TickStats, statsMu *sync.Mutex) {
	outcome := model.OutcomeFailed
	if apperrors.IsType(cause, apperrors.ErrAuthFailed) {
		outcome = model.OutcomeAuthError
		if err := s.connections.UpdateStatus(ctx, group.conn.ID, model.ConnectionError); err != nil {
			logger.Error("failed to mark connection error", "connection", group.conn.ID, "error", err)
		}
		logger.Warn("connection circuit-broken for tick",
			"connection", group.conn.ID, "marketplace", group.conn.MarketplaceID, "error", cause.Error())
	}

	now := time.Now().UTC()
	for _, listing := range group.listings {
		action := &model.RepricingAction{
			ID:             uuid.NewString(),
			ListingID:      listing.ID,
			OrganizationID: listing.OrganizationID,
			SKU:            listing.SKU,
			MarketplaceID:  listing.MarketplaceID,
			OldPrice:       listing.CurrentPrice,
			NewPrice:       listing.CurrentPrice,
			Outcome:        outcome,
			Error:          cause.Error(),
			Timestamp:      now,
		}
		s.recordAction(ctx, action)

		statsMu.Lock()
		stats.Errors = append(stats.Errors, listing.SKU+": "+cause.Error())
		statsMu.Unlock()
	}
}

// finishListing persists the listing mutation and appends the audit record.
// Exactly one action is written per listing per tick.
func (s *Scheduler) finishListing(ctx context.Context, listing *model.TrackedListing, action *model.RepricingAction) {
	if listing.LastCheckedAt != nil {
		if err := s.listings.Update(ctx, listing); err != nil {
			logger.Error("failed to persist listing state", "listing", listing.ID, "error", err)
		}
	}
	s.recordAction(ctx, action)
}

func (s *Scheduler) recordAction(ctx context.Context, action *model.RepricingAction) {
	metrics.RepriceOutcomes.WithLabelValues(string(action.Outcome)).Inc()
	if err := s.actions.Insert(ctx, action); err != nil {
		logger.Error("failed to append repricing action", "listing", action.ListingID, "error", err)
	}
}

func (s *Scheduler) storeStats(stats *model.TickStats) {
	s.mu.Lock()
	s.lastStats = stats
	s.mu.Unlock()
}
