package repository

import (
	"context"
	"sync"
	"time"

	"github.com/boxsignal/repricer/internal/model"
)

// In-memory stores used when no database is configured and by tests. Same
// contracts as the postgres repos.

type MemoryConnectionRepo struct {
	mu    sync.RWMutex
	conns map[string]*model.MarketplaceConnection
}

func NewMemoryConnectionRepo() *MemoryConnectionRepo {
	return &MemoryConnectionRepo{conns: make(map[string]*model.MarketplaceConnection)}
}

func (r *MemoryConnectionRepo) Put(conn *model.MarketplaceConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.ID] = conn
}

func (r *MemoryConnectionRepo) ListActive(ctx context.Context) ([]*model.MarketplaceConnection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*model.MarketplaceConnection{}
	for _, conn := range r.conns {
		if conn.Status == model.ConnectionActive {
			copied := *conn
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *MemoryConnectionRepo) UpdateStatus(ctx context.Context, id string, status model.ConnectionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[id]; ok {
		conn.Status = status
		if status == model.ConnectionActive {
			conn.LastVerifiedAt = time.Now().UTC()
		}
	}
	return nil
}

func (r *MemoryConnectionRepo) Status(id string) (model.ConnectionStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	if !ok {
		return "", false
	}
	return conn.Status, true
}

type MemoryListingRepo struct {
	mu       sync.RWMutex
	listings map[string]*model.TrackedListing
}

func NewMemoryListingRepo() *MemoryListingRepo {
	return &MemoryListingRepo{listings: make(map[string]*model.TrackedListing)}
}

func (r *MemoryListingRepo) Put(l *model.TrackedListing) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listings[l.ID] = l
}

func (r *MemoryListingRepo) Get(id string) (*model.TrackedListing, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.listings[id]
	if !ok {
		return nil, false
	}
	copied := *l
	return &copied, true
}

func (r *MemoryListingRepo) ListActive(ctx context.Context) ([]*model.TrackedListing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*model.TrackedListing{}
	for _, l := range r.listings {
		copied := *l
		out = append(out, &copied)
	}
	return out, nil
}

func (r *MemoryListingRepo) Update(ctx context.Context, l *model.TrackedListing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.listings[l.ID]; ok {
		existing.CurrentPrice = l.CurrentPrice
		existing.BuyBoxOwned = l.BuyBoxOwned
		existing.LastCheckedAt = l.LastCheckedAt
		existing.LastRepricedAt = l.LastRepricedAt
	}
	return nil
}

type MemoryRuleRepo struct {
	mu    sync.RWMutex
	rules []*model.RepricingRule
}

func NewMemoryRuleRepo() *MemoryRuleRepo {
	return &MemoryRuleRepo{}
}

func (r *MemoryRuleRepo) Put(rule *model.RepricingRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule)
}

func (r *MemoryRuleRepo) ListEnabled(ctx context.Context) ([]*model.RepricingRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*model.RepricingRule{}
	for _, rule := range r.rules {
		if rule.Enabled {
			out = append(out, rule)
		}
	}
	return out, nil
}

type MemoryActionRepo struct {
	mu      sync.RWMutex
	actions []*model.RepricingAction
}

func NewMemoryActionRepo() *MemoryActionRepo {
	return &MemoryActionRepo{}
}

func (r *MemoryActionRepo) Insert(ctx context.Context, action *model.RepricingAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *action
	r.actions = append(r.actions, &copied)
	return nil
}

func (r *MemoryActionRepo) List(ctx context.Context, orgID string, limit int, from, to *time.Time) ([]*model.RepricingAction, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*model.RepricingAction{}
	for i := len(r.actions) - 1; i >= 0 && len(out) < limit; i-- {
		action := r.actions[i]
		if orgID != "" && action.OrganizationID != orgID {
			continue
		}
		if from != nil && action.Timestamp.Before(*from) {
			continue
		}
		if to != nil && action.Timestamp.After(*to) {
			continue
		}
		copied := *action
		out = append(out, &copied)
	}
	return out, nil
}

// All returns every recorded action in insertion order (test helper).
func (r *MemoryActionRepo) All() []*model.RepricingAction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.RepricingAction, len(r.actions))
	copy(out, r.actions)
	return out
}
