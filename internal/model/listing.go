package model

import "time"

// All prices are integer minor-currency units (cents) to avoid floating
// point drift in pricing math.

// TrackedListing is one sku on one marketplace that the engine monitors and
// reprices. Invariant: MinPrice <= CurrentPrice <= MaxPrice.
type TrackedListing struct {
	ID                  string     `json:"id" db:"id"`
	SKU                 string     `json:"sku" db:"sku"`
	MarketplaceID       string     `json:"marketplace_id" db:"marketplace_id"`
	OrganizationID      string     `json:"organization_id" db:"organization_id"`
	Category            string     `json:"category" db:"category"`
	CurrentPrice        int64      `json:"current_price" db:"current_price"`
	MinPrice            int64      `json:"min_price" db:"min_price"`
	MaxPrice            int64      `json:"max_price" db:"max_price"`
	TargetMarginPercent float64    `json:"target_margin_percent" db:"target_margin_percent"`
	CostPrice           int64      `json:"cost_price" db:"cost_price"`
	BuyBoxOwned         bool       `json:"buy_box_owned" db:"buy_box_owned"`
	LastCheckedAt       *time.Time `json:"last_checked_at" db:"last_checked_at"`
	LastRepricedAt      *time.Time `json:"last_repriced_at" db:"last_repriced_at"`
}

type RuleScope string

const (
	ScopeSKU      RuleScope = "sku"
	ScopeCategory RuleScope = "category"
	ScopeGlobal   RuleScope = "global"
)

// Specificity ranks scopes for rule selection; a more specific scope always
// beats a less specific one regardless of declared priority.
func (s RuleScope) Specificity() int {
	switch s {
	case ScopeSKU:
		return 3
	case ScopeCategory:
		return 2
	case ScopeGlobal:
		return 1
	default:
		return 0
	}
}

type Strategy string

const (
	MatchLowest    Strategy = "MATCH_LOWEST"
	BeatByAmount   Strategy = "BEAT_BY_AMOUNT"
	MaintainMargin Strategy = "MAINTAIN_MARGIN"
)

// RuleParameters carries the strategy knobs. Only the fields relevant to the
// rule's strategy are read.
type RuleParameters struct {
	// BeatBy is the amount (minor units) subtracted from the competitor's
	// buy box price under BEAT_BY_AMOUNT.
	BeatBy int64 `json:"beat_by"`
}

type RepricingRule struct {
	ID             string         `json:"id" db:"id"`
	OrganizationID string         `json:"organization_id" db:"organization_id"`
	Scope          RuleScope      `json:"scope" db:"scope"`
	SKU            string         `json:"sku,omitempty" db:"sku"`
	Category       string         `json:"category,omitempty" db:"category"`
	Strategy       Strategy       `json:"strategy" db:"strategy"`
	Parameters     RuleParameters `json:"parameters" db:"-"`
	Priority       int            `json:"priority" db:"priority"`
	Enabled        bool           `json:"enabled" db:"enabled"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
}

// Matches reports whether the rule's scope covers the listing.
func (r *RepricingRule) Matches(l *TrackedListing) bool {
	if !r.Enabled || r.OrganizationID != l.OrganizationID {
		return false
	}
	switch r.Scope {
	case ScopeSKU:
		return r.SKU == l.SKU
	case ScopeCategory:
		return r.Category != "" && r.Category == l.Category
	case ScopeGlobal:
		return true
	default:
		return false
	}
}
