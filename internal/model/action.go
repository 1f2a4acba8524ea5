package model

import "time"

// MonitoringResult is the ephemeral output of one buy box check.
type MonitoringResult struct {
	SKU              string        `json:"sku"`
	MarketplaceID    string        `json:"marketplace_id"`
	BuyBoxOwned      bool          `json:"buy_box_owned"`
	BuyBoxPrice      int64         `json:"buy_box_price"`
	CompetitorPrices []int64       `json:"competitor_prices"`
	CheckedAt        time.Time     `json:"checked_at"`
	Latency          time.Duration `json:"latency"`
	Err              string        `json:"error,omitempty"`
}

// LowestCompetitorPrice returns the lowest competitor offer and whether any
// competitor data exists.
func (m *MonitoringResult) LowestCompetitorPrice() (int64, bool) {
	if len(m.CompetitorPrices) == 0 {
		return 0, false
	}
	lowest := m.CompetitorPrices[0]
	for _, p := range m.CompetitorPrices[1:] {
		if p < lowest {
			lowest = p
		}
	}
	return lowest, true
}

type ActionOutcome string

const (
	OutcomeSuccess             ActionOutcome = "success"
	OutcomeFailed              ActionOutcome = "failed"
	OutcomeInsufficientCredits ActionOutcome = "skipped-insufficient-credits"
	OutcomeAuthError           ActionOutcome = "skipped-auth-error"
	OutcomeNoAction            ActionOutcome = "no-action"
)

// RepricingAction is the append-only audit record; exactly one is written
// per listing per tick and it is immutable once written.
type RepricingAction struct {
	ID             string        `json:"id" db:"id"`
	ListingID      string        `json:"listing_id" db:"listing_id"`
	OrganizationID string        `json:"organization_id" db:"organization_id"`
	SKU            string        `json:"sku" db:"sku"`
	MarketplaceID  string        `json:"marketplace_id" db:"marketplace_id"`
	OldPrice       int64         `json:"old_price" db:"old_price"`
	NewPrice       int64         `json:"new_price" db:"new_price"`
	RuleApplied    string        `json:"rule_applied,omitempty" db:"rule_applied"`
	Outcome        ActionOutcome `json:"outcome" db:"outcome"`
	CreditsCharged int64         `json:"credits_charged" db:"credits_charged"`
	Error          string        `json:"error,omitempty" db:"error"`
	Timestamp      time.Time     `json:"timestamp" db:"timestamp"`
}

// TickStats is the structured per-tick summary handed to collaborators.
type TickStats struct {
	TicksRun        int       `json:"ticks_run"`
	ListingsChecked int       `json:"listings_checked"`
	RepricesApplied int       `json:"reprices_applied"`
	Errors          []string  `json:"errors"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
}
