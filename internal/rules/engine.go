package rules

import (
	"sort"

	"github.com/boxsignal/repricer/internal/model"
	"github.com/shopspring/decimal"
)

// Evaluation is the outcome of one rule engine pass. Action=false means no
// price change is needed; Reason says why.
type Evaluation struct {
	Action      bool
	NewPrice    int64
	RuleApplied string
	Clamped     bool
	Reason      string
}

func noAction(reason string) Evaluation {
	return Evaluation{Action: false, Reason: reason}
}

// Evaluate selects the winning rule for the listing and applies its pricing
// strategy against the monitoring result. Pure and deterministic: identical
// inputs always yield identical output. All prices are integer minor units.
func Evaluate(listing *model.TrackedListing, result *model.MonitoringResult, candidates []*model.RepricingRule) Evaluation {
	rule := SelectRule(listing, candidates)
	if rule == nil {
		return noAction("no matching rule")
	}

	var target int64
	switch rule.Strategy {
	case model.MatchLowest:
		lowest, ok := result.LowestCompetitorPrice()
		if !ok {
			return noAction("no competitor data")
		}
		if result.BuyBoxOwned && listing.CurrentPrice <= lowest {
			return noAction("already winning at or below lowest competitor")
		}
		target = lowest - 1

	case model.BeatByAmount:
		ref, ok := competitorReference(listing, result)
		if !ok {
			return noAction("no competitor data")
		}
		target = ref - rule.Parameters.BeatBy

	case model.MaintainMargin:
		floor, ok := marginFloor(listing)
		if !ok {
			return noAction("invalid margin parameters")
		}
		if _, hasCompetitors := result.LowestCompetitorPrice(); !hasCompetitors && listing.CurrentPrice >= floor {
			return noAction("no competitor data")
		}
		// The floor is the target: as low as margin allows, even when that
		// loses the buy box.
		target = floor

	default:
		return noAction("unknown strategy")
	}

	clamped, wasClamped := clamp(target, listing.MinPrice, listing.MaxPrice)
	if clamped == listing.CurrentPrice {
		return noAction("computed price equals current price")
	}

	return Evaluation{
		Action:      true,
		NewPrice:    clamped,
		RuleApplied: rule.ID,
		Clamped:     wasClamped,
	}
}

// SelectRule picks the winning rule: specificity always dominates declared
// priority (sku > category > global); within equal specificity the highest
// priority wins; ties break by oldest CreatedAt, then by id for full
// determinism.
func SelectRule(listing *model.TrackedListing, candidates []*model.RepricingRule) *model.RepricingRule {
	matched := make([]*model.RepricingRule, 0, len(candidates))
	for _, rule := range candidates {
		if rule != nil && rule.Matches(listing) {
			matched = append(matched, rule)
		}
	}
	if len(matched) == 0 {
		return nil
	}

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if sa, sb := a.Scope.Specificity(), b.Scope.Specificity(); sa != sb {
			return sa > sb
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return matched[0]
}

// competitorReference is the price BEAT_BY_AMOUNT undercuts: the
// competitor's buy box price when a competitor holds it, otherwise the
// lowest competitor offer.
func competitorReference(listing *model.TrackedListing, result *model.MonitoringResult) (int64, bool) {
	if !result.BuyBoxOwned && result.BuyBoxPrice > 0 {
		return result.BuyBoxPrice, true
	}
	return result.LowestCompetitorPrice()
}

// MarginFloorViolated reports whether the listing's current price is below
// its MAINTAIN_MARGIN floor. Used when competitor data is absent: the floor
// must be restored regardless.
func MarginFloorViolated(listing *model.TrackedListing) bool {
	floor, ok := marginFloor(listing)
	return ok && listing.CurrentPrice < floor
}

// marginFloor computes costPrice / (1 - targetMarginPercent/100), rounded up
// so a tie resolves in the seller's favor.
func marginFloor(listing *model.TrackedListing) (int64, bool) {
	m := listing.TargetMarginPercent
	if m < 0 || m >= 100 || listing.CostPrice <= 0 {
		return 0, false
	}
	margin := decimal.NewFromFloat(m).Div(decimal.NewFromInt(100))
	floor := decimal.NewFromInt(listing.CostPrice).
		Div(decimal.NewFromInt(1).Sub(margin)).
		Ceil()
	return floor.IntPart(), true
}

func clamp(price, min, max int64) (int64, bool) {
	if price < min {
		return min, true
	}
	if price > max {
		return max, true
	}
	return price, false
}
