package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/boxsignal/repricer/internal/adapter"
	"github.com/boxsignal/repricer/internal/model"
	"github.com/boxsignal/repricer/internal/monitor"
	"github.com/boxsignal/repricer/internal/pkg/logger"
	"github.com/boxsignal/repricer/internal/pkg/metrics"
	"github.com/boxsignal/repricer/internal/rules"
	"github.com/google/uuid"
)

// listingJob is one unit of work for the tick's worker pool.
type listingJob struct {
	tickID  string
	listing *model.TrackedListing
	adapter adapter.MarketplaceAdapter
	monitor monitor.BuyBoxMonitor
	rules   []*model.RepricingRule
}

// safeRunListing shields the worker pool from a panicking pipeline. The
// registry is an extension point, so adapter return contracts are not
// trusted with process liveness: a panic becomes a failed action and the
// tick carries on.
func (s *Scheduler) safeRunListing(ctx context.Context, job listingJob) (action *model.RepricingAction, repriced bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("listing pipeline panicked",
				"listing", job.listing.ID, "sku", job.listing.SKU, "panic", r)
			repriced = false
			action = &model.RepricingAction{
				ID:             uuid.NewString(),
				ListingID:      job.listing.ID,
				OrganizationID: job.listing.OrganizationID,
				SKU:            job.listing.SKU,
				MarketplaceID:  job.listing.MarketplaceID,
				OldPrice:       job.listing.CurrentPrice,
				NewPrice:       job.listing.CurrentPrice,
				Outcome:        model.OutcomeFailed,
				Error:          fmt.Sprintf("pipeline panic: %v", r),
				Timestamp:      time.Now().UTC(),
			}
		}
	}()
	return s.runListing(ctx, job)
}

// runListing executes the per-listing pipeline:
// monitor -> credit check -> evaluate -> (optional) price update -> charge.
// Returns the single audit record for this listing and whether a reprice
// was applied. It never mutates the listing on a failed update.
func (s *Scheduler) runListing(ctx context.Context, job listingJob) (*model.RepricingAction, bool) {
	listing := job.listing
	now := time.Now().UTC()

	action := &model.RepricingAction{
		ID:             uuid.NewString(),
		ListingID:      listing.ID,
		OrganizationID: listing.OrganizationID,
		SKU:            listing.SKU,
		MarketplaceID:  listing.MarketplaceID,
		OldPrice:       listing.CurrentPrice,
		NewPrice:       listing.CurrentPrice,
		Timestamp:      now,
	}

	// 1. Buy box check, retried on transient failures.
	var result *model.MonitoringResult
	err := s.retry.Do(ctx, listing.MarketplaceID, "buybox", func(ctx context.Context) error {
		var checkErr error
		result, checkErr = job.monitor.CheckBuyBoxStatus(ctx, listing.SKU)
		return checkErr
	})
	if err != nil {
		action.Outcome = model.OutcomeFailed
		action.Error = err.Error()
		return action, false
	}
	if result == nil {
		action.Outcome = model.OutcomeFailed
		action.Error = "monitor returned no result"
		return action, false
	}
	metrics.ListingsChecked.Inc()

	listing.BuyBoxOwned = result.BuyBoxOwned
	listing.LastCheckedAt = &now

	// 2. Monitoring cost: pre-check, then charge up front. Insufficient
	// balance skips everything downstream with no charge at all.
	ok, err := s.ledger.CheckBalance(ctx, listing.OrganizationID, s.costs.MonitorCost)
	if err != nil {
		action.Outcome = model.OutcomeFailed
		action.Error = fmt.Sprintf("credit balance check: %v", err)
		return action, false
	}
	if !ok {
		metrics.CreditRejects.WithLabelValues("monitor").Inc()
		action.Outcome = model.OutcomeInsufficientCredits
		return action, false
	}

	charge, err := s.ledger.Charge(ctx, listing.OrganizationID, s.costs.MonitorCost,
		"buybox-monitor", chargeKey(job.tickID, listing.ID, "monitor"))
	if err != nil {
		action.Outcome = model.OutcomeFailed
		action.Error = fmt.Sprintf("monitor charge: %v", err)
		return action, false
	}
	if !charge.Success {
		// Lost a race against another consumer of the same balance.
		metrics.CreditRejects.WithLabelValues("monitor").Inc()
		action.Outcome = model.OutcomeInsufficientCredits
		return action, false
	}
	action.CreditsCharged = s.costs.MonitorCost

	// 3. Rule evaluation (pure).
	evaluation := rules.Evaluate(listing, result, job.rules)
	if evaluation.Clamped {
		logger.Warn("computed price clamped to listing bounds",
			"sku", listing.SKU, "marketplace", listing.MarketplaceID,
			"price", evaluation.NewPrice, "min", listing.MinPrice, "max", listing.MaxPrice)
	}
	if !evaluation.Action {
		action.Outcome = model.OutcomeNoAction
		action.Error = evaluation.Reason
		return action, false
	}
	action.RuleApplied = evaluation.RuleApplied

	// 4. The reprice costs more; re-check before touching the marketplace.
	ok, err = s.ledger.CheckBalance(ctx, listing.OrganizationID, s.costs.RepriceCost)
	if err != nil {
		action.Outcome = model.OutcomeFailed
		action.Error = fmt.Sprintf("credit balance check: %v", err)
		return action, false
	}
	if !ok {
		metrics.CreditRejects.WithLabelValues("reprice").Inc()
		action.Outcome = model.OutcomeInsufficientCredits
		return action, false
	}

	// 5. Push the price, same retry policy as the check. Exhausted retries
	// leave the prior price untouched and cost only the monitoring charge.
	err = s.retry.Do(ctx, listing.MarketplaceID, "update_price", func(ctx context.Context) error {
		return job.adapter.UpdatePrice(ctx, listing.SKU, evaluation.NewPrice)
	})
	if err != nil {
		action.Outcome = model.OutcomeFailed
		action.Error = err.Error()
		return action, false
	}

	// Charge for the reprice only now that the update reached a terminal
	// success.
	charge, err = s.ledger.Charge(ctx, listing.OrganizationID, s.costs.RepriceCost,
		"buybox-reprice", chargeKey(job.tickID, listing.ID, "reprice"))
	if err != nil {
		logger.Error("reprice charge failed after successful update",
			"org", listing.OrganizationID, "listing", listing.ID, "error", err)
	} else if charge.Success {
		action.CreditsCharged += s.costs.RepriceCost
	}

	listing.CurrentPrice = evaluation.NewPrice
	listing.LastRepricedAt = &now

	action.NewPrice = evaluation.NewPrice
	action.Outcome = model.OutcomeSuccess
	return action, true
}

func chargeKey(tickID, listingID, step string) string {
	return fmt.Sprintf("%s:%s:%s", tickID, listingID, step)
}
