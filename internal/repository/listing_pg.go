package repository

import (
	"context"

	"github.com/boxsignal/repricer/internal/model"
	"github.com/jmoiron/sqlx"
)

type PostgresListingRepo struct {
	db *sqlx.DB
}

func NewPostgresListingRepo(db *sqlx.DB) *PostgresListingRepo {
	repo := &PostgresListingRepo{db: db}
	_ = repo.ensureSchema(context.Background())
	return repo
}

func (r *PostgresListingRepo) ListActive(ctx context.Context) ([]*model.TrackedListing, error) {
	rows, err := r.db.QueryxContext(ctx, `
		SELECT id, sku, marketplace_id, organization_id, category,
		       current_price, min_price, max_price, target_margin_percent, cost_price,
		       buy_box_owned, last_checked_at, last_repriced_at
		FROM tracked_listings
		ORDER BY marketplace_id, sku
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	listings := []*model.TrackedListing{}
	for rows.Next() {
		var l model.TrackedListing
		if err := rows.Scan(
			&l.ID, &l.SKU, &l.MarketplaceID, &l.OrganizationID, &l.Category,
			&l.CurrentPrice, &l.MinPrice, &l.MaxPrice, &l.TargetMarginPercent, &l.CostPrice,
			&l.BuyBoxOwned, &l.LastCheckedAt, &l.LastRepricedAt,
		); err != nil {
			return nil, err
		}
		listings = append(listings, &l)
	}
	return listings, rows.Err()
}

// Update persists the pipeline's mutation of one listing. Each listing is
// written in isolation; there is no cross-listing transaction.
func (r *PostgresListingRepo) Update(ctx context.Context, l *model.TrackedListing) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE tracked_listings SET
			current_price = $1,
			buy_box_owned = $2,
			last_checked_at = $3,
			last_repriced_at = $4
		WHERE id = $5
	`, l.CurrentPrice, l.BuyBoxOwned, l.LastCheckedAt, l.LastRepricedAt, l.ID)
	return err
}

func (r *PostgresListingRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tracked_listings (
			id TEXT PRIMARY KEY,
			sku TEXT NOT NULL,
			marketplace_id TEXT NOT NULL,
			organization_id TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			current_price BIGINT NOT NULL,
			min_price BIGINT NOT NULL,
			max_price BIGINT NOT NULL,
			target_margin_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
			cost_price BIGINT NOT NULL DEFAULT 0,
			buy_box_owned BOOLEAN NOT NULL DEFAULT FALSE,
			last_checked_at TIMESTAMPTZ,
			last_repriced_at TIMESTAMPTZ,
			CONSTRAINT price_bounds CHECK (min_price <= current_price AND current_price <= max_price)
		)
	`)
	if err != nil {
		return err
	}
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_listings_marketplace ON tracked_listings(marketplace_id, organization_id)`)
	return nil
}
