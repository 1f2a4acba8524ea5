package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/boxsignal/repricer/internal/model"
	"github.com/jmoiron/sqlx"
)

// PostgresActionRepo is the append-only repricing audit trail. Rows are
// immutable once written; ON CONFLICT DO NOTHING makes a retried insert a
// no-op instead of a duplicate.
type PostgresActionRepo struct {
	db *sqlx.DB
}

func NewPostgresActionRepo(db *sqlx.DB) *PostgresActionRepo {
	repo := &PostgresActionRepo{db: db}
	_ = repo.ensureSchema(context.Background())
	return repo
}

func (r *PostgresActionRepo) Insert(ctx context.Context, action *model.RepricingAction) error {
	if action == nil {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO repricing_actions (
			id, listing_id, organization_id, sku, marketplace_id,
			old_price, new_price, rule_applied, outcome, credits_charged, error, timestamp
		) VALUES (
			$1,$2,$3,$4,$5,
			$6,$7,$8,$9,$10,$11,$12
		)
		ON CONFLICT (id) DO NOTHING
	`, action.ID, action.ListingID, action.OrganizationID, action.SKU, action.MarketplaceID,
		action.OldPrice, action.NewPrice, action.RuleApplied, action.Outcome,
		action.CreditsCharged, action.Error, action.Timestamp)
	return err
}

func (r *PostgresActionRepo) List(ctx context.Context, orgID string, limit int, from, to *time.Time) ([]*model.RepricingAction, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `SELECT id, listing_id, organization_id, sku, marketplace_id, old_price, new_price, rule_applied, outcome, credits_charged, error, timestamp FROM repricing_actions`
	clauses := []string{}
	args := []interface{}{}
	idx := 1

	if orgID != "" {
		clauses = append(clauses, fmt.Sprintf("organization_id = $%d", idx))
		args = append(args, orgID)
		idx++
	}
	if from != nil {
		clauses = append(clauses, fmt.Sprintf("timestamp >= $%d", idx))
		args = append(args, *from)
		idx++
	}
	if to != nil {
		clauses = append(clauses, fmt.Sprintf("timestamp <= $%d", idx))
		args = append(args, *to)
		idx++
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", idx)
	args = append(args, limit)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]*model.RepricingAction, 0, limit)
	for rows.Next() {
		var action model.RepricingAction
		if err := rows.Scan(
			&action.ID,
			&action.ListingID,
			&action.OrganizationID,
			&action.SKU,
			&action.MarketplaceID,
			&action.OldPrice,
			&action.NewPrice,
			&action.RuleApplied,
			&action.Outcome,
			&action.CreditsCharged,
			&action.Error,
			&action.Timestamp,
		); err != nil {
			return nil, err
		}
		records = append(records, &action)
	}
	return records, rows.Err()
}

func (r *PostgresActionRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS repricing_actions (
			id TEXT PRIMARY KEY,
			listing_id TEXT NOT NULL,
			organization_id TEXT NOT NULL,
			sku TEXT NOT NULL,
			marketplace_id TEXT NOT NULL,
			old_price BIGINT NOT NULL,
			new_price BIGINT NOT NULL,
			rule_applied TEXT,
			outcome TEXT NOT NULL,
			credits_charged BIGINT NOT NULL DEFAULT 0,
			error TEXT,
			timestamp TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_actions_org ON repricing_actions(organization_id, timestamp DESC)`)
	return nil
}

func (r *PostgresActionRepo) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if olderThan <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	_, err := r.db.ExecContext(ctx, `DELETE FROM repricing_actions WHERE timestamp < $1`, cutoff)
	return err
}
