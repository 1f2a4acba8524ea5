package repository

import (
	"context"
	"encoding/json"

	"github.com/boxsignal/repricer/internal/model"
	"github.com/jmoiron/sqlx"
)

type PostgresRuleRepo struct {
	db *sqlx.DB
}

func NewPostgresRuleRepo(db *sqlx.DB) *PostgresRuleRepo {
	repo := &PostgresRuleRepo{db: db}
	_ = repo.ensureSchema(context.Background())
	return repo
}

func (r *PostgresRuleRepo) ListEnabled(ctx context.Context) ([]*model.RepricingRule, error) {
	rows, err := r.db.QueryxContext(ctx, `
		SELECT id, organization_id, scope, sku, category, strategy, parameters,
		       priority, enabled, created_at
		FROM repricing_rules
		WHERE enabled = TRUE
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ruleSet := []*model.RepricingRule{}
	for rows.Next() {
		var rule model.RepricingRule
		var paramsJSON []byte
		if err := rows.Scan(
			&rule.ID, &rule.OrganizationID, &rule.Scope, &rule.SKU, &rule.Category,
			&rule.Strategy, &paramsJSON, &rule.Priority, &rule.Enabled, &rule.CreatedAt,
		); err != nil {
			return nil, err
		}
		if len(paramsJSON) > 0 {
			_ = json.Unmarshal(paramsJSON, &rule.Parameters)
		}
		ruleSet = append(ruleSet, &rule)
	}
	return ruleSet, rows.Err()
}

func (r *PostgresRuleRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS repricing_rules (
			id TEXT PRIMARY KEY,
			organization_id TEXT NOT NULL,
			scope TEXT NOT NULL,
			sku TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			strategy TEXT NOT NULL,
			parameters JSONB,
			priority INTEGER NOT NULL DEFAULT 0,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_rules_org ON repricing_rules(organization_id, enabled)`)
	return nil
}
