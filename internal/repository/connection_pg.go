package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/boxsignal/repricer/internal/model"
	"github.com/jmoiron/sqlx"
)

type PostgresConnectionRepo struct {
	db *sqlx.DB
}

func NewPostgresConnectionRepo(db *sqlx.DB) *PostgresConnectionRepo {
	repo := &PostgresConnectionRepo{db: db}
	_ = repo.ensureSchema(context.Background())
	return repo
}

// ListActive returns the connections eligible for scheduling. Connections in
// status error or revoked stay excluded until an external credential
// re-entry flips them back.
func (r *PostgresConnectionRepo) ListActive(ctx context.Context) ([]*model.MarketplaceConnection, error) {
	rows, err := r.db.QueryxContext(ctx, `
		SELECT id, organization_id, marketplace_id, credentials, status, last_verified_at
		FROM marketplace_connections
		WHERE status = $1
		ORDER BY organization_id, marketplace_id
	`, model.ConnectionActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conns := []*model.MarketplaceConnection{}
	for rows.Next() {
		var conn model.MarketplaceConnection
		var credsJSON []byte
		var verifiedAt sql.NullTime
		if err := rows.Scan(
			&conn.ID,
			&conn.OrganizationID,
			&conn.MarketplaceID,
			&credsJSON,
			&conn.Status,
			&verifiedAt,
		); err != nil {
			return nil, err
		}
		if verifiedAt.Valid {
			conn.LastVerifiedAt = verifiedAt.Time
		}
		if len(credsJSON) > 0 {
			_ = json.Unmarshal(credsJSON, &conn.Credentials)
		}
		conns = append(conns, &conn)
	}
	return conns, rows.Err()
}

// UpdateStatus flips a connection's status, stamping last_verified_at when
// it becomes active again.
func (r *PostgresConnectionRepo) UpdateStatus(ctx context.Context, id string, status model.ConnectionStatus) error {
	if status == model.ConnectionActive {
		_, err := r.db.ExecContext(ctx,
			`UPDATE marketplace_connections SET status = $1, last_verified_at = $2 WHERE id = $3`,
			status, time.Now().UTC(), id)
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE marketplace_connections SET status = $1 WHERE id = $2`, status, id)
	return err
}

func (r *PostgresConnectionRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS marketplace_connections (
			id TEXT PRIMARY KEY,
			organization_id TEXT NOT NULL,
			marketplace_id TEXT NOT NULL,
			credentials JSONB,
			status TEXT NOT NULL DEFAULT 'active',
			last_verified_at TIMESTAMPTZ
		)
	`)
	if err != nil {
		return err
	}
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_connections_org ON marketplace_connections(organization_id)`)
	return nil
}
