package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"wabridge/internal/domain"
)

// PostgresCache persists identity records in PostgreSQL.
//
// Schema:
//
//	CREATE TABLE identity_records (
//	    canonical_id TEXT PRIMARY KEY,
//	    display_name TEXT NOT NULL DEFAULT ''
//	);
//	CREATE TABLE identity_alternates (
//	    alternate_id TEXT PRIMARY KEY,
//	    canonical_id TEXT NOT NULL REFERENCES identity_records(canonical_id)
//	);
//
// The primary key on alternate_id is what enforces "an alternate belongs to
// at most one record": a contested alternate is rebound with ON CONFLICT.
type PostgresCache struct {
	db *sql.DB
}

// NewPostgresCache constructs a PostgreSQL-backed identity cache.
func NewPostgresCache(db *sql.DB) *PostgresCache {
	return &PostgresCache{db: db}
}

func (c *PostgresCache) Resolve(ctx context.Context, id domain.Identifier) (domain.IdentityRecord, error) {
	var canonical, name string
	err := c.db.QueryRowContext(ctx, `
		SELECT r.canonical_id, r.display_name
		FROM identity_records r
		WHERE r.canonical_id = $1
		UNION
		SELECT r.canonical_id, r.display_name
		FROM identity_records r
		JOIN identity_alternates a ON a.canonical_id = r.canonical_id
		WHERE a.alternate_id = $1
		LIMIT 1
	`, id.Value).Scan(&canonical, &name)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IdentityRecord{}, ErrNotFound
	}
	if err != nil {
		return domain.IdentityRecord{}, fmt.Errorf("resolve identity: %w", err)
	}
	return c.load(ctx, canonical, name)
}

func (c *PostgresCache) Upsert(ctx context.Context, canonical, alternate domain.Identifier, name string) (domain.IdentityRecord, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.IdentityRecord{}, fmt.Errorf("begin identity upsert: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO identity_records (canonical_id, display_name)
		VALUES ($1, $2)
		ON CONFLICT (canonical_id) DO UPDATE SET
			display_name = CASE WHEN EXCLUDED.display_name <> '' THEN EXCLUDED.display_name ELSE identity_records.display_name END
	`, canonical.Value, name)
	if err != nil {
		return domain.IdentityRecord{}, fmt.Errorf("upsert identity record: %w", err)
	}

	if !alternate.IsZero() && !alternate.Equal(canonical) {
		// Last writer wins for contested alternates.
		_, err = tx.ExecContext(ctx, `
			INSERT INTO identity_alternates (alternate_id, canonical_id)
			VALUES ($1, $2)
			ON CONFLICT (alternate_id) DO UPDATE SET canonical_id = EXCLUDED.canonical_id
		`, alternate.Value, canonical.Value)
		if err != nil {
			return domain.IdentityRecord{}, fmt.Errorf("bind identity alternate: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.IdentityRecord{}, fmt.Errorf("commit identity upsert: %w", err)
	}

	var storedName string
	if err := c.db.QueryRowContext(ctx, `SELECT display_name FROM identity_records WHERE canonical_id = $1`, canonical.Value).Scan(&storedName); err != nil {
		return domain.IdentityRecord{}, fmt.Errorf("reload identity record: %w", err)
	}
	return c.load(ctx, canonical.Value, storedName)
}

func (c *PostgresCache) load(ctx context.Context, canonical, name string) (domain.IdentityRecord, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT alternate_id FROM identity_alternates WHERE canonical_id = $1`, canonical)
	if err != nil {
		return domain.IdentityRecord{}, fmt.Errorf("load identity alternates: %w", err)
	}
	defer rows.Close()

	rec := domain.IdentityRecord{
		CanonicalID: domain.ParseIdentifier(canonical),
		DisplayName: name,
	}
	for rows.Next() {
		var alt string
		if err := rows.Scan(&alt); err != nil {
			return domain.IdentityRecord{}, fmt.Errorf("scan identity alternate: %w", err)
		}
		rec = rec.WithAlternate(domain.ParseIdentifier(alt))
	}
	if err := rows.Err(); err != nil {
		return domain.IdentityRecord{}, fmt.Errorf("iterate identity alternates: %w", err)
	}
	return rec, nil
}
