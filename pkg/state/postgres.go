package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	// Postgres driver
	_ "github.com/lib/pq"

	"github.com/chazu/ballast/pkg/resource"
)

// Postgres is a Store backed by a PostgreSQL table. The serial
// compare-and-swap rides on guarded INSERT/UPDATE statements, so two plan
// runs racing on the same identity cannot both win.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects to dsn and ensures the state table exists
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := &Postgres{db: db}
	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgres wraps an existing connection pool without touching the schema
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) init(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS observed_state (
	resource_type   text        NOT NULL,
	resource_name   text        NOT NULL,
	live_attributes jsonb       NOT NULL DEFAULT '{}',
	fingerprint     text        NOT NULL,
	serial          bigint      NOT NULL,
	updated_at      timestamptz NOT NULL,
	PRIMARY KEY (resource_type, resource_name)
)`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create observed_state table: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool
func (s *Postgres) Close() error {
	return s.db.Close()
}

// Get returns the observed state for id, or ErrNotFound
func (s *Postgres) Get(ctx context.Context, id resource.ID) (*ObservedState, error) {
	const query = `
SELECT live_attributes, fingerprint, serial, updated_at
FROM observed_state
WHERE resource_type = $1 AND resource_name = $2`

	var (
		attrsJSON []byte
		obs       = ObservedState{ID: id}
	)
	err := s.db.QueryRowContext(ctx, query, string(id.Type), id.Name).
		Scan(&attrsJSON, &obs.Fingerprint, &obs.Serial, &obs.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read observed state for %s: %w", id, err)
	}

	if len(attrsJSON) > 0 {
		if err := json.Unmarshal(attrsJSON, &obs.LiveAttributes); err != nil {
			return nil, fmt.Errorf("failed to decode live attributes for %s: %w", id, err)
		}
	}
	return &obs, nil
}

// Put writes a record, enforcing the serial compare-and-swap
func (s *Postgres) Put(ctx context.Context, obs *ObservedState) error {
	if obs == nil {
		return fmt.Errorf("observed state cannot be nil")
	}

	attrsJSON, err := json.Marshal(obs.LiveAttributes)
	if err != nil {
		return fmt.Errorf("failed to encode live attributes for %s: %w", obs.ID, err)
	}
	updatedAt := obs.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	if obs.Serial == 1 {
		const insert = `
INSERT INTO observed_state (resource_type, resource_name, live_attributes, fingerprint, serial, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (resource_type, resource_name) DO NOTHING`
		res, err := s.db.ExecContext(ctx, insert,
			string(obs.ID.Type), obs.ID.Name, attrsJSON, obs.Fingerprint, obs.Serial, updatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert observed state for %s: %w", obs.ID, err)
		}
		return s.checkAffected(res, obs)
	}

	const update = `
UPDATE observed_state
SET live_attributes = $3, fingerprint = $4, serial = $5, updated_at = $6
WHERE resource_type = $1 AND resource_name = $2 AND serial = $7`
	res, err := s.db.ExecContext(ctx, update,
		string(obs.ID.Type), obs.ID.Name, attrsJSON, obs.Fingerprint, obs.Serial, updatedAt, obs.Serial-1)
	if err != nil {
		return fmt.Errorf("failed to update observed state for %s: %w", obs.ID, err)
	}
	return s.checkAffected(res, obs)
}

func (s *Postgres) checkAffected(res sql.Result, obs *ObservedState) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected for %s: %w", obs.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: presented serial %d: %w", obs.ID, obs.Serial, ErrSerialConflict)
	}
	return nil
}

// Delete removes the record for id
func (s *Postgres) Delete(ctx context.Context, id resource.ID) error {
	const del = `DELETE FROM observed_state WHERE resource_type = $1 AND resource_name = $2`
	if _, err := s.db.ExecContext(ctx, del, string(id.Type), id.Name); err != nil {
		return fmt.Errorf("failed to delete observed state for %s: %w", id, err)
	}
	return nil
}

// List returns all records ordered by identity
func (s *Postgres) List(ctx context.Context) ([]*ObservedState, error) {
	const query = `
SELECT resource_type, resource_name, live_attributes, fingerprint, serial, updated_at
FROM observed_state
ORDER BY resource_type, resource_name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list observed state: %w", err)
	}
	defer rows.Close()

	var records []*ObservedState
	for rows.Next() {
		var (
			rtype     string
			attrsJSON []byte
			obs       ObservedState
		)
		if err := rows.Scan(&rtype, &obs.ID.Name, &attrsJSON, &obs.Fingerprint, &obs.Serial, &obs.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan observed state row: %w", err)
		}
		obs.ID.Type = resource.Type(rtype)
		if len(attrsJSON) > 0 {
			if err := json.Unmarshal(attrsJSON, &obs.LiveAttributes); err != nil {
				return nil, fmt.Errorf("failed to decode live attributes for %s: %w", obs.ID, err)
			}
		}
		records = append(records, &obs)
	}
	return records, rows.Err()
}
