// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

// Package postgres implements the grant and group store on PostgreSQL.
// Patterns are stored as self-describing JSONB documents; subject and
// resource documents are deduplicated into their own tables and referenced
// by grants, so structural equality checks happen inside the database.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/lib/pq"
)

const retryAttempts = 2

var retryBackoff = [retryAttempts]time.Duration{200 * time.Millisecond, 800 * time.Millisecond}

const schema = `
CREATE TABLE IF NOT EXISTS subjects (
    id      BIGSERIAL PRIMARY KEY,
    subject JSONB NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS resources (
    id       BIGSERIAL PRIMARY KEY,
    resource JSONB NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS groups (
    id         BIGSERIAL PRIMARY KEY,
    name       TEXT NOT NULL UNIQUE,
    membership JSONB NOT NULL,
    extra      JSONB NOT NULL DEFAULT '{}',
    created    TIMESTAMPTZ NOT NULL,
    expiry     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS grants (
    id          BIGSERIAL PRIMARY KEY,
    subject_id  BIGINT NOT NULL REFERENCES subjects (id),
    resource_id BIGINT NOT NULL REFERENCES resources (id),
    permission  TEXT NOT NULL,
    extra       JSONB NOT NULL DEFAULT '{}',
    created     TIMESTAMPTZ NOT NULL,
    expiry      TIMESTAMPTZ,
    negated     BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_grants_subject ON grants (subject_id);
CREATE INDEX IF NOT EXISTS idx_grants_resource ON grants (resource_id);

CREATE UNIQUE INDEX IF NOT EXISTS uq_grants_pattern
    ON grants (subject_id, resource_id, permission, COALESCE(expiry, 'infinity'::timestamptz));
`

// Store provides grant and group persistence over a PostgreSQL database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStore wraps an existing database handle, which remains owned by the
// caller.
func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger, now: time.Now}
}

// Open connects to the database at uri and sizes the connection pool.
func Open(uri string, poolSize int, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("postgres", uri)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if poolSize > 0 {
		db.SetMaxOpenConns(poolSize)
		db.SetMaxIdleConns(poolSize)
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	return NewStore(db, logger), nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports database connectivity, used by the readiness endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return classify(s.db.PingContext(ctx))
}

// Bootstrap creates the schema if it is missing. Safe to run on every
// startup.
func (s *Store) Bootstrap(ctx context.Context) error {
	return s.withRetry(ctx, "bootstrap", func() error {
		_, err := s.db.ExecContext(ctx, schema)
		return err
	})
}

// querier is satisfied by both *sql.DB and *sql.Tx so list and lookup
// helpers can run inside or outside a transaction.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// inTx runs fn inside a transaction, committing on success and rolling
// back on error.
func (s *Store) inTx(ctx context.Context, opts *sql.TxOptions, fn func(*sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = fmt.Errorf("rollback failed: %v: %w", rbErr, err)
			}
			return
		}
		err = tx.Commit()
	}()
	return fn(tx)
}

// withRetry runs fn, retrying transient failures with backoff. Reads go
// through here; mutations do not retry because a commit that failed midway
// may still have landed.
func (s *Store) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !isTransient(err) || attempt >= retryAttempts {
			return classify(err)
		}
		s.logger.Warn("retrying store operation",
			"op", op,
			"attempt", attempt+1,
			"error", err,
		)
		select {
		case <-time.After(retryBackoff[attempt]):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// classify wraps transient failures in ErrStoreUnavailable and passes
// everything else through.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if isTransient(err) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}

func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		// Connection exceptions, insufficient resources, operator
		// intervention (e.g. shutdown, failover).
		case "08", "53", "57":
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// normalizeExtra coerces absent extra documents to the empty JSON object so
// the column stays NOT NULL.
func normalizeExtra(extra []byte) []byte {
	if len(extra) == 0 {
		return []byte("{}")
	}
	return extra
}
