// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bento-platform/bento-authz/internal/authz"
)

const listGrantsQuery = `
SELECT g.id, s.subject, r.resource, g.permission, g.extra, g.created, g.expiry, g.negated
FROM grants g
JOIN subjects s ON s.id = g.subject_id
JOIN resources r ON r.id = g.resource_id
ORDER BY g.id`

const getGrantQuery = `
SELECT g.id, s.subject, r.resource, g.permission, g.extra, g.created, g.expiry, g.negated
FROM grants g
JOIN subjects s ON s.id = g.subject_id
JOIN resources r ON r.id = g.resource_id
WHERE g.id = $1`

const upsertSubjectQuery = `
INSERT INTO subjects (subject) VALUES ($1)
ON CONFLICT (subject) DO UPDATE SET subject = EXCLUDED.subject
RETURNING id`

const upsertResourceQuery = `
INSERT INTO resources (resource) VALUES ($1)
ON CONFLICT (resource) DO UPDATE SET resource = EXCLUDED.resource
RETURNING id`

const groupExistsQuery = `SELECT EXISTS (SELECT 1 FROM groups WHERE id = $1)`

const duplicateGrantQuery = `
SELECT id FROM grants
WHERE subject_id = $1 AND resource_id = $2 AND permission = $3
  AND expiry IS NOT DISTINCT FROM $4
LIMIT 1`

const insertGrantQuery = `
INSERT INTO grants (subject_id, resource_id, permission, extra, created, expiry, negated)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`

// ListGrants returns all grants, expired included, ordered by ID.
func (s *Store) ListGrants(ctx context.Context) ([]authz.StoredGrant, error) {
	var grants []authz.StoredGrant
	err := s.withRetry(ctx, "list grants", func() error {
		var err error
		grants, err = s.listGrants(ctx, s.db)
		return err
	})
	if err != nil {
		return nil, err
	}
	return grants, nil
}

// GetGrant returns one grant by ID, or ErrNotFound.
func (s *Store) GetGrant(ctx context.Context, id int64) (authz.StoredGrant, error) {
	var grant authz.StoredGrant
	err := s.withRetry(ctx, "get grant", func() error {
		row, err := scanGrantRow(s.db.QueryRowContext(ctx, getGrantQuery, id))
		if err != nil {
			return err
		}
		grant, err = row.decode()
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return authz.StoredGrant{}, fmt.Errorf("%w: grant %d", ErrNotFound, id)
	}
	if err != nil {
		return authz.StoredGrant{}, err
	}
	return grant, nil
}

// CreateGrant stores a new grant and returns its assigned ID. The subject
// and resource documents are deduplicated via upserts, group references
// are checked for existence, and an equivalent existing grant (same
// subject, resource, permission and expiry) is rejected. All of it happens
// in one transaction.
func (s *Store) CreateGrant(ctx context.Context, g authz.Grant) (int64, error) {
	if g.Created.IsZero() {
		g.Created = s.now().UTC()
	}
	subjectDoc, err := json.Marshal(g.Subject)
	if err != nil {
		return 0, fmt.Errorf("encoding subject: %w", err)
	}
	resourceDoc, err := json.Marshal(g.Resource)
	if err != nil {
		return 0, fmt.Errorf("encoding resource: %w", err)
	}
	extra := normalizeExtra(g.Extra)

	var id int64
	err = s.inTx(ctx, nil, func(tx *sql.Tx) error {
		if g.Subject.Kind() == authz.SubjectGroup {
			var exists bool
			if err := tx.QueryRowContext(ctx, groupExistsQuery, g.Subject.Group).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("%w: group %d", ErrUnknownGroup, g.Subject.Group)
			}
		}

		var subjectID int64
		if err := tx.QueryRowContext(ctx, upsertSubjectQuery, subjectDoc).Scan(&subjectID); err != nil {
			return err
		}
		var resourceID int64
		if err := tx.QueryRowContext(ctx, upsertResourceQuery, resourceDoc).Scan(&resourceID); err != nil {
			return err
		}

		var existing int64
		err := tx.QueryRowContext(ctx, duplicateGrantQuery,
			subjectID, resourceID, string(g.Permission), g.Expiry,
		).Scan(&existing)
		switch {
		case err == nil:
			return fmt.Errorf("%w: grant %d", ErrGrantExists, existing)
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}

		return tx.QueryRowContext(ctx, insertGrantQuery,
			subjectID, resourceID, string(g.Permission), extra, g.Created, g.Expiry, g.Negated,
		).Scan(&id)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrGrantExists
		}
		return 0, classify(err)
	}
	return id, nil
}

// DeleteGrant removes a grant by ID, or returns ErrNotFound.
func (s *Store) DeleteGrant(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM grants WHERE id = $1`, id)
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: grant %d", ErrNotFound, id)
	}
	return nil
}

// listGrants iterates grant rows from q, skipping rows whose stored
// documents no longer decode; those are logged and left for cleanup rather
// than failing the whole read.
func (s *Store) listGrants(ctx context.Context, q querier) ([]authz.StoredGrant, error) {
	rows, err := q.QueryContext(ctx, listGrantsQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	grants := make([]authz.StoredGrant, 0)
	for rows.Next() {
		row, err := scanGrantRow(rows)
		if err != nil {
			return nil, err
		}
		grant, err := row.decode()
		if err != nil {
			s.logger.Warn("skipping undecodable grant row", "grant_id", row.id, "error", err)
			continue
		}
		grants = append(grants, grant)
	}
	return grants, rows.Err()
}

// grantRow is the raw scan target for one grants join row.
type grantRow struct {
	id         int64
	subject    []byte
	resource   []byte
	permission string
	extra      []byte
	created    time.Time
	expiry     sql.NullTime
	negated    bool
}

func scanGrantRow(sc interface{ Scan(dest ...any) error }) (grantRow, error) {
	var r grantRow
	err := sc.Scan(&r.id, &r.subject, &r.resource, &r.permission, &r.extra, &r.created, &r.expiry, &r.negated)
	return r, err
}

func (r grantRow) decode() (authz.StoredGrant, error) {
	g := authz.StoredGrant{ID: r.id}
	if err := json.Unmarshal(r.subject, &g.Subject); err != nil {
		return authz.StoredGrant{}, fmt.Errorf("decoding subject: %w", err)
	}
	if err := json.Unmarshal(r.resource, &g.Resource); err != nil {
		return authz.StoredGrant{}, fmt.Errorf("decoding resource: %w", err)
	}
	g.Permission = authz.Permission(r.permission)
	g.Extra = json.RawMessage(r.extra)
	g.Created = r.created
	if r.expiry.Valid {
		expiry := r.expiry.Time
		g.Expiry = &expiry
	}
	g.Negated = r.negated
	return g, nil
}
