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

const listGroupsQuery = `
SELECT id, name, membership, extra, created, expiry
FROM groups
ORDER BY id`

const getGroupQuery = `
SELECT id, name, membership, extra, created, expiry
FROM groups
WHERE id = $1`

const insertGroupQuery = `
INSERT INTO groups (name, membership, extra, created, expiry)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`

const updateGroupQuery = `
UPDATE groups
SET name = $2, membership = $3, extra = $4, expiry = $5
WHERE id = $1`

// groupReferencedQuery finds grants whose subject document points at the
// group.
const groupReferencedQuery = `
SELECT EXISTS (
    SELECT 1 FROM grants g
    JOIN subjects s ON s.id = g.subject_id
    WHERE s.subject @> jsonb_build_object('group', $1::bigint)
)`

const deleteDependentGrantsQuery = `
DELETE FROM grants
WHERE subject_id IN (
    SELECT id FROM subjects WHERE subject @> jsonb_build_object('group', $1::bigint)
)`

// ListGroups returns all groups, expired included, ordered by ID.
func (s *Store) ListGroups(ctx context.Context) ([]authz.StoredGroup, error) {
	var groups []authz.StoredGroup
	err := s.withRetry(ctx, "list groups", func() error {
		var err error
		groups, err = s.listGroups(ctx, s.db)
		return err
	})
	if err != nil {
		return nil, err
	}
	return groups, nil
}

// GetGroup returns one group by ID, or ErrNotFound.
func (s *Store) GetGroup(ctx context.Context, id int64) (authz.StoredGroup, error) {
	var group authz.StoredGroup
	err := s.withRetry(ctx, "get group", func() error {
		row, err := scanGroupRow(s.db.QueryRowContext(ctx, getGroupQuery, id))
		if err != nil {
			return err
		}
		group, err = row.decode()
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return authz.StoredGroup{}, fmt.Errorf("%w: group %d", ErrNotFound, id)
	}
	if err != nil {
		return authz.StoredGroup{}, err
	}
	return group, nil
}

// CreateGroup stores a new group and returns its assigned ID. Name
// collisions are rejected with ErrGroupExists.
func (s *Store) CreateGroup(ctx context.Context, g authz.Group) (int64, error) {
	if g.Created.IsZero() {
		g.Created = s.now().UTC()
	}
	membership, err := json.Marshal(g.Membership)
	if err != nil {
		return 0, fmt.Errorf("encoding membership: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, insertGroupQuery,
		g.Name, membership, normalizeExtra(g.Extra), g.Created, g.Expiry,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s", ErrGroupExists, g.Name)
		}
		return 0, classify(err)
	}
	return id, nil
}

// UpdateGroup replaces a group's name, membership, extra data and expiry.
// The creation timestamp is immutable.
func (s *Store) UpdateGroup(ctx context.Context, id int64, g authz.Group) error {
	membership, err := json.Marshal(g.Membership)
	if err != nil {
		return fmt.Errorf("encoding membership: %w", err)
	}

	res, err := s.db.ExecContext(ctx, updateGroupQuery,
		id, g.Name, membership, normalizeExtra(g.Extra), g.Expiry,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrGroupExists, g.Name)
		}
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: group %d", ErrNotFound, id)
	}
	return nil
}

// DeleteGroup removes a group by ID. Groups still referenced by grant
// subjects are protected and return ErrGroupReferenced.
func (s *Store) DeleteGroup(ctx context.Context, id int64) error {
	err := s.inTx(ctx, nil, func(tx *sql.Tx) error {
		var referenced bool
		if err := tx.QueryRowContext(ctx, groupReferencedQuery, id).Scan(&referenced); err != nil {
			return err
		}
		if referenced {
			return fmt.Errorf("%w: group %d", ErrGroupReferenced, id)
		}
		return deleteGroupRow(ctx, tx, id)
	})
	return classify(err)
}

// DeleteGroupAndDependentGrants removes a group along with every grant
// whose subject references it, in one transaction.
func (s *Store) DeleteGroupAndDependentGrants(ctx context.Context, id int64) error {
	err := s.inTx(ctx, nil, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, deleteDependentGrantsQuery, id); err != nil {
			return err
		}
		return deleteGroupRow(ctx, tx, id)
	})
	return classify(err)
}

func deleteGroupRow(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM groups WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: group %d", ErrNotFound, id)
	}
	return nil
}

func (s *Store) listGroups(ctx context.Context, q querier) ([]authz.StoredGroup, error) {
	rows, err := q.QueryContext(ctx, listGroupsQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := make([]authz.StoredGroup, 0)
	for rows.Next() {
		row, err := scanGroupRow(rows)
		if err != nil {
			return nil, err
		}
		group, err := row.decode()
		if err != nil {
			s.logger.Warn("skipping undecodable group row", "group_id", row.id, "error", err)
			continue
		}
		groups = append(groups, group)
	}
	return groups, rows.Err()
}

type groupRow struct {
	id         int64
	name       string
	membership []byte
	extra      []byte
	created    time.Time
	expiry     sql.NullTime
}

func scanGroupRow(sc interface{ Scan(dest ...any) error }) (groupRow, error) {
	var r groupRow
	err := sc.Scan(&r.id, &r.name, &r.membership, &r.extra, &r.created, &r.expiry)
	return r, err
}

func (r groupRow) decode() (authz.StoredGroup, error) {
	g := authz.StoredGroup{ID: r.id}
	g.Name = r.name
	if err := json.Unmarshal(r.membership, &g.Membership); err != nil {
		return authz.StoredGroup{}, fmt.Errorf("decoding membership: %w", err)
	}
	g.Extra = json.RawMessage(r.extra)
	g.Created = r.created
	if r.expiry.Valid {
		expiry := r.expiry.Time
		g.Expiry = &expiry
	}
	return g, nil
}
