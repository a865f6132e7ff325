// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"database/sql"

	"github.com/bento-platform/bento-authz/internal/authz"
)

// Snapshot returns one read-consistent view of all grants and groups for a
// single policy evaluation. It implements the engine's snapshot source.
func (s *Store) Snapshot(ctx context.Context) (*authz.Snapshot, error) {
	var snap *authz.Snapshot
	err := s.withRetry(ctx, "snapshot", func() error {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{
			Isolation: sql.LevelRepeatableRead,
			ReadOnly:  true,
		})
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		grants, err := s.listGrants(ctx, tx)
		if err != nil {
			return err
		}
		groups, err := s.listGroups(ctx, tx)
		if err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}

		byID := make(map[int64]authz.StoredGroup, len(groups))
		for _, g := range groups {
			byID[g.ID] = g
		}
		snap = &authz.Snapshot{Grants: grants, Groups: byID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}
