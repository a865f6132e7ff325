// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

package authz

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SnapshotSource provides one read-consistent view of grants and groups
// per evaluation. The postgres store implements this with a single
// transaction so concurrent writes never tear an evaluation.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// SuperUser is one bootstrap identity from configuration. Superusers
// implicitly hold every registry permission on every resource, which breaks
// the chicken-and-egg problem of needing edit:permissions to create the
// first grant.
type SuperUser struct {
	Issuer  string `json:"iss" koanf:"iss"`
	Subject string `json:"sub" koanf:"sub"`
}

// Engine evaluates policy: given a resolved subject, a set of requested
// resources and a set of permissions, it loads the active grants from one
// store snapshot and applies the cascade. Evaluation is deterministic for a
// fixed (now, snapshot, inputs) and caches nothing.
type Engine struct {
	source     SnapshotSource
	registry   *Registry
	superusers []SuperUser
	decisions  *DecisionLogger
	logger     *slog.Logger
	now        func() time.Time
}

// NewEngine wires the evaluation engine. The decision logger may be nil, in
// which case no decision records are emitted (used by the CLI).
func NewEngine(
	source SnapshotSource,
	registry *Registry,
	superusers []SuperUser,
	decisions *DecisionLogger,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		source:     source,
		registry:   registry,
		superusers: superusers,
		decisions:  decisions,
		logger:     logger,
		now:        time.Now,
	}
}

// Registry exposes the engine's permission vocabulary.
func (e *Engine) Registry() *Registry { return e.registry }

// Evaluate computes the decision matrix: one row per requested resource,
// one column per requested permission.
func (e *Engine) Evaluate(
	ctx context.Context,
	sub ResolvedSubject,
	resources []ResourcePattern,
	permissions []Permission,
) ([][]bool, error) {
	if err := e.validateRequest(resources, permissions); err != nil {
		return nil, err
	}

	if e.isSuperUser(sub) {
		result := make([][]bool, len(resources))
		for i := range result {
			result[i] = make([]bool, len(permissions))
			for j := range result[i] {
				result[i][j] = true
			}
		}
		e.logDecision(ctx, sub, resources, permissions, result, nil)
		return result, nil
	}

	snap, err := e.source.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading policy snapshot: %w", err)
	}

	now := e.now()
	result := make([][]bool, len(resources))
	var matched []int64
	seen := make(map[int64]struct{})

	for i, res := range resources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		applicable := e.applicableGrants(snap, sub, res, now)
		result[i] = make([]bool, len(permissions))
		for j, perm := range permissions {
			allow, ids := decide(applicable, perm)
			result[i][j] = allow
			for _, id := range ids {
				if _, dup := seen[id]; !dup {
					seen[id] = struct{}{}
					matched = append(matched, id)
				}
			}
		}
	}

	e.logDecision(ctx, sub, resources, permissions, result, matched)
	return result, nil
}

// EvaluateOne is the scalar form of Evaluate for a single resource and
// permission.
func (e *Engine) EvaluateOne(
	ctx context.Context,
	sub ResolvedSubject,
	resource ResourcePattern,
	permission Permission,
) (bool, error) {
	matrix, err := e.Evaluate(ctx, sub, []ResourcePattern{resource}, []Permission{permission})
	if err != nil {
		return false, err
	}
	return matrix[0][0], nil
}

// PermissionsFor returns, per requested resource, the sorted set of
// registry permissions the subject holds on it.
func (e *Engine) PermissionsFor(
	ctx context.Context,
	sub ResolvedSubject,
	resources []ResourcePattern,
) ([][]Permission, error) {
	if err := e.validateRequest(resources, nil); err != nil {
		return nil, err
	}

	all := e.registry.All()

	if e.isSuperUser(sub) {
		result := make([][]Permission, len(resources))
		for i := range result {
			result[i] = all
		}
		e.logPermissions(ctx, sub, resources, result, nil)
		return result, nil
	}

	snap, err := e.source.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading policy snapshot: %w", err)
	}

	now := e.now()
	result := make([][]Permission, len(resources))
	var matched []int64
	seen := make(map[int64]struct{})

	for i, res := range resources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		applicable := e.applicableGrants(snap, sub, res, now)
		held := make([]Permission, 0)
		for _, perm := range all {
			allow, ids := decide(applicable, perm)
			if !allow {
				continue
			}
			held = append(held, perm)
			for _, id := range ids {
				if _, dup := seen[id]; !dup {
					seen[id] = struct{}{}
					matched = append(matched, id)
				}
			}
		}
		result[i] = held
	}

	e.logPermissions(ctx, sub, resources, result, matched)
	return result, nil
}

func (e *Engine) validateRequest(resources []ResourcePattern, permissions []Permission) error {
	for _, r := range resources {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	for _, p := range permissions {
		if !e.registry.Contains(p) {
			return fmt.Errorf("%w: %s", ErrUnknownPermission, p)
		}
	}
	return nil
}

func (e *Engine) isSuperUser(sub ResolvedSubject) bool {
	if sub.Anonymous {
		return false
	}
	for _, su := range e.superusers {
		if su.Issuer == sub.Issuer && su.Subject == sub.Subject {
			return true
		}
	}
	return false
}

// applicableGrants filters the snapshot down to grants that are active,
// registry-usable, subject-matching and resource-covering for one requested
// resource. Malformed stored grants are skipped with a warning so a single
// bad row never poisons evaluation.
func (e *Engine) applicableGrants(
	snap *Snapshot,
	sub ResolvedSubject,
	requested ResourcePattern,
	now time.Time,
) []StoredGrant {
	var out []StoredGrant
	for _, g := range snap.Grants {
		if !g.Active(now) || !e.registry.grantUsable(g.Grant) {
			continue
		}
		if g.Subject.Kind() == SubjectInvalid || g.Resource.Kind() == ResourceInvalid {
			e.logger.Warn("skipping malformed grant", "grant_id", g.ID)
			continue
		}
		ok, err := e.subjectMatches(snap, g, sub, now)
		if err != nil {
			e.logger.Warn("skipping grant with unresolvable subject", "grant_id", g.ID, "error", err)
			continue
		}
		if !ok || !g.Resource.Covers(requested) {
			continue
		}
		out = append(out, g)
	}
	return out
}

func (e *Engine) subjectMatches(snap *Snapshot, g StoredGrant, sub ResolvedSubject, now time.Time) (bool, error) {
	if g.Subject.Kind() != SubjectGroup {
		return g.Subject.Matches(sub), nil
	}
	group, ok := snap.Groups[g.Subject.Group]
	if !ok {
		return false, fmt.Errorf("%w: group %d", ErrGroupNotFound, g.Subject.Group)
	}
	if !group.Active(now) {
		return false, nil
	}
	return group.Membership.Contains(sub), nil
}

// decide applies the cascade to one (resource, permission) cell. A positive
// grant wins unless a negation exists at the same or a more specific rank;
// same-rank conflicts resolve to deny. It returns the IDs of the positive
// grants that produced the allow.
func decide(applicable []StoredGrant, perm Permission) (bool, []int64) {
	maxNegated := -1
	for _, g := range applicable {
		if g.Permission == perm && g.Negated {
			if r := g.Resource.rank(); r > maxNegated {
				maxNegated = r
			}
		}
	}

	var matched []int64
	for _, g := range applicable {
		if g.Permission == perm && !g.Negated && g.Resource.rank() > maxNegated {
			matched = append(matched, g.ID)
		}
	}
	return len(matched) > 0, matched
}

func (e *Engine) logDecision(
	ctx context.Context,
	sub ResolvedSubject,
	resources []ResourcePattern,
	permissions []Permission,
	result [][]bool,
	matched []int64,
) {
	if e.decisions == nil {
		return
	}
	e.decisions.LogEvaluation(ctx, EvaluationRecord{
		Subject:         sub,
		Resources:       resources,
		Permissions:     permissions,
		Decision:        result,
		MatchedGrantIDs: matched,
		SuperUser:       e.isSuperUser(sub),
	})
}

func (e *Engine) logPermissions(
	ctx context.Context,
	sub ResolvedSubject,
	resources []ResourcePattern,
	result [][]Permission,
	matched []int64,
) {
	if e.decisions == nil {
		return
	}
	e.decisions.LogEvaluation(ctx, EvaluationRecord{
		Subject:         sub,
		Resources:       resources,
		Held:            result,
		MatchedGrantIDs: matched,
		SuperUser:       e.isSuperUser(sub),
	})
}
