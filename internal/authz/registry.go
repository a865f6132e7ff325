// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

package authz

import (
	"fmt"
	"sort"
	"strings"
)

// Permission is a "verb:noun" string drawn from the registry.
type Permission string

// Verb returns the part before the colon.
func (p Permission) Verb() string {
	verb, _, _ := strings.Cut(string(p), ":")
	return verb
}

// Noun returns the part after the colon.
func (p Permission) Noun() string {
	_, noun, _ := strings.Cut(string(p), ":")
	return noun
}

// The permission vocabulary. Data permissions apply to data inside the
// platform's data services; the query_boolean/query_counts tiers expose
// progressively less about the underlying records.
const (
	PermQueryData    Permission = "query:data"
	PermDownloadData Permission = "download:data"
	PermDeleteData   Permission = "delete:data"
	PermIngestData   Permission = "ingest:data"
	PermAnalyzeData  Permission = "analyze:data"
	PermExportData   Permission = "export:data"

	PermQueryProjectLevelBoolean Permission = "query_boolean:project"
	PermQueryProjectLevelCounts  Permission = "query_counts:project"
	PermQueryDatasetLevelBoolean Permission = "query_boolean:dataset"
	PermQueryDatasetLevelCounts  Permission = "query_counts:dataset"

	PermCreateProject Permission = "create:project"
	PermEditProject   Permission = "edit:project"
	PermDeleteProject Permission = "delete:project"

	PermCreateDataset Permission = "create:dataset"
	PermEditDataset   Permission = "edit:dataset"
	PermDeleteDataset Permission = "delete:dataset"

	PermViewPermissions   Permission = "view:permissions"
	PermEditPermissions   Permission = "edit:permissions"
	PermEditGroups        Permission = "edit:groups"
	PermViewPrivatePortal Permission = "view:private_portal"
)

// PermissionDefinition is one registry entry. MinSpecificity is the
// least-specific resource pattern the permission may be granted at
// (0=everything, 1=project, 2=dataset/data-type, 3=both); a grant whose
// resource specificity is below this floor is rejected at write time and
// skipped at evaluation. Gives lists permissions implied for display
// purposes; evaluation does not expand it.
type PermissionDefinition struct {
	Permission     Permission
	MinSpecificity int
	Gives          []Permission
}

// Registry is the fixed permission vocabulary, loaded at startup and
// immutable afterwards.
type Registry struct {
	defs  map[Permission]PermissionDefinition
	order []Permission
}

// DefaultRegistry builds the standard vocabulary. Dataset CRUD is
// project-or-narrower; everything else may be granted at any scope.
func DefaultRegistry() *Registry {
	defs := []PermissionDefinition{
		{Permission: PermQueryData, Gives: []Permission{
			PermQueryProjectLevelBoolean, PermQueryProjectLevelCounts,
			PermQueryDatasetLevelBoolean, PermQueryDatasetLevelCounts,
		}},
		{Permission: PermDownloadData},
		{Permission: PermDeleteData},
		{Permission: PermIngestData},
		{Permission: PermAnalyzeData},
		{Permission: PermExportData},

		{Permission: PermQueryProjectLevelBoolean},
		{Permission: PermQueryProjectLevelCounts},
		{Permission: PermQueryDatasetLevelBoolean},
		{Permission: PermQueryDatasetLevelCounts},

		{Permission: PermCreateProject},
		{Permission: PermEditProject},
		{Permission: PermDeleteProject},

		{Permission: PermCreateDataset, MinSpecificity: 1},
		{Permission: PermEditDataset, MinSpecificity: 1},
		{Permission: PermDeleteDataset, MinSpecificity: 1},

		{Permission: PermViewPermissions},
		{Permission: PermEditPermissions},
		{Permission: PermEditGroups},
		{Permission: PermViewPrivatePortal},
	}

	r := &Registry{defs: make(map[Permission]PermissionDefinition, len(defs))}
	for _, d := range defs {
		r.defs[d.Permission] = d
		r.order = append(r.order, d.Permission)
	}
	sort.Slice(r.order, func(i, j int) bool { return r.order[i] < r.order[j] })
	return r
}

// Get looks up a permission's definition.
func (r *Registry) Get(p Permission) (PermissionDefinition, bool) {
	d, ok := r.defs[p]
	return d, ok
}

// Contains reports whether the permission is registered.
func (r *Registry) Contains(p Permission) bool {
	_, ok := r.defs[p]
	return ok
}

// All returns every registered permission, sorted.
func (r *Registry) All() []Permission {
	out := make([]Permission, len(r.order))
	copy(out, r.order)
	return out
}

// ValidForResource returns the permissions that can be held on the
// requested resource: those whose minimum specificity does not exceed the
// request's. A permission that cannot be granted at or above the request's
// scope can never apply to it.
func (r *Registry) ValidForResource(res ResourcePattern) []Permission {
	spec := res.Specificity()
	var out []Permission
	for _, p := range r.order {
		if r.defs[p].MinSpecificity <= spec {
			out = append(out, p)
		}
	}
	return out
}

// CheckGrantable validates that a permission exists and that the resource
// pattern sits at or above the permission's minimum specificity.
func (r *Registry) CheckGrantable(p Permission, res ResourcePattern) error {
	def, ok := r.defs[p]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPermission, p)
	}
	if res.Specificity() < def.MinSpecificity {
		return fmt.Errorf("%w: %s on %s", ErrBelowMinimumScope, p, res)
	}
	return nil
}

// grantUsable is the defensive evaluation-time variant of CheckGrantable:
// grants that would be rejected at write time are simply invisible.
func (r *Registry) grantUsable(g Grant) bool {
	def, ok := r.defs[g.Permission]
	return ok && g.Resource.Specificity() >= def.MinSpecificity
}
