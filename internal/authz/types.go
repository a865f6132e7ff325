// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

// Package authz holds the policy core of the authorization service: the
// grant/group data model, pattern matching over the hierarchical resource
// space, and the evaluation engine.
package authz

import (
	"encoding/json"
	"time"
)

// ResolvedSubject is the caller identity after token verification: either
// anonymous, or the (iss, sub, azp) triple plus the full verified claim map.
type ResolvedSubject struct {
	Anonymous bool
	Issuer    string
	Subject   string
	ClientID  string
	Claims    map[string]any
}

// Anonymous is the resolved subject of a caller with no verified token.
var Anonymous = ResolvedSubject{Anonymous: true}

// ResolveSubject maps a verified claim set to a ResolvedSubject. A nil
// claim map yields the anonymous subject. This is a pure mapping; it does
// no I/O and no validation beyond claim extraction.
func ResolveSubject(claims map[string]any) ResolvedSubject {
	if claims == nil {
		return Anonymous
	}
	sub := ResolvedSubject{Claims: claims}
	sub.Issuer, _ = claims["iss"].(string)
	sub.Subject, _ = claims["sub"].(string)
	sub.ClientID, _ = claims["azp"].(string)
	return sub
}

// Grant ties a subject pattern to a permission on a resource pattern.
// Grants are immutable after creation, apart from deletion. A negated grant
// is an explicit denial that overrides less-specific positive grants.
type Grant struct {
	Subject    SubjectPattern  `json:"subject"`
	Resource   ResourcePattern `json:"resource"`
	Permission Permission      `json:"permission"`
	Extra      json.RawMessage `json:"extra"`
	Created    time.Time       `json:"created"`
	Expiry     *time.Time      `json:"expiry"`
	Negated    bool            `json:"negated"`
}

// StoredGrant is a Grant with its store-assigned ID.
type StoredGrant struct {
	ID int64 `json:"id"`
	Grant
}

// Active reports whether the grant participates in evaluation at the given
// instant: created <= now < expiry, half-open, nil expiry unbounded.
func (g Grant) Active(now time.Time) bool {
	if now.Before(g.Created) {
		return false
	}
	return g.Expiry == nil || now.Before(*g.Expiry)
}

// Group is a named, reusable subject pattern: a member list or a claim
// expression. Unlike grants, groups may be renamed and have their
// membership replaced.
type Group struct {
	Name       string          `json:"name"`
	Membership Membership      `json:"membership"`
	Extra      json.RawMessage `json:"extra"`
	Created    time.Time       `json:"created"`
	Expiry     *time.Time      `json:"expiry"`
}

// StoredGroup is a Group with its store-assigned ID.
type StoredGroup struct {
	ID int64 `json:"id"`
	Group
}

// Active reports whether the group is visible to evaluation at the given
// instant. Expired groups never match, but are retained until deleted.
func (g Group) Active(now time.Time) bool {
	if now.Before(g.Created) {
		return false
	}
	return g.Expiry == nil || now.Before(*g.Expiry)
}

// Snapshot is one read-consistent view of the store used for a single
// evaluation: all grants plus all groups keyed by ID.
type Snapshot struct {
	Grants []StoredGrant
	Groups map[int64]StoredGroup
}
