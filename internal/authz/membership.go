// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

package authz

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Membership defines who belongs to a group: either an explicit member
// list or a boolean expression over token claims. Exactly one of the two
// must be set.
type Membership struct {
	Members []GroupMember   `json:"members,omitempty"`
	Expr    *MembershipExpr `json:"expr,omitempty"`
}

// GroupMember is one entry of a list membership: an issuer+client+subject
// triple or an issuer+subject pair.
type GroupMember struct {
	Issuer   string `json:"iss"`
	ClientID string `json:"azp,omitempty"`
	Subject  string `json:"sub"`
}

func (m GroupMember) validate() error {
	if m.Issuer == "" || m.Subject == "" {
		return fmt.Errorf("%w: member needs iss and sub", ErrInvalidMembership)
	}
	return nil
}

func (m GroupMember) matches(sub ResolvedSubject) bool {
	if sub.Anonymous || m.Issuer != sub.Issuer || m.Subject != sub.Subject {
		return false
	}
	return m.ClientID == "" || m.ClientID == sub.ClientID
}

// Validate checks that exactly one membership variant is present and that
// it is internally well formed.
func (m Membership) Validate() error {
	if (m.Members == nil) == (m.Expr == nil) {
		return fmt.Errorf("%w: exactly one of members or expr", ErrInvalidMembership)
	}
	for _, mem := range m.Members {
		if err := mem.validate(); err != nil {
			return err
		}
	}
	if m.Expr != nil {
		return m.Expr.Validate()
	}
	return nil
}

// Contains evaluates the membership against a resolved subject.
func (m Membership) Contains(sub ResolvedSubject) bool {
	if m.Expr != nil {
		return m.Expr.Eval(sub.Claims)
	}
	for _, mem := range m.Members {
		if mem.matches(sub) {
			return true
		}
	}
	return false
}

// UnmarshalJSON decodes a membership document, rejecting unknown fields.
func (m *Membership) UnmarshalJSON(data []byte) error {
	type plain Membership
	var p plain
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMembership, err)
	}
	*m = Membership(p)
	return m.Validate()
}

// Membership expression operators.
const (
	OpEq       = "eq"
	OpNe       = "ne"
	OpIn       = "in"
	OpContains = "contains"
)

// MembershipExpr is one node of a claim-expression tree. Internal nodes set
// exactly one of And, Or or Not; leaves set Claim and Op (Value may be any
// JSON value, including null).
type MembershipExpr struct {
	And []MembershipExpr `json:"and,omitempty"`
	Or  []MembershipExpr `json:"or,omitempty"`
	Not *MembershipExpr  `json:"not,omitempty"`

	Claim string `json:"claim,omitempty"`
	Op    string `json:"op,omitempty"`
	Value any    `json:"value,omitempty"`
}

// Validate checks the node shape recursively.
func (e MembershipExpr) Validate() error {
	set := 0
	if e.And != nil {
		set++
	}
	if e.Or != nil {
		set++
	}
	if e.Not != nil {
		set++
	}
	isLeaf := e.Claim != "" || e.Op != ""

	switch {
	case set > 1, set == 1 && isLeaf:
		return fmt.Errorf("%w: ambiguous expression node", ErrInvalidMembership)
	case set == 0 && !isLeaf:
		return fmt.Errorf("%w: empty expression node", ErrInvalidMembership)
	case set == 0:
		if e.Claim == "" {
			return fmt.Errorf("%w: leaf is missing claim", ErrInvalidMembership)
		}
		switch e.Op {
		case OpEq, OpNe, OpIn, OpContains:
			return nil
		default:
			return fmt.Errorf("%w: unknown operator %q", ErrInvalidMembership, e.Op)
		}
	}

	for _, c := range e.And {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	for _, c := range e.Or {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	if e.Not != nil {
		return e.Not.Validate()
	}
	return nil
}

// Eval evaluates the expression against a claim map. Evaluation
// short-circuits; missing claims make leaf predicates false, never errors,
// so an anonymous caller (nil claims) simply fails every leaf.
func (e MembershipExpr) Eval(claims map[string]any) bool {
	switch {
	case e.And != nil:
		for _, c := range e.And {
			if !c.Eval(claims) {
				return false
			}
		}
		return true
	case e.Or != nil:
		for _, c := range e.Or {
			if c.Eval(claims) {
				return true
			}
		}
		return false
	case e.Not != nil:
		return !e.Not.Eval(claims)
	default:
		return e.evalLeaf(claims)
	}
}

func (e MembershipExpr) evalLeaf(claims map[string]any) bool {
	v, ok := lookupClaim(claims, e.Claim)
	if !ok {
		return false
	}
	switch e.Op {
	case OpEq:
		return jsonEqual(v, e.Value)
	case OpNe:
		return !jsonEqual(v, e.Value)
	case OpIn:
		// The claim value must appear in the expression's array value.
		arr, ok := e.Value.([]any)
		if !ok {
			return false
		}
		for _, item := range arr {
			if jsonEqual(v, item) {
				return true
			}
		}
		return false
	case OpContains:
		return claimContains(v, e.Value)
	default:
		return false
	}
}

// lookupClaim resolves a dotted path ("realm_access.roles") through nested
// claim objects.
func lookupClaim(claims map[string]any, path string) (any, bool) {
	if claims == nil || path == "" {
		return nil, false
	}
	cur := any(claims)
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// claimContains handles arrays (element membership) and strings (substring).
func claimContains(claim, value any) bool {
	switch c := claim.(type) {
	case []any:
		for _, item := range c {
			if jsonEqual(item, value) {
				return true
			}
		}
		return false
	case string:
		s, ok := value.(string)
		return ok && strings.Contains(c, s)
	default:
		return false
	}
}

// jsonEqual compares two decoded JSON values, normalizing numbers so that
// an int-typed value compares equal to its float64 decoding.
func jsonEqual(a, b any) bool {
	if na, ok := toFloat(a); ok {
		nb, ok := toFloat(b)
		return ok && na == nb
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
