// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

package authz

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SubjectKind discriminates the subject pattern variants.
type SubjectKind int

const (
	SubjectInvalid SubjectKind = iota
	SubjectAnonymous
	SubjectEveryone
	SubjectIssuerClientAndSubject
	SubjectIssuerAndClient
	SubjectIssuerAndSubject
	SubjectGroup
)

func (k SubjectKind) String() string {
	switch k {
	case SubjectAnonymous:
		return "anonymous"
	case SubjectEveryone:
		return "everyone"
	case SubjectIssuerClientAndSubject:
		return "issuer-client-subject"
	case SubjectIssuerAndClient:
		return "issuer-client"
	case SubjectIssuerAndSubject:
		return "issuer-subject"
	case SubjectGroup:
		return "group"
	default:
		return "invalid"
	}
}

// SubjectPattern describes which callers a grant applies to. As with
// ResourcePattern, the variant is derived from which fields are set.
type SubjectPattern struct {
	Anonymous bool   `json:"anonymous,omitempty"`
	Everyone  bool   `json:"everyone,omitempty"`
	Issuer    string `json:"iss,omitempty"`
	ClientID  string `json:"azp,omitempty"`
	Subject   string `json:"sub,omitempty"`
	Group     int64  `json:"group,omitempty"`
}

// EveryoneSubject matches all callers, anonymous included.
var EveryoneSubject = SubjectPattern{Everyone: true}

// AnonymousSubject matches callers with no verified token.
var AnonymousSubject = SubjectPattern{Anonymous: true}

// GroupSubject builds a pattern referencing the group with the given ID.
func GroupSubject(groupID int64) SubjectPattern {
	return SubjectPattern{Group: groupID}
}

// Kind returns the variant tag, or SubjectInvalid when the field combination
// does not describe a legal pattern.
func (s SubjectPattern) Kind() SubjectKind {
	hasIssuerFields := s.Issuer != "" || s.ClientID != "" || s.Subject != ""
	switch {
	case s.Anonymous:
		if s.Everyone || s.Group != 0 || hasIssuerFields {
			return SubjectInvalid
		}
		return SubjectAnonymous
	case s.Everyone:
		if s.Group != 0 || hasIssuerFields {
			return SubjectInvalid
		}
		return SubjectEveryone
	case s.Group != 0:
		if hasIssuerFields {
			return SubjectInvalid
		}
		return SubjectGroup
	case s.Issuer == "":
		return SubjectInvalid
	case s.ClientID != "" && s.Subject != "":
		return SubjectIssuerClientAndSubject
	case s.ClientID != "":
		return SubjectIssuerAndClient
	case s.Subject != "":
		return SubjectIssuerAndSubject
	default:
		return SubjectInvalid
	}
}

// Validate returns ErrInvalidSubjectPattern for shapes matching no variant.
func (s SubjectPattern) Validate() error {
	if s.Kind() == SubjectInvalid {
		return fmt.Errorf("%w: %s", ErrInvalidSubjectPattern, s)
	}
	return nil
}

// Matches reports whether the pattern applies to the resolved subject.
// Group patterns are not handled here; the engine expands them against the
// group snapshot (see Engine.subjectMatches).
func (s SubjectPattern) Matches(sub ResolvedSubject) bool {
	switch s.Kind() {
	case SubjectEveryone:
		return true
	case SubjectAnonymous:
		return sub.Anonymous
	case SubjectIssuerClientAndSubject:
		return !sub.Anonymous && s.Issuer == sub.Issuer && s.ClientID == sub.ClientID && s.Subject == sub.Subject
	case SubjectIssuerAndClient:
		return !sub.Anonymous && s.Issuer == sub.Issuer && s.ClientID == sub.ClientID
	case SubjectIssuerAndSubject:
		return !sub.Anonymous && s.Issuer == sub.Issuer && s.Subject == sub.Subject
	default:
		return false
	}
}

func (s SubjectPattern) String() string {
	b, err := json.Marshal(s)
	if err != nil {
		return "<subject>"
	}
	return string(b)
}

// UnmarshalJSON decodes a pattern document, rejecting unknown fields and
// field combinations that match no variant.
func (s *SubjectPattern) UnmarshalJSON(data []byte) error {
	type plain SubjectPattern
	var p plain
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSubjectPattern, err)
	}
	*s = SubjectPattern(p)
	return s.Validate()
}
