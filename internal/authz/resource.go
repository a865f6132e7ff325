// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

package authz

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ResourceKind discriminates the resource pattern variants.
type ResourceKind int

const (
	ResourceInvalid ResourceKind = iota
	ResourceEverything
	ResourceProject
	ResourceProjectDataset
	ResourceProjectDataType
	ResourceProjectDatasetDataType
)

func (k ResourceKind) String() string {
	switch k {
	case ResourceEverything:
		return "everything"
	case ResourceProject:
		return "project"
	case ResourceProjectDataset:
		return "project-dataset"
	case ResourceProjectDataType:
		return "project-data-type"
	case ResourceProjectDatasetDataType:
		return "project-dataset-data-type"
	default:
		return "invalid"
	}
}

// ResourcePattern is a scoped description of what a grant applies to, at a
// point in the project -> dataset -> data-type hierarchy. The variant is
// determined by which fields are set; Kind derives the tag and Validate
// rejects shapes that do not correspond to any variant.
type ResourcePattern struct {
	Everything bool   `json:"everything,omitempty"`
	Project    string `json:"project,omitempty"`
	Dataset    string `json:"dataset,omitempty"`
	DataType   string `json:"data_type,omitempty"`
}

// EverythingResource is the broadest pattern; it covers every resource.
var EverythingResource = ResourcePattern{Everything: true}

// Kind returns the variant tag for the pattern, or ResourceInvalid when the
// field combination does not describe a legal pattern.
func (r ResourcePattern) Kind() ResourceKind {
	switch {
	case r.Everything:
		if r.Project != "" || r.Dataset != "" || r.DataType != "" {
			return ResourceInvalid
		}
		return ResourceEverything
	case r.Project == "":
		return ResourceInvalid
	case r.Dataset != "" && r.DataType != "":
		return ResourceProjectDatasetDataType
	case r.Dataset != "":
		return ResourceProjectDataset
	case r.DataType != "":
		return ResourceProjectDataType
	default:
		return ResourceProject
	}
}

// Validate returns ErrInvalidResourcePattern when the pattern is not one of
// the five legal variants.
func (r ResourcePattern) Validate() error {
	if r.Kind() == ResourceInvalid {
		return fmt.Errorf("%w: %s", ErrInvalidResourcePattern, r)
	}
	return nil
}

// Specificity is the documented height of the pattern in the cascade
// lattice: Everything=0, Project=1, ProjectDataset=2, ProjectDataType=2,
// ProjectDatasetDataType=3.
func (r ResourcePattern) Specificity() int {
	switch r.Kind() {
	case ResourceEverything:
		return 0
	case ResourceProject:
		return 1
	case ResourceProjectDataset, ResourceProjectDataType:
		return 2
	case ResourceProjectDatasetDataType:
		return 3
	default:
		return -1
	}
}

// rank orders patterns for cascade override purposes. It refines
// Specificity: dataset scope beats data-type scope at specificity 2, so the
// two level-2 variants get distinct ranks.
func (r ResourcePattern) rank() int {
	switch r.Kind() {
	case ResourceEverything:
		return 0
	case ResourceProject:
		return 1
	case ResourceProjectDataType:
		return 2
	case ResourceProjectDataset:
		return 3
	case ResourceProjectDatasetDataType:
		return 4
	default:
		return -1
	}
}

// Covers reports whether the pattern matches the requested resource under
// the cascade. A request of Everything matches only Everything patterns;
// otherwise each component set on the pattern must equal the request's.
func (r ResourcePattern) Covers(requested ResourcePattern) bool {
	if r.Kind() == ResourceEverything {
		return true
	}
	if requested.Kind() == ResourceEverything {
		return false
	}
	if r.Project != requested.Project {
		return false
	}
	if r.Dataset != "" && r.Dataset != requested.Dataset {
		return false
	}
	if r.DataType != "" && r.DataType != requested.DataType {
		return false
	}
	return true
}

func (r ResourcePattern) String() string {
	b, err := json.Marshal(r)
	if err != nil {
		return "<resource>"
	}
	return string(b)
}

// UnmarshalJSON decodes a pattern document, rejecting unknown fields and
// field combinations that match no variant.
func (r *ResourcePattern) UnmarshalJSON(data []byte) error {
	type plain ResourcePattern
	var p plain
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResourcePattern, err)
	}
	*r = ResourcePattern(p)
	return r.Validate()
}
