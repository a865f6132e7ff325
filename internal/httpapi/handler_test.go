// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bento-platform/bento-authz/internal/authz"
	"github.com/bento-platform/bento-authz/internal/idp"
	"github.com/bento-platform/bento-authz/internal/service"
)

const testServiceURL = "https://bentov2.local/api/authorization"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestHandler builds a Handler over fake services, with metrics and the
// readiness probe left out. Tests that care about those wire them in
// explicitly.
func newTestHandler(svcs *service.Services) *Handler {
	return New(
		svcs,
		authz.DefaultRegistry(),
		idp.NewInsecureVerifier(quietLogger()),
		nil,
		nil,
		Config{ServiceURL: testServiceURL, RequestTimeout: 5 * time.Second},
		quietLogger(),
	)
}

// do invokes a single handler func directly, without the router.
func do(h http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

// doID is do with the {id} path value set, as the mux would set it.
func doID(h http.HandlerFunc, method, target, id, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.SetPathValue("id", id)
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

// errorCode decodes the error envelope and returns its code.
func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope), "body: %s", rec.Body.String())
	require.NotEmpty(t, envelope.Error.Message)
	return envelope.Error.Code
}

// fakePolicy answers with canned results and records what it was asked.
type fakePolicy struct {
	matrix   [][]bool
	one      bool
	perms    [][]authz.Permission
	permsMap []map[authz.Permission]bool
	err      error

	gotTokenData   map[string]any
	gotResources   []authz.ResourcePattern
	gotPermissions []authz.Permission
}

var _ service.Policy = (*fakePolicy)(nil)

func (f *fakePolicy) Evaluate(_ context.Context, tokenData map[string]any, resources []authz.ResourcePattern, permissions []authz.Permission) ([][]bool, error) {
	f.gotTokenData, f.gotResources, f.gotPermissions = tokenData, resources, permissions
	if f.err != nil {
		return nil, f.err
	}
	return f.matrix, nil
}

func (f *fakePolicy) EvaluateOne(_ context.Context, tokenData map[string]any, resource authz.ResourcePattern, permission authz.Permission) (bool, error) {
	f.gotTokenData = tokenData
	f.gotResources = []authz.ResourcePattern{resource}
	f.gotPermissions = []authz.Permission{permission}
	if f.err != nil {
		return false, f.err
	}
	return f.one, nil
}

func (f *fakePolicy) Permissions(_ context.Context, tokenData map[string]any, resources []authz.ResourcePattern) ([][]authz.Permission, error) {
	f.gotTokenData, f.gotResources = tokenData, resources
	if f.err != nil {
		return nil, f.err
	}
	return f.perms, nil
}

func (f *fakePolicy) PermissionsMap(_ context.Context, tokenData map[string]any, resources []authz.ResourcePattern) ([]map[authz.Permission]bool, error) {
	f.gotTokenData, f.gotResources = tokenData, resources
	if f.err != nil {
		return nil, f.err
	}
	return f.permsMap, nil
}

// fakeGrants answers with canned results and records writes.
type fakeGrants struct {
	grants []authz.StoredGrant
	grant  authz.StoredGrant
	err    error

	created   *authz.Grant
	deletedID int64
}

var _ service.Grants = (*fakeGrants)(nil)

func (f *fakeGrants) ListGrants(context.Context) ([]authz.StoredGrant, error) {
	return f.grants, f.err
}

func (f *fakeGrants) GetGrant(context.Context, int64) (authz.StoredGrant, error) {
	if f.err != nil {
		return authz.StoredGrant{}, f.err
	}
	return f.grant, nil
}

func (f *fakeGrants) CreateGrant(_ context.Context, g authz.Grant) (authz.StoredGrant, error) {
	if f.err != nil {
		return authz.StoredGrant{}, f.err
	}
	f.created = &g
	return authz.StoredGrant{ID: 1, Grant: g}, nil
}

func (f *fakeGrants) DeleteGrant(_ context.Context, id int64) error {
	if f.err != nil {
		return f.err
	}
	f.deletedID = id
	return nil
}

// fakeGroups answers with canned results and records writes.
type fakeGroups struct {
	groups []authz.StoredGroup
	group  authz.StoredGroup
	err    error

	created   *authz.Group
	updatedID int64
	updated   *authz.Group
	deletedID int64
}

var _ service.Groups = (*fakeGroups)(nil)

func (f *fakeGroups) ListGroups(context.Context) ([]authz.StoredGroup, error) {
	return f.groups, f.err
}

func (f *fakeGroups) GetGroup(context.Context, int64) (authz.StoredGroup, error) {
	if f.err != nil {
		return authz.StoredGroup{}, f.err
	}
	return f.group, nil
}

func (f *fakeGroups) CreateGroup(_ context.Context, g authz.Group) (authz.StoredGroup, error) {
	if f.err != nil {
		return authz.StoredGroup{}, f.err
	}
	f.created = &g
	return authz.StoredGroup{ID: 1, Group: g}, nil
}

func (f *fakeGroups) UpdateGroup(_ context.Context, id int64, g authz.Group) (authz.StoredGroup, error) {
	if f.err != nil {
		return authz.StoredGroup{}, f.err
	}
	f.updatedID, f.updated = id, &g
	return authz.StoredGroup{ID: id, Group: g}, nil
}

func (f *fakeGroups) DeleteGroup(_ context.Context, id int64) error {
	if f.err != nil {
		return f.err
	}
	f.deletedID = id
	return nil
}

func (f *fakeGroups) DeleteGroupAndDependentGrants(_ context.Context, id int64) error {
	if f.err != nil {
		return f.err
	}
	f.deletedID = id
	return nil
}
