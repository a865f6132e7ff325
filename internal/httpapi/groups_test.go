// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bento-platform/bento-authz/internal/authz"
	"github.com/bento-platform/bento-authz/internal/service"
)

func TestListGroups(t *testing.T) {
	groups := &fakeGroups{groups: []authz.StoredGroup{
		{ID: 1, Group: authz.Group{Name: "clinicians", Membership: authz.Membership{
			Members: []authz.GroupMember{{Issuer: "https://idp.local/realms/bento", Subject: "alice"}},
		}}},
	}}
	h := newTestHandler(&service.Services{Groups: groups})

	rec := do(h.ListGroups, http.MethodGet, "/groups", "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got []authz.StoredGroup
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "clinicians", got[0].Name)
	require.Len(t, got[0].Membership.Members, 1)
	assert.Equal(t, "alice", got[0].Membership.Members[0].Subject)
}

func TestListGroups_Empty(t *testing.T) {
	h := newTestHandler(&service.Services{Groups: &fakeGroups{}})

	rec := do(h.ListGroups, http.MethodGet, "/groups", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String(), "empty list must be [], not null")
}

func TestGetGroup_NotFound(t *testing.T) {
	h := newTestHandler(&service.Services{Groups: &fakeGroups{err: service.ErrGroupNotFound}})

	rec := doID(h.GetGroup, http.MethodGet, "/groups/999", "999", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, service.CodeGroupNotFound, errorCode(t, rec))
}

func TestCreateGroup_MemberList(t *testing.T) {
	groups := &fakeGroups{}
	h := newTestHandler(&service.Services{Groups: groups})

	body := `{
		"name": "study-a-team",
		"membership": {"members": [
			{"iss": "https://idp.local/realms/bento", "sub": "alice"},
			{"iss": "https://idp.local/realms/bento", "azp": "web", "sub": "bob"}
		]}
	}`
	rec := do(h.CreateGroup, http.MethodPost, "/groups", body)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	require.NotNil(t, groups.created)
	assert.Equal(t, "study-a-team", groups.created.Name)
	require.Len(t, groups.created.Membership.Members, 2)
	assert.Equal(t, "web", groups.created.Membership.Members[1].ClientID)

	var got authz.StoredGroup
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, int64(1), got.ID)
}

func TestCreateGroup_Expression(t *testing.T) {
	groups := &fakeGroups{}
	h := newTestHandler(&service.Services{Groups: groups})

	body := `{
		"name": "hospital-x-users",
		"membership": {"expr": {"claim": "realm_access.roles", "op": "contains", "value": "hospital-x"}}
	}`
	rec := do(h.CreateGroup, http.MethodPost, "/groups", body)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotNil(t, groups.created)
	require.NotNil(t, groups.created.Membership.Expr)
	assert.Equal(t, authz.OpContains, groups.created.Membership.Expr.Op)
}

func TestCreateGroup_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "missing name",
			body: `{"membership": {"members": []}}`,
		},
		{
			name: "missing membership",
			body: `{"name": "nobody"}`,
		},
		{
			name: "both members and expr",
			body: `{"name": "both", "membership": {"members": [], "expr": {"claim": "sub", "op": "eq", "value": "x"}}}`,
		},
		{
			name: "unknown operator",
			body: `{"name": "bad-op", "membership": {"expr": {"claim": "sub", "op": "matches", "value": "x"}}}`,
		},
		{
			name: "member without issuer",
			body: `{"name": "bad-member", "membership": {"members": [{"sub": "alice"}]}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groups := &fakeGroups{}
			h := newTestHandler(&service.Services{Groups: groups})

			rec := do(h.CreateGroup, http.MethodPost, "/groups", tt.body)

			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
			assert.Equal(t, service.CodeInvalidInput, errorCode(t, rec))
			assert.Nil(t, groups.created, "service must not be called")
		})
	}
}

func TestCreateGroup_DuplicateName(t *testing.T) {
	h := newTestHandler(&service.Services{Groups: &fakeGroups{err: service.ErrGroupNameExists}})

	body := `{"name": "clinicians", "membership": {"members": []}}`
	rec := do(h.CreateGroup, http.MethodPost, "/groups", body)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, service.CodeGroupExists, errorCode(t, rec))
}

func TestUpdateGroup(t *testing.T) {
	groups := &fakeGroups{}
	h := newTestHandler(&service.Services{Groups: groups})

	body := `{
		"name": "clinicians-v2",
		"membership": {"members": [{"iss": "https://idp.local/realms/bento", "sub": "carol"}]}
	}`
	rec := doID(h.UpdateGroup, http.MethodPut, "/groups/4", "4", body)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, int64(4), groups.updatedID)
	require.NotNil(t, groups.updated)
	assert.Equal(t, "clinicians-v2", groups.updated.Name)

	var got authz.StoredGroup
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, int64(4), got.ID)
	assert.Equal(t, "clinicians-v2", got.Name)
}

func TestUpdateGroup_NotFound(t *testing.T) {
	h := newTestHandler(&service.Services{Groups: &fakeGroups{err: service.ErrGroupNotFound}})

	body := `{"name": "ghost", "membership": {"members": []}}`
	rec := doID(h.UpdateGroup, http.MethodPut, "/groups/999", "999", body)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, service.CodeGroupNotFound, errorCode(t, rec))
}

func TestDeleteGroup_CascadesDependentGrants(t *testing.T) {
	groups := &fakeGroups{}
	h := newTestHandler(&service.Services{Groups: groups})

	rec := doID(h.DeleteGroup, http.MethodDelete, "/groups/4", "4", "")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, int64(4), groups.deletedID)
}

func TestDeleteGroup_BadID(t *testing.T) {
	h := newTestHandler(&service.Services{Groups: &fakeGroups{}})

	rec := doID(h.DeleteGroup, http.MethodDelete, "/groups/four", "four", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, service.CodeInvalidInput, errorCode(t, rec))
}
