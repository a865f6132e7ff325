// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bento-platform/bento-authz/internal/authz"
)

// execute runs the root command with the given args and stdin, capturing
// stdout. Commands that reach the store are not exercised here; every case
// below fails or finishes before a connection is attempted.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	root := Command()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)

	err := root.Execute()
	return out.String(), err
}

func TestCommandTree(t *testing.T) {
	root := Command()
	assert.Equal(t, "bento-authz", root.Name())

	var names []string
	for _, sub := range root.Commands() {
		names = append(names, sub.Name())
	}
	for _, want := range []string{"list", "get", "create", "delete", "assign-all-to-user", "public-data-access"} {
		assert.Contains(t, names, want)
	}

	for _, flag := range []string{"config", "database-uri", "openid-config-url", "debug"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), "missing persistent flag %s", flag)
	}
}

func TestListPermissions(t *testing.T) {
	out, err := execute(t, "", "list", "permissions")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, len(authz.DefaultRegistry().All()))
	assert.Contains(t, lines, "query:data")
	assert.Contains(t, lines, "view:permissions")
	assert.Contains(t, lines, "edit:permissions")
}

func TestListUnknownEntity(t *testing.T) {
	_, err := execute(t, "", "list", "widgets")
	require.Error(t, err)
}

func TestGetRejectsBadArguments(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown entity", []string{"get", "widget", "5"}},
		{"non-integer ID", []string{"get", "grant", "abc"}},
		{"missing ID", []string{"get", "grant"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, "", tt.args...)
			require.Error(t, err)
		})
	}
}

func TestCreateGrantRejectsBadPatterns(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		contains string
	}{
		{
			"malformed subject JSON",
			[]string{"create", "grant", "{bad", `{"everything": true}`, "query:data"},
			"invalid subject",
		},
		{
			"issuer without subject",
			[]string{"create", "grant", `{"iss": "https://idp.local/realms/bento"}`, `{"everything": true}`, "query:data"},
			"invalid subject",
		},
		{
			"resource mixing everything and project",
			[]string{"create", "grant", `{"everyone": true}`, `{"everything": true, "project": "p1"}`, "query:data"},
			"invalid resource",
		},
		{
			"missing permissions",
			[]string{"create", "grant", `{"everyone": true}`, `{"everything": true}`},
			"",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, "", tt.args...)
			require.Error(t, err)
			if tt.contains != "" {
				assert.Contains(t, err.Error(), tt.contains)
			}
		})
	}
}

func TestCreateGroupRejectsBadMembership(t *testing.T) {
	_, err := execute(t, "", "create", "group", "clinicians", `{"members": [], "expr": []}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid membership")
}

func TestPublicDataAccessNone(t *testing.T) {
	out, err := execute(t, "", "public-data-access", "none")
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing to do; no access is the default state.")
}

func TestPublicDataAccessUnknownLevel(t *testing.T) {
	_, err := execute(t, "", "public-data-access", "everything")
	require.Error(t, err)
}

func TestPublicDataAccessFullDeclined(t *testing.T) {
	tests := []struct {
		name  string
		stdin string
	}{
		{"explicit no", "n\n"},
		{"empty line", "\n"},
		{"closed stdin", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.stdin, "public-data-access", "full")
			require.NoError(t, err)
			assert.Contains(t, out, "Are you sure you wish to give full data access permissions to everyone")
			assert.Contains(t, out, "Exiting without doing anything.")
		})
	}
}

func TestDataAccessPermissions(t *testing.T) {
	tests := []struct {
		level string
		want  []authz.Permission
	}{
		{"none", nil},
		{"bool", []authz.Permission{authz.PermQueryProjectLevelBoolean, authz.PermQueryDatasetLevelBoolean}},
		{"counts", []authz.Permission{authz.PermQueryProjectLevelCounts, authz.PermQueryDatasetLevelCounts}},
		{"full", []authz.Permission{authz.PermQueryData}},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.want, dataAccessPermissions(tt.level))
		})
	}
}

func TestEverythingGrantable(t *testing.T) {
	registry := authz.DefaultRegistry()
	grantable, skipped := everythingGrantable(registry)

	assert.Len(t, grantable, len(registry.All())-len(skipped))
	assert.Contains(t, grantable, authz.PermQueryData)
	assert.Contains(t, grantable, authz.PermEditPermissions)

	// Dataset CRUD needs a project-or-narrower resource.
	assert.ElementsMatch(t, skipped,
		[]authz.Permission{authz.PermCreateDataset, authz.PermEditDataset, authz.PermDeleteDataset})
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		name  string
		stdin string
		want  bool
	}{
		{"lowercase y", "y\n", true},
		{"yes", "yes\n", true},
		{"uppercase YES", "YES\n", true},
		{"padded yes", "  y  \n", true},
		{"no", "n\n", false},
		{"empty", "\n", false},
		{"eof", "", false},
		{"unrelated", "sure\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{}
			cmd.SetOut(io.Discard)
			cmd.SetIn(strings.NewReader(tt.stdin))

			got, err := confirm(cmd, "proceed? ")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNotesExtra(t *testing.T) {
	extra := notesExtra("public-data-access full")

	var doc map[string]string
	require.NoError(t, json.Unmarshal(extra, &doc))
	assert.Equal(t,
		"Generated by the bento-authz CLI as a result of `bento-authz public-data-access full`",
		doc["notes"])
}

func TestExtraFromNotes(t *testing.T) {
	cmd := createGrantCommand()

	extra, err := extraFromNotes(cmd)
	require.NoError(t, err)
	assert.Nil(t, extra, "no notes means no extra data")

	require.NoError(t, cmd.Flags().Set("notes", "temporary access for the demo"))
	extra, err = extraFromNotes(cmd)
	require.NoError(t, err)

	var doc map[string]string
	require.NoError(t, json.Unmarshal(extra, &doc))
	assert.Equal(t, "temporary access for the demo", doc["notes"])
}

func TestExpiryFlag(t *testing.T) {
	cmd := createGrantCommand()

	expiry, err := expiryFlag(cmd)
	require.NoError(t, err)
	assert.Nil(t, expiry, "no flag means no expiry")

	require.NoError(t, cmd.Flags().Set("expiry", "2030-01-02T15:04:05Z"))
	expiry, err = expiryFlag(cmd)
	require.NoError(t, err)
	require.NotNil(t, expiry)
	assert.Equal(t, 2030, expiry.Year())

	require.NoError(t, cmd.Flags().Set("expiry", "next tuesday"))
	_, err = expiryFlag(cmd)
	require.Error(t, err)
}
