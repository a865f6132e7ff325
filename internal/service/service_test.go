// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/bento-platform/bento-authz/internal/authz"
	"github.com/bento-platform/bento-authz/internal/server/middleware/auth"
	"github.com/bento-platform/bento-authz/internal/storage/postgres"
)

const (
	testIssuer = "https://bentov2auth.local/realms/bentov2"
	testClient = "local_bentov2"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStore is an in-memory store honoring the postgres store's error
// contract. It also serves as the engine's snapshot source so the services
// under test authorize against the same data they manage.
type fakeStore struct {
	mu     sync.Mutex
	grants map[int64]authz.StoredGrant
	groups map[int64]authz.StoredGroup
	nextID int64
	err    error // when set, every operation fails with it
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		grants: make(map[int64]authz.StoredGrant),
		groups: make(map[int64]authz.StoredGroup),
	}
}

func (f *fakeStore) ListGrants(_ context.Context) ([]authz.StoredGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.sortedGrants(), nil
}

func (f *fakeStore) GetGrant(_ context.Context, id int64) (authz.StoredGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return authz.StoredGrant{}, f.err
	}
	g, ok := f.grants[id]
	if !ok {
		return authz.StoredGrant{}, postgres.ErrNotFound
	}
	return g, nil
}

func (f *fakeStore) CreateGrant(_ context.Context, g authz.Grant) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	if g.Subject.Kind() == authz.SubjectGroup {
		if _, ok := f.groups[g.Subject.Group]; !ok {
			return 0, postgres.ErrUnknownGroup
		}
	}
	for _, existing := range f.grants {
		if sameGrantPattern(existing.Grant, g) {
			return 0, postgres.ErrGrantExists
		}
	}
	f.nextID++
	f.grants[f.nextID] = authz.StoredGrant{ID: f.nextID, Grant: g}
	return f.nextID, nil
}

func (f *fakeStore) DeleteGrant(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if _, ok := f.grants[id]; !ok {
		return postgres.ErrNotFound
	}
	delete(f.grants, id)
	return nil
}

func (f *fakeStore) ListGroups(_ context.Context) ([]authz.StoredGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]authz.StoredGroup, 0, len(f.groups))
	for _, g := range f.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) GetGroup(_ context.Context, id int64) (authz.StoredGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return authz.StoredGroup{}, f.err
	}
	g, ok := f.groups[id]
	if !ok {
		return authz.StoredGroup{}, postgres.ErrNotFound
	}
	return g, nil
}

func (f *fakeStore) CreateGroup(_ context.Context, g authz.Group) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	for _, existing := range f.groups {
		if existing.Name == g.Name {
			return 0, postgres.ErrGroupExists
		}
	}
	f.nextID++
	f.groups[f.nextID] = authz.StoredGroup{ID: f.nextID, Group: g}
	return f.nextID, nil
}

func (f *fakeStore) UpdateGroup(_ context.Context, id int64, g authz.Group) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	current, ok := f.groups[id]
	if !ok {
		return postgres.ErrNotFound
	}
	for otherID, existing := range f.groups {
		if otherID != id && existing.Name == g.Name {
			return postgres.ErrGroupExists
		}
	}
	g.Created = current.Created
	f.groups[id] = authz.StoredGroup{ID: id, Group: g}
	return nil
}

func (f *fakeStore) DeleteGroup(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if _, ok := f.groups[id]; !ok {
		return postgres.ErrNotFound
	}
	for _, g := range f.grants {
		if g.Subject.Group == id {
			return postgres.ErrGroupReferenced
		}
	}
	delete(f.groups, id)
	return nil
}

func (f *fakeStore) DeleteGroupAndDependentGrants(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if _, ok := f.groups[id]; !ok {
		return postgres.ErrNotFound
	}
	for grantID, g := range f.grants {
		if g.Subject.Group == id {
			delete(f.grants, grantID)
		}
	}
	delete(f.groups, id)
	return nil
}

func (f *fakeStore) Snapshot(_ context.Context) (*authz.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	groups := make(map[int64]authz.StoredGroup, len(f.groups))
	for id, g := range f.groups {
		groups[id] = g
	}
	return &authz.Snapshot{Grants: f.sortedGrants(), Groups: groups}, nil
}

func (f *fakeStore) sortedGrants() []authz.StoredGrant {
	out := make([]authz.StoredGrant, 0, len(f.grants))
	for _, g := range f.grants {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sameGrantPattern(a, b authz.Grant) bool {
	if a.Subject != b.Subject || a.Resource != b.Resource || a.Permission != b.Permission {
		return false
	}
	if (a.Expiry == nil) != (b.Expiry == nil) {
		return false
	}
	return a.Expiry == nil || a.Expiry.Equal(*b.Expiry)
}

// newTestServices builds the authz-wrapped service set over the fake store.
func newTestServices(t *testing.T, f *fakeStore, superusers []authz.SuperUser) *Services {
	t.Helper()
	engine := authz.NewEngine(f, authz.DefaultRegistry(), superusers, nil, quietLogger())
	return NewServices(f, engine, quietLogger())
}

func userSubject(sub string) authz.ResolvedSubject {
	return authz.ResolveSubject(map[string]any{"iss": testIssuer, "azp": testClient, "sub": sub})
}

func ctxFor(sub authz.ResolvedSubject) context.Context {
	return auth.WithSubject(context.Background(), sub)
}

func userPattern(sub string) authz.SubjectPattern {
	return authz.SubjectPattern{Issuer: testIssuer, ClientID: testClient, Subject: sub}
}

// seedGrant inserts a grant directly into the fake store, bypassing service
// validation.
func seedGrant(t *testing.T, f *fakeStore, subject authz.SubjectPattern, resource authz.ResourcePattern, perm authz.Permission) int64 {
	t.Helper()
	id, err := f.CreateGrant(context.Background(), authz.Grant{
		Subject:    subject,
		Resource:   resource,
		Permission: perm,
		Created:    testNow.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("seeding grant: %v", err)
	}
	return id
}
