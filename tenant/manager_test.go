package tenant

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/tenancy/cache"
	"github.com/GoCodeAlone/tenancy/observability"
	"github.com/GoCodeAlone/tenancy/store"
)

func newTestManager(opts ...Option) (*Manager, *store.MemoryProvider, *store.MemoryProvider) {
	rel := store.NewMemoryProvider(store.BackendRelational)
	doc := store.NewMemoryProvider(store.BackendDocument)
	return NewManager(rel, doc, opts...), rel, doc
}

func TestNormalizeSubdomain(t *testing.T) {
	got, err := NormalizeSubdomain("  Acme-Corp ")
	require.NoError(t, err)
	assert.Equal(t, "acme-corp", got)

	for _, bad := range []string{"", "-acme", "acme_corp", "acme.corp"} {
		_, err := NormalizeSubdomain(bad)
		assert.ErrorIs(t, err, store.ErrValidation, bad)
	}
	assert.Equal(t, "tenant_acme", DatabaseName("acme"))
}

func TestManagerCreate(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager()

	created, res, err := m.Create(ctx, CreateInput{Name: "Acme", Subdomain: "acme"}, store.TargetBoth)
	require.NoError(t, err)
	assert.False(t, res.Degraded())
	assert.Equal(t, store.TenantStatusActive, created.Status)
	assert.Equal(t, "tenant_acme", created.DatabaseName)
	assert.NotNil(t, created.Settings)

	rel, err := m.FindBySubdomain(ctx, "acme", store.BackendRelational)
	require.NoError(t, err)
	doc, err := m.FindBySubdomain(ctx, "ACME", store.BackendDocument)
	require.NoError(t, err)
	assert.Equal(t, created.ID, rel.ID)
	assert.Equal(t, created.ID, doc.ID)
	assert.Equal(t, rel.CreatedAt, doc.CreatedAt)
}

func TestManagerCreateValidation(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager()

	cases := []CreateInput{
		{Name: "", Subdomain: "acme"},
		{Name: "Acme", Subdomain: "bad sub"},
		{Name: "Acme", Subdomain: "acme", Status: "deleted"},
	}
	for _, in := range cases {
		_, _, err := m.Create(ctx, in, store.TargetBoth)
		assert.ErrorIs(t, err, store.ErrValidation, "%+v", in)
	}
}

func TestManagerCreateDuplicateSubdomain(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager()

	_, _, err := m.Create(ctx, CreateInput{Name: "Acme", Subdomain: "acme"}, store.TargetBoth)
	require.NoError(t, err)

	_, res, err := m.Create(ctx, CreateInput{Name: "Other", Subdomain: "acme"}, store.TargetBoth)
	require.ErrorIs(t, err, store.ErrConflict)
	assert.Nil(t, res)

	n, err := m.Count(ctx, store.TenantFilter{}, store.BackendDocument)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestManagerCreateDegraded(t *testing.T) {
	ctx := context.Background()
	metrics := observability.NewMetrics()
	m, _, doc := newTestManager(WithMetrics(metrics))
	doc.FailScope(store.Global, errors.New("mongo unreachable"))

	created, res, err := m.Create(ctx, CreateInput{Name: "Acme", Subdomain: "acme"}, store.TargetBoth)
	require.NoError(t, err)
	assert.True(t, res.Degraded())
	assert.True(t, res.Succeeded(store.BackendRelational, store.Global))
	assert.False(t, res.Succeeded(store.BackendDocument, store.Global))
	assert.ErrorContains(t, res.Err(), "mongo unreachable")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DegradedWrites.WithLabelValues("tenant")))

	_, err = m.FindByID(ctx, created.ID, store.BackendRelational)
	require.NoError(t, err)
}

func TestManagerCreatePrimaryFailure(t *testing.T) {
	ctx := context.Background()
	m, rel, _ := newTestManager()
	rel.FailScope(store.Global, errors.New("postgres down"))

	_, _, err := m.Create(ctx, CreateInput{Name: "Acme", Subdomain: "acme"}, store.TargetDocument)
	require.NoError(t, err, "document-only writes do not touch the relational store")

	_, _, err = m.Create(ctx, CreateInput{Name: "Beta", Subdomain: "beta"}, store.TargetBoth)
	require.ErrorContains(t, err, "postgres down")

	_, err = m.FindBySubdomain(ctx, "beta", store.BackendDocument)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestManagerUpdate(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager()

	created, _, err := m.Create(ctx, CreateInput{
		Name: "Acme", Subdomain: "acme",
		Settings: store.Settings{"theme": "dark", "locale": "en"},
	}, store.TargetBoth)
	require.NoError(t, err)

	name := "Acme Inc"
	updated, _, err := m.Update(ctx, created.ID, Patch{
		Name:     &name,
		Settings: store.Settings{"locale": "de"},
	}, store.TargetBoth)
	require.NoError(t, err)
	assert.Equal(t, "Acme Inc", updated.Name)
	assert.Equal(t, store.Settings{"theme": "dark", "locale": "de"}, updated.Settings)
	assert.Equal(t, "acme", updated.Subdomain)

	doc, err := m.FindByID(ctx, created.ID, store.BackendDocument)
	require.NoError(t, err)
	assert.Equal(t, "Acme Inc", doc.Name)

	bad := store.TenantStatus("gone")
	_, _, err = m.Update(ctx, created.ID, Patch{Status: &bad}, store.TargetBoth)
	assert.ErrorIs(t, err, store.ErrValidation)

	_, _, err = m.Update(ctx, 999, Patch{Name: &name}, store.TargetBoth)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestManagerSuspendActivate(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager()

	created, _, err := m.Create(ctx, CreateInput{Name: "Acme", Subdomain: "acme"}, store.TargetBoth)
	require.NoError(t, err)

	suspended, _, err := m.Suspend(ctx, created.ID, "unpaid invoice", store.TargetBoth)
	require.NoError(t, err)
	assert.Equal(t, store.TenantStatusSuspended, suspended.Status)
	assert.Equal(t, "unpaid invoice", suspended.Settings[SettingSuspensionReason])
	assert.NotEmpty(t, suspended.Settings[SettingSuspendedAt])

	n, err := m.CountActive(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	active, _, err := m.Activate(ctx, created.ID, store.TargetBoth)
	require.NoError(t, err)
	assert.Equal(t, store.TenantStatusActive, active.Status)
	assert.NotContains(t, active.Settings, SettingSuspendedAt)
	assert.NotContains(t, active.Settings, SettingSuspensionReason)

	doc, err := m.FindByID(ctx, created.ID, store.BackendDocument)
	require.NoError(t, err)
	assert.Equal(t, store.TenantStatusActive, doc.Status)
}

func TestManagerDelete(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager()

	created, _, err := m.Create(ctx, CreateInput{Name: "Acme", Subdomain: "acme"}, store.TargetBoth)
	require.NoError(t, err)

	res, err := m.Delete(ctx, created.ID, store.TargetBoth)
	require.NoError(t, err)
	assert.False(t, res.Degraded())

	for _, b := range []store.Backend{store.BackendRelational, store.BackendDocument} {
		_, err := m.FindByID(ctx, created.ID, b)
		assert.ErrorIs(t, err, store.ErrNotFound, b)
	}

	_, err = m.Delete(ctx, created.ID, store.TargetBoth)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestManagerFindAll(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager()

	for _, sub := range []string{"a", "b", "c"} {
		_, _, err := m.Create(ctx, CreateInput{Name: sub, Subdomain: sub}, store.TargetRelational)
		require.NoError(t, err)
	}

	all, err := m.FindAll(ctx, store.TenantFilter{}, store.BackendRelational)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].Subdomain)

	page, err := m.FindAll(ctx, store.TenantFilter{Pagination: store.Pagination{Offset: 1, Limit: 1}}, store.BackendRelational)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].Subdomain)

	docs, err := m.FindAll(ctx, store.TenantFilter{}, store.BackendDocument)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestManagerWithoutDocumentStore(t *testing.T) {
	ctx := context.Background()
	m := NewManager(store.NewMemoryProvider(store.BackendRelational), nil)

	_, res, err := m.Create(ctx, CreateInput{Name: "Acme", Subdomain: "acme"}, store.TargetBoth)
	require.NoError(t, err)
	assert.True(t, res.Degraded())
	assert.ErrorIs(t, res.Err(), store.ErrUninitialized)
}

func TestManagerResolveUsesCache(t *testing.T) {
	ctx := context.Background()
	c := cache.NewLocal(cache.DefaultConfig())
	m, rel, _ := newTestManager(WithCache(c))

	created, _, err := m.Create(ctx, CreateInput{Name: "Acme", Subdomain: "acme"}, store.TargetBoth)
	require.NoError(t, err)

	got, err := m.Resolve(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, int64(1), c.Stats().Misses)

	// Served from the cache while the store is unavailable.
	rel.FailScope(store.Global, errors.New("postgres down"))
	got, err = m.Resolve(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, int64(1), c.Stats().Hits)
	rel.FailScope(store.Global, nil)

	_, _, err = m.Suspend(ctx, created.ID, "", store.TargetBoth)
	require.NoError(t, err)
	got, err = m.Resolve(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, store.TenantStatusSuspended, got.Status)

	_, err = m.Resolve(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestManagerResolveByID(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager()

	created, _, err := m.Create(ctx, CreateInput{Name: "Acme", Subdomain: "acme"}, store.TargetBoth)
	require.NoError(t, err)

	got, err := m.ResolveByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "acme", got.Subdomain)

	_, _, err = m.Suspend(ctx, created.ID, "unpaid", store.TargetBoth)
	require.NoError(t, err)
	got, err = m.ResolveByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, store.TenantStatusSuspended, got.Status)

	_, err = m.ResolveByID(ctx, 987654)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Without a relational store the document mirror answers.
	docOnly := NewManager(nil, store.NewMemoryProvider(store.BackendDocument))
	mirrored, _, err := docOnly.Create(ctx, CreateInput{Name: "Mirror", Subdomain: "mirror"}, store.TargetDocument)
	require.NoError(t, err)
	got, err = docOnly.ResolveByID(ctx, mirrored.ID)
	require.NoError(t, err)
	assert.Equal(t, "mirror", got.Subdomain)
}
