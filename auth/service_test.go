package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/GoCodeAlone/tenancy/store"
	"github.com/GoCodeAlone/tenancy/user"
)

type serviceFixture struct {
	svc   *Service
	users *user.Manager
	doc   *store.MemoryProvider
	rel   *store.MemoryProvider
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	rel := store.NewMemoryProvider(store.BackendRelational)
	doc := store.NewMemoryProvider(store.BackendDocument)
	users := user.NewManager(rel, doc, user.WithBcryptCost(bcrypt.MinCost))
	return &serviceFixture{
		svc:   NewService(users, newIssuer(t), store.TargetBoth, nil),
		users: users,
		doc:   doc,
		rel:   rel,
	}
}

func (f *serviceFixture) create(t *testing.T, in user.CreateInput) *store.User {
	t.Helper()
	u, _, err := f.users.Create(context.Background(), in, store.TargetBoth)
	require.NoError(t, err)
	return u
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	u := f.create(t, user.CreateInput{TenantID: 5, Name: "John", Email: "john@acme.com", Password: "hunter22"})

	s, err := f.svc.Login(ctx, " John@Acme.com ", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, u.ID, s.User.ID)
	require.NotNil(t, s.User.LastLogin)

	c, err := f.svc.Tokens().Parse(s.Token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, c.Subject)
	assert.Equal(t, int64(5), c.TenantID)

	stored, err := f.users.FindByID(ctx, u.ID, store.DefaultTenantID, store.BackendDocument)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastLogin)
	tenantCopy, err := f.users.FindByID(ctx, u.ID, 5, store.BackendDocument)
	require.NoError(t, err)
	assert.NotNil(t, tenantCopy.LastLogin)
}

func TestLoginFailures(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	f.create(t, user.CreateInput{Name: "Jane", Email: "jane@acme.com", Password: "pw-jane"})
	f.create(t, user.CreateInput{Name: "Google", Email: "g@acme.com", GoogleID: "g-1"})
	f.create(t, user.CreateInput{Name: "Gone", Email: "gone@acme.com", Password: "pw-gone", Status: store.UserStatusSuspended})

	for name, tc := range map[string]struct {
		email, password string
		want            error
	}{
		"unknown email":  {"nobody@acme.com", "pw", ErrInvalidCredentials},
		"wrong password": {"jane@acme.com", "nope", ErrInvalidCredentials},
		"empty password": {"jane@acme.com", "", ErrInvalidCredentials},
		"bad email":      {"jane", "pw-jane", ErrInvalidCredentials},
		"no password":    {"g@acme.com", "", ErrInvalidCredentials},
		"suspended":      {"gone@acme.com", "pw-gone", ErrInactiveUser},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Login(ctx, tc.email, tc.password)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)

	s, err := f.svc.Register(ctx, RegisterInput{Name: "Ann", Email: "ann@example.com", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, store.DefaultTenantID, s.User.TenantID)
	assert.Equal(t, store.RoleUser, s.User.Role)
	assert.NotEmpty(t, s.Token)

	_, err = f.svc.Login(ctx, "ann@example.com", "pw")
	require.NoError(t, err)

	_, err = f.svc.Register(ctx, RegisterInput{Name: "Ann 2", Email: "ANN@example.com", Password: "pw"})
	assert.ErrorIs(t, err, store.ErrConflict)

	_, err = f.svc.Register(ctx, RegisterInput{Name: "No Password", Email: "np@example.com"})
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestLinkGoogle(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a verified default-tenant user", func(t *testing.T) {
		f := newServiceFixture(t)
		s, err := f.svc.LinkGoogle(ctx, Profile{
			ID: "g-42", DisplayName: "Grace", Emails: []string{"grace@gmail.com"}, Photos: []string{"https://img/g.png"},
		})
		require.NoError(t, err)
		assert.Equal(t, store.DefaultTenantID, s.User.TenantID)
		assert.Equal(t, "g-42", s.User.GoogleID)
		assert.Equal(t, "https://img/g.png", s.User.Avatar)
		assert.True(t, s.User.EmailVerified)
		assert.NotNil(t, s.User.LastLogin)

		again, err := f.svc.LinkGoogle(ctx, Profile{ID: "g-42", Emails: []string{"grace@gmail.com"}})
		require.NoError(t, err)
		assert.Equal(t, s.User.ID, again.User.ID)

		n, err := f.users.Count(ctx, 0, store.BackendDocument)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("links an existing user by email", func(t *testing.T) {
		f := newServiceFixture(t)
		u := f.create(t, user.CreateInput{TenantID: 5, Name: "John", Email: "john@acme.com", Password: "pw"})

		s, err := f.svc.LinkGoogle(ctx, Profile{ID: "g-7", Emails: []string{"john@acme.com"}, Photos: []string{"https://img/j.png"}})
		require.NoError(t, err)
		assert.Equal(t, u.ID, s.User.ID)
		assert.Equal(t, int64(5), s.User.TenantID)
		assert.Equal(t, "g-7", s.User.GoogleID)
		assert.Equal(t, "https://img/j.png", s.User.Avatar)

		mirror, err := f.users.FindByEmail(ctx, "john@acme.com", 5, store.BackendRelational)
		require.NoError(t, err)
		assert.Equal(t, "g-7", mirror.GoogleID)
	})

	t.Run("rejects incomplete profiles", func(t *testing.T) {
		f := newServiceFixture(t)
		_, err := f.svc.LinkGoogle(ctx, Profile{ID: "g-1"})
		assert.ErrorIs(t, err, store.ErrValidation)
	})
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	s, err := f.svc.Register(ctx, RegisterInput{TenantID: 5, Name: "Ann", Email: "ann@acme.com", Password: "pw"})
	require.NoError(t, err)

	u, c, err := f.svc.Authenticate(ctx, s.Token)
	require.NoError(t, err)
	assert.Equal(t, s.User.ID, u.ID)
	assert.Equal(t, int64(5), c.TenantID)

	_, _, err = f.svc.Authenticate(ctx, "garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = f.users.Delete(ctx, u.ID, 5, store.TargetBoth)
	require.NoError(t, err)
	_, _, err = f.svc.Authenticate(ctx, s.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestServiceRelationalOnly(t *testing.T) {
	ctx := context.Background()
	rel := store.NewMemoryProvider(store.BackendRelational)
	users := user.NewManager(rel, nil, user.WithBcryptCost(bcrypt.MinCost))
	svc := NewService(users, newIssuer(t), store.TargetRelational, nil)

	s, err := svc.Register(ctx, RegisterInput{Name: "Rel", Email: "rel@example.com", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "1", s.User.ID)

	s, err = svc.Login(ctx, "rel@example.com", "pw")
	require.NoError(t, err)
	u, _, err := svc.Authenticate(ctx, s.Token)
	require.NoError(t, err)
	assert.Equal(t, "rel@example.com", u.Email)
}
