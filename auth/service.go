package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/GoCodeAlone/tenancy/store"
	"github.com/GoCodeAlone/tenancy/user"
)

var (
	// ErrInvalidCredentials is returned for an unknown email or a wrong
	// password.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrInactiveUser is returned when an inactive or suspended user signs in.
	ErrInactiveUser = errors.New("user account is not active")
)

// anyTenant matches sign-in lookups against users of every tenant.
const anyTenant int64 = 0

// Users is the part of the user manager the service uses.
type Users interface {
	Create(ctx context.Context, in user.CreateInput, target store.Target) (*store.User, *store.WriteResult, error)
	FindByID(ctx context.Context, id string, tenantID int64, b store.Backend) (*store.User, error)
	FindByEmail(ctx context.Context, email string, tenantID int64, b store.Backend) (*store.User, error)
	FindByGoogleID(ctx context.Context, googleID string, tenantID int64, b store.Backend) (*store.User, error)
	Update(ctx context.Context, id string, tenantID int64, p user.Patch, target store.Target) (*store.User, *store.WriteResult, error)
	UpdateLastLogin(ctx context.Context, id string, tenantID int64, target store.Target) (*store.User, *store.WriteResult, error)
}

// Session is a signed-in user and its token.
type Session struct {
	User  *store.User `json:"user"`
	Token string      `json:"token"`
}

// RegisterInput is a self-service sign-up. TenantID 0 means the default
// tenant.
type RegisterInput struct {
	TenantID int64  `json:"tenant_id,omitempty"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Service signs users in and up.
type Service struct {
	users   Users
	tokens  *TokenIssuer
	target  store.Target
	backend store.Backend
	logger  *slog.Logger
}

// NewService creates a new Service writing users to target. Lookups go to
// the user system of record for target.
func NewService(users Users, tokens *TokenIssuer, target store.Target, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:   users,
		tokens:  tokens,
		target:  target,
		backend: user.PrimaryBackend(target),
		logger:  logger,
	}
}

// Tokens returns the token issuer.
func (s *Service) Tokens() *TokenIssuer { return s.tokens }

// Login checks email and password against the main user records and stamps
// the user's last login.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email, err := user.NormalizeEmail(email)
	if err != nil || password == "" {
		return nil, ErrInvalidCredentials
	}
	u, err := s.users.FindByEmail(ctx, email, anyTenant, s.backend)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !user.ComparePassword(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	if u.Status != store.UserStatusActive {
		return nil, ErrInactiveUser
	}
	return s.signIn(ctx, u)
}

// Register creates a user with a password and signs it in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.Email) == "" || in.Password == "" {
		return nil, store.Validationf("name, email and password are required")
	}
	tenantID := in.TenantID
	if tenantID <= 0 {
		tenantID = store.DefaultTenantID
	}
	u, _, err := s.users.Create(ctx, user.CreateInput{
		TenantID: tenantID,
		Name:     in.Name,
		Email:    in.Email,
		Password: in.Password,
	}, s.target)
	if err != nil {
		return nil, err
	}
	s.logger.Info("user registered", "user_id", u.ID, "tenant_id", u.TenantID)
	return s.session(u)
}

// LinkGoogle signs in the user owning a Google profile. A user is matched by
// Google ID first, then by email, in which case the Google account is linked
// to it. Otherwise a verified user of the default tenant is created.
func (s *Service) LinkGoogle(ctx context.Context, p Profile) (*Session, error) {
	if p.ID == "" || p.Email() == "" {
		return nil, store.Validationf("google profile has no id or email")
	}

	u, err := s.users.FindByGoogleID(ctx, p.ID, anyTenant, s.backend)
	if err == nil {
		return s.signIn(ctx, u)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	u, err = s.users.FindByEmail(ctx, p.Email(), anyTenant, s.backend)
	switch {
	case err == nil:
		patch := user.Patch{GoogleID: &p.ID}
		if photo := p.Photo(); photo != "" {
			patch.Avatar = &photo
		}
		if u, _, err = s.users.Update(ctx, u.ID, u.TenantID, patch, s.target); err != nil {
			return nil, fmt.Errorf("link google account: %w", err)
		}
		s.logger.Info("google account linked", "user_id", u.ID, "tenant_id", u.TenantID)
	case errors.Is(err, store.ErrNotFound):
		name := p.DisplayName
		if name == "" {
			name = p.Email()
		}
		if u, _, err = s.users.Create(ctx, user.CreateInput{
			TenantID:      store.DefaultTenantID,
			Name:          name,
			Email:         p.Email(),
			GoogleID:      p.ID,
			Avatar:        p.Photo(),
			EmailVerified: true,
		}, s.target); err != nil {
			return nil, err
		}
		s.logger.Info("user created from google profile", "user_id", u.ID)
	default:
		return nil, err
	}
	return s.signIn(ctx, u)
}

// Authenticate verifies token and loads its user.
func (s *Service) Authenticate(ctx context.Context, token string) (*store.User, *Claims, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, nil, err
	}
	u, err := s.users.FindByID(ctx, claims.Subject, user.MainTenant(s.backend, claims.TenantID), s.backend)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: unknown user", ErrInvalidToken)
	}
	if err != nil {
		return nil, nil, err
	}
	if u.Status != store.UserStatusActive {
		return nil, nil, ErrInactiveUser
	}
	return u, claims, nil
}

func (s *Service) signIn(ctx context.Context, u *store.User) (*Session, error) {
	stamped, _, err := s.users.UpdateLastLogin(ctx, u.ID, u.TenantID, s.target)
	if err != nil {
		return nil, fmt.Errorf("record login: %w", err)
	}
	return s.session(stamped)
}

func (s *Service) session(u *store.User) (*Session, error) {
	token, err := s.tokens.Issue(u)
	if err != nil {
		return nil, err
	}
	return &Session{User: u, Token: token}, nil
}
