// Package identity handles account registration, password and federated
// login, bearer-token minting and verification, and auth rate limiting.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/simbridge-dev/simbridge-go/pkg/store"
)

// Identity errors.
var (
	ErrDuplicateUsername  = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRateLimited        = errors.New("too many attempts")
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrFederatedDisabled  = errors.New("federated login not configured")
	ErrInvalidConfig      = errors.New("invalid configuration")
)

// DefaultTokenTTL is how long minted bearer tokens stay valid.
const DefaultTokenTTL = 24 * time.Hour

// Config configures an identity Service.
type Config struct {
	// TokenSecret signs bearer tokens. Required.
	TokenSecret string

	// TokenTTL is the token lifetime (default: 24h).
	TokenTTL time.Duration

	// Verifier checks federated id tokens. If nil, federated login is
	// disabled and returns ErrFederatedDisabled.
	Verifier FederatedVerifier

	// Limiter throttles login attempts. If nil, a limiter with default
	// settings is created.
	Limiter *RateLimiter

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger
}

// Service implements registration and login against the store.
type Service struct {
	store    *store.Store
	secret   []byte
	tokenTTL time.Duration
	verifier FederatedVerifier
	limiter  *RateLimiter
	logger   *slog.Logger
}

// NewService creates an identity service. The token secret is required.
func NewService(st *store.Store, cfg Config) (*Service, error) {
	if cfg.TokenSecret == "" {
		return nil, fmt.Errorf("%w: token secret is required", ErrInvalidConfig)
	}
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NewRateLimiter(DefaultRateLimit, DefaultRateWindow)
	}

	return &Service{
		store:    st,
		secret:   []byte(cfg.TokenSecret),
		tokenTTL: cfg.TokenTTL,
		verifier: cfg.Verifier,
		limiter:  cfg.Limiter,
		logger:   cfg.Logger,
	}, nil
}

// Limiter exposes the rate limiter so other components (pairing confirm)
// share the same attempt budget.
func (s *Service) Limiter() *RateLimiter {
	return s.limiter
}

// Register creates a user with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, username, password string) (*store.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	hashStr := string(hash)
	u := &store.User{Username: username, PasswordHash: &hashStr}
	if err := s.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrDuplicateUsername
		}
		return nil, err
	}

	if s.logger != nil {
		s.logger.Info("user registered", "user_id", u.ID, "username", username)
	}

	return u, nil
}

// Login verifies a username/password pair and mints a token.
// Attempts are rate limited per username.
func (s *Service) Login(ctx context.Context, username, password string) (string, int64, error) {
	if !s.limiter.Allow(username) {
		return "", 0, ErrRateLimited
	}

	u, err := s.store.UserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", 0, ErrInvalidCredentials
		}
		return "", 0, err
	}

	if u.PasswordHash == nil {
		return "", 0, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(*u.PasswordHash), []byte(password)) != nil {
		return "", 0, ErrInvalidCredentials
	}

	token, err := s.MintToken(u.ID)
	if err != nil {
		return "", 0, err
	}

	return token, u.ID, nil
}

// FederatedLogin verifies an id token with the configured verifier and
// resolves it to a user: first by federated id, then by email (attaching
// the federated id), and finally by creating a new account.
func (s *Service) FederatedLogin(ctx context.Context, idToken string) (string, int64, error) {
	if s.verifier == nil {
		return "", 0, ErrFederatedDisabled
	}

	ident, err := s.verifier.Verify(ctx, idToken)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return "", 0, err
		}
		return "", 0, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	u, err := s.resolveFederated(ctx, ident)
	if err != nil {
		return "", 0, err
	}

	token, err := s.MintToken(u.ID)
	if err != nil {
		return "", 0, err
	}

	return token, u.ID, nil
}

func (s *Service) resolveFederated(ctx context.Context, ident *FederatedIdentity) (*store.User, error) {
	u, err := s.store.UserByFederatedID(ctx, ident.Subject)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if ident.Email != "" {
		u, err = s.store.UserByEmail(ctx, ident.Email)
		if err == nil {
			if err := s.store.AttachFederatedID(ctx, u.ID, ident.Subject); err != nil {
				return nil, err
			}
			u.FederatedID = &ident.Subject
			return u, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	username, err := s.deriveUsername(ctx, ident)
	if err != nil {
		return nil, err
	}

	u = &store.User{Username: username, FederatedID: &ident.Subject}
	if ident.Email != "" {
		u.Email = &ident.Email
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.Info("federated user created", "user_id", u.ID, "username", username)
	}

	return u, nil
}

// deriveUsername picks the email's local part (or a subject-derived stub)
// and appends 1, 2, ... until the name is free.
func (s *Service) deriveUsername(ctx context.Context, ident *FederatedIdentity) (string, error) {
	base := ""
	if ident.Email != "" {
		base = strings.SplitN(ident.Email, "@", 2)[0]
	}
	if base == "" {
		sub := ident.Subject
		if len(sub) > 8 {
			sub = sub[:8]
		}
		base = "fed_" + sub
	}

	username := base
	for counter := 1; ; counter++ {
		_, err := s.store.UserByUsername(ctx, username)
		if errors.Is(err, store.ErrNotFound) {
			return username, nil
		}
		if err != nil {
			return "", err
		}
		username = base + strconv.Itoa(counter)
	}
}
