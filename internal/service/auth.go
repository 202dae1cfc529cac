// Package service contains the authentication boundary used by the console front end.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/csdesk/internal/crypto"
	"github.com/and161185/csdesk/internal/errs"
	"github.com/and161185/csdesk/internal/limiter"
	"github.com/and161185/csdesk/internal/model"
	"github.com/and161185/csdesk/internal/repository"
)

const tokenIssuer = "csdesk"

// AuthService defines registration, login and session operations.
type AuthService interface {
	// Register creates a new user with a fresh salt and returns its ID.
	Register(ctx context.Context, username, password string) (int64, error)
	// Login verifies credentials from source and issues a session.
	Login(ctx context.Context, username, password, source string) (model.Session, error)
	// LastRegisteredUsername returns the most recently registered username, if any.
	LastRegisteredUsername(ctx context.Context) (string, bool, error)
	// Authenticate validates a session token and returns its username.
	Authenticate(ctx context.Context, token string) (string, error)
}

// Policy bounds username and password lengths, counted in characters.
type Policy struct {
	MinUsername int
	MaxUsername int
	MinPassword int
}

// DefaultPolicy matches the console's registration form.
func DefaultPolicy() Policy {
	return Policy{MinUsername: 2, MaxUsername: 18, MinPassword: 6}
}

// Validate checks username (already trimmed) and password against the policy.
func (p Policy) Validate(username, password string) error {
	n := utf8.RuneCountInString(username)
	if n == 0 || n < p.MinUsername || (p.MaxUsername > 0 && n > p.MaxUsername) {
		return fmt.Errorf("%w: username must be %d-%d characters", errs.ErrInvalidInput, p.MinUsername, p.MaxUsername)
	}
	if utf8.RuneCountInString(password) < p.MinPassword {
		return fmt.Errorf("%w: password must be at least %d characters", errs.ErrInvalidInput, p.MinPassword)
	}
	return nil
}

// Option customizes AuthServiceImpl.
type Option func(*AuthServiceImpl)

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *AuthServiceImpl) {
		if l != nil {
			s.log = l
		}
	}
}

// WithPolicy replaces DefaultPolicy.
func WithPolicy(p Policy) Option {
	return func(s *AuthServiceImpl) { s.policy = p }
}

type AuthServiceImpl struct {
	users      repository.UserRepository
	signKey    []byte
	sessionTTL time.Duration
	lim        limiter.Limiter
	policy     Policy
	log        *zap.Logger
	now        func() time.Time
}

// NewAuthService constructs AuthService with required dependencies. A nil limiter never blocks.
func NewAuthService(users repository.UserRepository, signKey []byte, sessionTTL time.Duration, lim limiter.Limiter, opts ...Option) *AuthServiceImpl {
	if lim == nil {
		lim = limiter.Nop{}
	}
	s := &AuthServiceImpl{
		users:      users,
		signKey:    signKey,
		sessionTTL: sessionTTL,
		lim:        lim,
		policy:     DefaultPolicy(),
		log:        zap.NewNop(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register creates a new user record with a per-user salt.
func (s *AuthServiceImpl) Register(ctx context.Context, username, password string) (int64, error) {
	username = strings.TrimSpace(username)
	if err := s.policy.Validate(username, password); err != nil {
		return 0, err
	}

	salt, err := pkgcrypto.GenerateSalt()
	if err != nil {
		// random source exhausted: nothing sensible to do but fail the call
		s.log.Error("generate salt", zap.Error(err))
		return 0, fmt.Errorf("generate salt: %w", err)
	}
	u := &model.User{
		Username:     username,
		PasswordHash: pkgcrypto.HashPassword(password, salt),
		Salt:         salt,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, errs.ErrAlreadyExists) {
			s.log.Info("register: username taken", zap.String("username", username))
		} else {
			s.log.Error("register: create user", zap.String("username", username), zap.Error(err))
		}
		return 0, err
	}

	s.log.Info("user registered", zap.String("username", username), zap.Int64("id", u.ID))
	return u.ID, nil
}

// Login authenticates with rate limiting by (username, source).
// Unknown user and wrong password are reported as distinct errors; callers
// must render both with the same message.
func (s *AuthServiceImpl) Login(ctx context.Context, username, password, source string) (model.Session, error) {
	srcHash := limiter.HashSource(source)

	allowed, retry, err := s.lim.Allow(ctx, username, srcHash)
	if err != nil {
		s.log.Error("login: limiter", zap.Error(err))
		return model.Session{}, errs.Unavailable("login limiter", err)
	}
	if !allowed {
		s.log.Warn("login: rate limited", zap.String("username", username), zap.Duration("retry_after", retry))
		return model.Session{}, errs.ErrRateLimited
	}

	u, err := s.users.GetByUsername(ctx, username)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		s.recordFailure(ctx, username, srcHash)
		s.log.Info("login: unknown user", zap.String("username", username))
		return model.Session{}, errs.ErrNotFound
	case err != nil:
		s.log.Error("login: find user", zap.String("username", username), zap.Error(err))
		return model.Session{}, err
	}

	if !pkgcrypto.VerifyPassword(password, u.Salt, u.PasswordHash) {
		s.recordFailure(ctx, username, srcHash)
		s.log.Info("login: wrong password", zap.String("username", username))
		return model.Session{}, errs.ErrWrongPassword
	}

	// Success: reset counters (best-effort).
	if err := s.lim.Success(ctx, username, srcHash); err != nil {
		s.log.Warn("login: limiter reset", zap.Error(err))
	}

	token, exp, err := s.issueToken(u.Username)
	if err != nil {
		return model.Session{}, fmt.Errorf("issue session: %w", err)
	}
	s.log.Info("login ok", zap.String("username", u.Username))
	return model.Session{Username: u.Username, Token: token, ExpiresAt: exp}, nil
}

// recordFailure counts a failed attempt. A block applies from the next attempt on.
func (s *AuthServiceImpl) recordFailure(ctx context.Context, username string, srcHash []byte) {
	blocked, dur, err := s.lim.Failure(ctx, username, srcHash)
	if err != nil {
		s.log.Warn("login: limiter failure", zap.Error(err))
		return
	}
	if blocked {
		s.log.Warn("login: locked out", zap.String("username", username), zap.Duration("for", dur))
	}
}

// LastRegisteredUsername returns the most recently registered username.
// It is informational only and never used for access decisions.
func (s *AuthServiceImpl) LastRegisteredUsername(ctx context.Context) (string, bool, error) {
	name, err := s.users.LastUsername(ctx)
	switch {
	case err == nil:
		return name, true, nil
	case errors.Is(err, errs.ErrNotFound):
		return "", false, nil
	default:
		s.log.Error("last username", zap.Error(err))
		return "", false, err
	}
}

// issueToken creates a signed HS256 JWT for the given username.
func (s *AuthServiceImpl) issueToken(username string) (string, time.Time, error) {
	jti, err := uuid.NewV4()
	if err != nil {
		return "", time.Time{}, err
	}
	now := s.now()
	exp := now.Add(s.sessionTTL)
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   username,
		ID:        jti.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.signKey)
	return signed, exp, err
}

// Authenticate validates token and confirms its user is still registered.
func (s *AuthServiceImpl) Authenticate(ctx context.Context, token string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return s.signKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || claims.Subject == "" {
		return "", errs.ErrUnauthorized
	}

	ok, err := s.users.Exists(ctx, claims.Subject)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errs.ErrUnauthorized
	}
	return claims.Subject, nil
}
