package service

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	pkgcrypto "github.com/and161185/csdesk/internal/crypto"
	"github.com/and161185/csdesk/internal/errs"
	"github.com/and161185/csdesk/internal/limiter"
	"github.com/and161185/csdesk/internal/model"
	"github.com/and161185/csdesk/internal/repository"
	"github.com/and161185/csdesk/internal/repository/sqlite"
)

type fakeUsers struct {
	byName map[string]*model.User
	nextID int64

	createErr error
	getErr    error
	lastErr   error
}

var _ repository.UserRepository = (*fakeUsers)(nil)

func (f *fakeUsers) Create(_ context.Context, u *model.User) error {
	if f.createErr != nil {
		return f.createErr
	}
	if f.byName == nil {
		f.byName = map[string]*model.User{}
	}
	if _, exists := f.byName[u.Username]; exists {
		return errs.ErrAlreadyExists
	}
	f.nextID++
	u.ID = f.nextID
	u.CreatedAt = time.Now()
	cpy := *u
	f.byName[u.Username] = &cpy
	return nil
}

func (f *fakeUsers) GetByUsername(_ context.Context, username string) (*model.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byName[username]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (f *fakeUsers) Exists(ctx context.Context, username string) (bool, error) {
	_, err := f.GetByUsername(ctx, username)
	if errors.Is(err, errs.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (f *fakeUsers) LastUsername(context.Context) (string, error) {
	if f.lastErr != nil {
		return "", f.lastErr
	}
	var best *model.User
	for _, u := range f.byName {
		if best == nil || u.ID > best.ID {
			best = u
		}
	}
	if best == nil {
		return "", errs.ErrNotFound
	}
	return best.Username, nil
}

type fakeLimiter struct {
	allowOK  bool
	allowErr error

	failBlocked bool
	failErr     error

	successErr error

	allowCalls   int
	failureCalls int
	successCalls int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(context.Context, string, []byte) (bool, time.Duration, error) {
	l.allowCalls++
	return l.allowOK, time.Minute, l.allowErr
}
func (l *fakeLimiter) Success(context.Context, string, []byte) error {
	l.successCalls++
	return l.successErr
}
func (l *fakeLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	l.failureCalls++
	return l.failBlocked, 0, l.failErr
}

func seedUser(t *testing.T, users *fakeUsers, name, password string) {
	t.Helper()
	salt, err := pkgcrypto.GenerateSalt()
	require.NoError(t, err)
	require.NoError(t, users.Create(context.Background(), &model.User{
		Username:     name,
		PasswordHash: pkgcrypto.HashPassword(password, salt),
		Salt:         salt,
	}))
}

func TestPolicy_Validate(t *testing.T) {
	t.Parallel()
	p := DefaultPolicy()

	require.NoError(t, p.Validate("al", "secret"))
	require.NoError(t, p.Validate("客服小王", "secret"))
	require.NoError(t, p.Validate(strings.Repeat("x", 18), "secret"))
	require.ErrorIs(t, p.Validate("", "secret"), errs.ErrInvalidInput)
	require.ErrorIs(t, p.Validate("a", "secret"), errs.ErrInvalidInput)
	require.ErrorIs(t, p.Validate(strings.Repeat("x", 19), "secret"), errs.ErrInvalidInput)
	require.ErrorIs(t, p.Validate("alice", "short"), errs.ErrInvalidInput)

	// zero policy accepts any non-empty username and any password
	require.NoError(t, Policy{}.Validate("a", ""))
}

func TestAuth_Register_Basics(t *testing.T) {
	t.Parallel()
	users := &fakeUsers{}
	s := NewAuthService(users, []byte("k"), time.Minute, &fakeLimiter{})
	ctx := context.Background()

	_, err := s.Register(ctx, "", "")
	require.ErrorIs(t, err, errs.ErrInvalidInput)

	id, err := s.Register(ctx, "  alice ", "secret1")
	require.NoError(t, err)
	require.Positive(t, id)

	stored := users.byName["alice"]
	require.NotNil(t, stored, "username must be trimmed")
	require.Len(t, stored.Salt, 32)
	require.Len(t, stored.PasswordHash, 64)
	require.NotContains(t, stored.PasswordHash, "secret1")
	require.True(t, pkgcrypto.VerifyPassword("secret1", stored.Salt, stored.PasswordHash))

	_, err = s.Register(ctx, "alice", "secret2")
	require.ErrorIs(t, err, errs.ErrAlreadyExists)
	require.Equal(t, stored.PasswordHash, users.byName["alice"].PasswordHash)

	users.createErr = errs.Unavailable("create user", errors.New("disk full"))
	_, err = s.Register(ctx, "bob", "secret1")
	require.ErrorIs(t, err, errs.ErrStoreUnavailable)
}

func TestAuth_Register_SaltsDifferForSamePassword(t *testing.T) {
	t.Parallel()
	users := &fakeUsers{}
	s := NewAuthService(users, []byte("k"), time.Minute, nil)
	ctx := context.Background()

	_, err := s.Register(ctx, "u1", "same-password")
	require.NoError(t, err)
	_, err = s.Register(ctx, "u2", "same-password")
	require.NoError(t, err)

	require.NotEqual(t, users.byName["u1"].Salt, users.byName["u2"].Salt)
	require.NotEqual(t, users.byName["u1"].PasswordHash, users.byName["u2"].PasswordHash)
}

func TestAuth_Login_RateLimiterAndCreds(t *testing.T) {
	t.Parallel()
	users := &fakeUsers{}
	seedUser(t, users, "alice", "correct")
	lim := &fakeLimiter{allowOK: true}
	s := NewAuthService(users, []byte("secret"), 2*time.Minute, lim)
	ctx := context.Background()

	lim.allowErr = errors.New("lim-err")
	_, err := s.Login(ctx, "alice", "correct", "desk-1")
	require.ErrorIs(t, err, errs.ErrStoreUnavailable)
	lim.allowErr = nil

	lim.allowOK = false
	_, err = s.Login(ctx, "alice", "correct", "desk-1")
	require.ErrorIs(t, err, errs.ErrRateLimited)
	lim.allowOK = true

	_, err = s.Login(ctx, "nope", "x", "desk-1")
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.Equal(t, 1, lim.failureCalls)

	_, err = s.Login(ctx, "alice", "wrong", "desk-1")
	require.ErrorIs(t, err, errs.ErrWrongPassword)
	require.Equal(t, 2, lim.failureCalls)

	// the attempt that trips the lock still reports its real outcome
	lim.failBlocked = true
	_, err = s.Login(ctx, "alice", "wrong", "desk-1")
	require.ErrorIs(t, err, errs.ErrWrongPassword)
	lim.failBlocked = false

	users.getErr = errs.Unavailable("find user", errors.New("io"))
	_, err = s.Login(ctx, "alice", "correct", "desk-1")
	require.ErrorIs(t, err, errs.ErrStoreUnavailable)
	require.Equal(t, 3, lim.failureCalls, "store failures are not counted as bad attempts")
	users.getErr = nil

	lim.successErr = errors.New("ignored")
	sess, err := s.Login(ctx, "alice", "correct", "desk-1")
	require.NoError(t, err)
	require.Equal(t, "alice", sess.Username)
	require.NotEmpty(t, sess.Token)
	require.True(t, sess.ExpiresAt.After(time.Now()))
	require.Equal(t, 1, lim.successCalls)
}

func TestAuth_Login_NeverLogsPassword(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zap.DebugLevel)
	users := &fakeUsers{}
	s := NewAuthService(users, []byte("k"), time.Minute, nil, WithLogger(zap.New(core)))
	ctx := context.Background()

	_, err := s.Register(ctx, "carol", "Secr3t!")
	require.NoError(t, err)
	_, err = s.Login(ctx, "carol", "Wr0ng!!", "desk")
	require.ErrorIs(t, err, errs.ErrWrongPassword)
	_, err = s.Login(ctx, "carol", "Secr3t!", "desk")
	require.NoError(t, err)

	require.NotZero(t, logs.Len())
	for _, e := range logs.All() {
		for _, v := range e.ContextMap() {
			str, _ := v.(string)
			require.NotContains(t, str, "Secr3t!")
			require.NotContains(t, str, "Wr0ng!!")
		}
	}
}

func TestAuth_Authenticate(t *testing.T) {
	t.Parallel()
	users := &fakeUsers{}
	seedUser(t, users, "dana", "password")
	s := NewAuthService(users, []byte("k"), time.Minute, nil)
	ctx := context.Background()

	sess, err := s.Login(ctx, "dana", "password", "")
	require.NoError(t, err)

	name, err := s.Authenticate(ctx, sess.Token)
	require.NoError(t, err)
	require.Equal(t, "dana", name)

	_, err = s.Authenticate(ctx, "garbage")
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	other := NewAuthService(users, []byte("other-key"), time.Minute, nil)
	_, err = other.Authenticate(ctx, sess.Token)
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	s.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = s.Authenticate(ctx, sess.Token)
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	s.now = time.Now

	delete(users.byName, "dana")
	_, err = s.Authenticate(ctx, sess.Token)
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestAuth_LastRegisteredUsername(t *testing.T) {
	t.Parallel()
	users := &fakeUsers{}
	s := NewAuthService(users, []byte("k"), time.Minute, nil)
	ctx := context.Background()

	_, ok, err := s.LastRegisteredUsername(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	seedUser(t, users, "u1", "pw")
	seedUser(t, users, "u2", "pw")
	name, ok, err := s.LastRegisteredUsername(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "u2", name)

	users.lastErr = errs.Unavailable("last username", errors.New("locked"))
	_, _, err = s.LastRegisteredUsername(ctx)
	require.ErrorIs(t, err, errs.ErrStoreUnavailable)
}

func TestAuth_EndToEnd_SQLite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := sqlite.NewStore()
	require.NoError(t, store.Open(ctx, filepath.Join(t.TempDir(), sqlite.FileName)))
	defer store.Close()

	lim := limiter.NewSQL(store.Conn(), limiter.DefaultWindow, 3, time.Minute)
	s := NewAuthService(sqlite.NewUserRepo(store), []byte("k"), time.Minute, lim)

	_, err := s.Register(ctx, "carol", "Secr3t!")
	require.NoError(t, err)

	_, err = s.Register(ctx, "carol", "another1")
	require.ErrorIs(t, err, errs.ErrAlreadyExists)

	sess, err := s.Login(ctx, "carol", "Secr3t!", "desk")
	require.NoError(t, err)
	require.Equal(t, "carol", sess.Username)

	_, err = s.Login(ctx, "carol", "wrong", "desk")
	require.ErrorIs(t, err, errs.ErrWrongPassword)

	_, err = s.Login(ctx, "dave", "anything", "desk")
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.Equal(t, errs.KindUserNotFound.PublicMessage(), errs.KindOf(errs.ErrWrongPassword).PublicMessage())

	name, ok, err := s.LastRegisteredUsername(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "carol", name)

	// with the failure above, two more lock carol out from this desk only
	for i := 0; i < 2; i++ {
		_, err = s.Login(ctx, "carol", "wrong", "desk")
		require.ErrorIs(t, err, errs.ErrWrongPassword)
	}
	_, err = s.Login(ctx, "carol", "Secr3t!", "desk")
	require.ErrorIs(t, err, errs.ErrRateLimited)
	_, err = s.Login(ctx, "carol", "Secr3t!", "other-desk")
	require.NoError(t, err)
}
