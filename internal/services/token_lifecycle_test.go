package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openlms/auth-service/internal/infrastructure/redis"
	"github.com/openlms/auth-service/internal/models"
	pkgerrors "github.com/openlms/auth-service/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory TokenStore with real expiry semantics, so the
// lifecycle tests exercise actual set/get/delete/scan behavior instead of
// scripted expectations.
type memStore struct {
	mu    sync.Mutex
	items map[string]memItem
}

type memItem struct {
	value     string
	expiresAt time.Time
}

func newMemStore() *memStore {
	return &memStore{items: map[string]memItem{}}
}

func (s *memStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[key]
	if !ok || time.Now().After(item.expiresAt) {
		delete(s.items, key)
		return "", redis.ErrKeyNotFound
	}
	return item.value, nil
}

func (s *memStore) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = memItem{value: value.(string), expiresAt: time.Now().Add(expiration)}
	return nil
}

func (s *memStore) Del(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[key]
	delete(s.items, key)
	return ok, nil
}

func (s *memStore) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	prefix := strings.TrimSuffix(pattern, "*")
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.items {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *memStore) Close() error { return nil }

// memDirectory is an in-memory UserRepository.
type memDirectory struct {
	mu     sync.Mutex
	nextID int32
	users  map[int32]*models.User
}

func newMemDirectory() *memDirectory {
	return &memDirectory{nextID: 1, users: map[int32]*models.User{}}
}

func (d *memDirectory) Create(ctx context.Context, user *models.User) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	user.ID = d.nextID
	d.nextID++
	user.CreatedAt = time.Now().UTC()
	user.UpdatedAt = user.CreatedAt
	cp := *user
	d.users[user.ID] = &cp
	return nil
}

func (d *memDirectory) GetByID(ctx context.Context, id int32) (*models.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return nil, pkgerrors.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (d *memDirectory) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range d.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, pkgerrors.ErrUserNotFound
}

func (d *memDirectory) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range d.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, pkgerrors.ErrUserNotFound
}

func (d *memDirectory) UpdatePassword(ctx context.Context, userID int32, passwordHash string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[userID]
	if !ok {
		return pkgerrors.ErrUserNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (d *memDirectory) SetVerified(ctx context.Context, userID int32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[userID]
	if !ok {
		return pkgerrors.ErrUserNotFound
	}
	u.IsVerified = true
	return nil
}

func (d *memDirectory) SetActive(ctx context.Context, userID int32, active bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[userID]
	if !ok {
		return pkgerrors.ErrUserNotFound
	}
	u.IsActive = active
	return nil
}

func (d *memDirectory) AssignRole(ctx context.Context, userID int32, role string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[userID]
	if !ok {
		return pkgerrors.ErrUserNotFound
	}
	for _, r := range u.Roles {
		if r == role {
			return nil
		}
	}
	u.Roles = append(u.Roles, role)
	return nil
}

func newTestService(t *testing.T, cfg Config) (*authService, *memDirectory, *memStore) {
	t.Helper()
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "test-secret"
	}
	dir := newMemDirectory()
	store := newMemStore()
	return NewAuthService(dir, store, nil, cfg), dir, store
}

func seedUser(t *testing.T, dir *memDirectory, username, email, password string, roles []string) *models.User {
	t.Helper()
	hash, err := hashPassword(password)
	require.NoError(t, err)
	user := &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
		Roles:        roles,
	}
	require.NoError(t, dir.Create(context.Background(), user))
	return user
}

func TestAccessTokenRoundTrip(t *testing.T) {
	svc, dir, _ := newTestService(t, Config{})
	user := seedUser(t, dir, "alice", "alice@example.com", "pass123", []string{"instructor", "student"})

	token, expiresAt, err := svc.IssueAccessToken(user)
	require.NoError(t, err)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, []string{"instructor", "student"}, claims.Roles)
	assert.WithinDuration(t, expiresAt, claims.ExpiresAt, time.Second)
}

func TestAccessTokenExpiry(t *testing.T) {
	svc, dir, _ := newTestService(t, Config{AccessTokenTTL: -time.Minute})
	user := seedUser(t, dir, "bob", "bob@example.com", "pass123", []string{"student"})

	token, _, err := svc.IssueAccessToken(user)
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(token)
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidToken)
}

func TestAccessTokenWrongSecret(t *testing.T) {
	issuer, dir, _ := newTestService(t, Config{JWTSecret: "secret-a"})
	validator, _, _ := newTestService(t, Config{JWTSecret: "secret-b"})
	user := seedUser(t, dir, "carol", "carol@example.com", "pass123", []string{"student"})

	token, _, err := issuer.IssueAccessToken(user)
	require.NoError(t, err)

	_, err = validator.ValidateAccessToken(token)
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidToken)

	_, err = validator.ValidateAccessToken("not-a-jwt")
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidToken)
}

func TestRefreshTokenLifecycle(t *testing.T) {
	svc, dir, _ := newTestService(t, Config{})
	user := seedUser(t, dir, "dave", "dave@example.com", "pass123", []string{"student"})
	ctx := context.Background()

	token, err := svc.IssueRefreshToken(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, token, 64)

	subject, err := svc.ValidateRefreshToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, subject)

	revoked, err := svc.Revoke(ctx, token)
	require.NoError(t, err)
	assert.True(t, revoked)

	// No resurrection: once deleted the token never validates again.
	_, err = svc.ValidateRefreshToken(ctx, token)
	assert.ErrorIs(t, err, pkgerrors.ErrTokenInvalidOrExpired)

	revoked, err = svc.Revoke(ctx, token)
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRefreshTokenTTLExpiry(t *testing.T) {
	svc, dir, _ := newTestService(t, Config{RefreshTokenTTL: -time.Second})
	user := seedUser(t, dir, "erin", "erin@example.com", "pass123", []string{"student"})
	ctx := context.Background()

	token, err := svc.IssueRefreshToken(ctx, user.ID)
	require.NoError(t, err)

	_, err = svc.ValidateRefreshToken(ctx, token)
	assert.ErrorIs(t, err, pkgerrors.ErrTokenInvalidOrExpired)
}

func TestRevokeAll(t *testing.T) {
	svc, dir, _ := newTestService(t, Config{})
	alice := seedUser(t, dir, "alice", "alice@example.com", "pass123", []string{"student"})
	bob := seedUser(t, dir, "bob", "bob@example.com", "pass123", []string{"student"})
	ctx := context.Background()

	var aliceTokens []string
	for i := 0; i < 3; i++ {
		token, err := svc.IssueRefreshToken(ctx, alice.ID)
		require.NoError(t, err)
		aliceTokens = append(aliceTokens, token)
	}
	bobToken, err := svc.IssueRefreshToken(ctx, bob.ID)
	require.NoError(t, err)

	count, err := svc.RevokeAll(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	for _, token := range aliceTokens {
		_, err := svc.ValidateRefreshToken(ctx, token)
		assert.ErrorIs(t, err, pkgerrors.ErrTokenInvalidOrExpired)
	}

	// Other subjects are untouched.
	subject, err := svc.ValidateRefreshToken(ctx, bobToken)
	require.NoError(t, err)
	assert.Equal(t, bob.ID, subject)
}

func TestRotate(t *testing.T) {
	svc, dir, _ := newTestService(t, Config{})
	user := seedUser(t, dir, "frank", "frank@example.com", "pass123", []string{"instructor"})
	ctx := context.Background()

	refreshToken, err := svc.IssueRefreshToken(ctx, user.ID)
	require.NoError(t, err)

	t.Run("active user gets a fresh access token", func(t *testing.T) {
		accessToken, expiresAt, err := svc.Rotate(ctx, refreshToken)
		require.NoError(t, err)
		assert.True(t, expiresAt.After(time.Now()))

		claims, err := svc.ValidateAccessToken(accessToken)
		require.NoError(t, err)
		assert.Equal(t, user.ID, claims.UserID)
		assert.Equal(t, []string{"instructor"}, claims.Roles)

		// The refresh token is reused, not reissued.
		subject, err := svc.ValidateRefreshToken(ctx, refreshToken)
		require.NoError(t, err)
		assert.Equal(t, user.ID, subject)
	})

	t.Run("inactive user fails and loses the refresh token", func(t *testing.T) {
		require.NoError(t, dir.SetActive(ctx, user.ID, false))

		_, _, err := svc.Rotate(ctx, refreshToken)
		assert.ErrorIs(t, err, pkgerrors.ErrInactiveAccount)

		_, err = svc.ValidateRefreshToken(ctx, refreshToken)
		assert.ErrorIs(t, err, pkgerrors.ErrTokenInvalidOrExpired)
	})

	t.Run("unknown token", func(t *testing.T) {
		_, _, err := svc.Rotate(ctx, "deadbeef")
		assert.ErrorIs(t, err, pkgerrors.ErrTokenInvalidOrExpired)
	})
}

// flakyDirectory fails GetByID a set number of times, then delegates.
type flakyDirectory struct {
	*memDirectory
	failures int
	err      error
}

func (d *flakyDirectory) GetByID(ctx context.Context, id int32) (*models.User, error) {
	if d.failures > 0 {
		d.failures--
		return nil, d.err
	}
	return d.memDirectory.GetByID(ctx, id)
}

func TestRotateSurvivesDirectoryOutage(t *testing.T) {
	dir := newMemDirectory()
	outage := errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")
	flaky := &flakyDirectory{memDirectory: dir, failures: 1, err: outage}
	svc := NewAuthService(flaky, newMemStore(), nil, Config{JWTSecret: "test-secret"})

	user := seedUser(t, dir, "judy", "judy@example.com", "pass123", []string{"student"})
	ctx := context.Background()

	refreshToken, err := svc.IssueRefreshToken(ctx, user.ID)
	require.NoError(t, err)

	// The outage propagates as-is and must not be mistaken for a dead token.
	_, _, err = svc.Rotate(ctx, refreshToken)
	assert.ErrorIs(t, err, outage)
	assert.NotErrorIs(t, err, pkgerrors.ErrTokenInvalidOrExpired)

	// The record survived; rotation works once the directory is back.
	subject, err := svc.ValidateRefreshToken(ctx, refreshToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, subject)

	_, _, err = svc.Rotate(ctx, refreshToken)
	assert.NoError(t, err)
}

func TestResetTokenExactlyOnce(t *testing.T) {
	svc, dir, _ := newTestService(t, Config{})
	user := seedUser(t, dir, "grace", "grace@example.com", "oldpass", []string{"student"})
	ctx := context.Background()

	refresh1, err := svc.IssueRefreshToken(ctx, user.ID)
	require.NoError(t, err)
	refresh2, err := svc.IssueRefreshToken(ctx, user.ID)
	require.NoError(t, err)

	resetToken, err := svc.CreateResetToken(ctx, "grace@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, resetToken)

	require.NoError(t, svc.ConsumeResetToken(ctx, resetToken, "newpass"))

	// Second consumption fails: the token died with the first use.
	err = svc.ConsumeResetToken(ctx, resetToken, "anotherpass")
	assert.ErrorIs(t, err, pkgerrors.ErrTokenInvalidOrExpired)

	// Reset revoked every refresh token the subject held.
	_, err = svc.ValidateRefreshToken(ctx, refresh1)
	assert.ErrorIs(t, err, pkgerrors.ErrTokenInvalidOrExpired)
	_, err = svc.ValidateRefreshToken(ctx, refresh2)
	assert.ErrorIs(t, err, pkgerrors.ErrTokenInvalidOrExpired)
}

func TestResetTokenForUnknownEmail(t *testing.T) {
	svc, _, store := newTestService(t, Config{})
	ctx := context.Background()

	token, err := svc.CreateResetToken(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Empty(t, token)

	keys, err := store.ScanKeys(ctx, resetTokenKeyPrefix+"*")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestVerificationTokenSingleUse(t *testing.T) {
	svc, dir, _ := newTestService(t, Config{})
	ctx := context.Background()

	user, verificationToken, err := svc.Register(ctx, "henry", "henry@example.com", "Henry", "Hill", "pass123")
	require.NoError(t, err)
	require.NotEmpty(t, verificationToken)
	assert.False(t, user.IsVerified)

	subject, err := svc.VerifyEmail(ctx, verificationToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, subject)

	stored, err := dir.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsVerified)

	_, err = svc.VerifyEmail(ctx, verificationToken)
	assert.ErrorIs(t, err, pkgerrors.ErrTokenInvalidOrExpired)
}

func TestRegisterResetAuthenticateFlow(t *testing.T) {
	svc, _, _ := newTestService(t, Config{})
	ctx := context.Background()

	user, _, err := svc.Register(ctx, "iris", "iris@example.com", "Iris", "West", "oldpass")
	require.NoError(t, err)

	resetToken, err := svc.CreateResetToken(ctx, "iris@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, resetToken)

	require.NoError(t, svc.ConsumeResetToken(ctx, resetToken, "newpass"))

	authed, err := svc.Authenticate(ctx, "iris", "newpass")
	require.NoError(t, err)
	assert.Equal(t, user.ID, authed.ID)

	_, err = svc.Authenticate(ctx, "iris", "oldpass")
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidCredentials)
}
