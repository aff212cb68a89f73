package services

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/cache"
	"github.com/BradenHooton/warden/internal/models"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "Correct-Horse-9"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ============================================================================
// In-memory repositories
// ============================================================================

// fakeUserRepo implements UserRepository in memory. Err, when set, is
// returned by every call. AfterRead runs once a lookup has released the lock,
// so a test can change the stored row between a caller's read and its write.
// OnPasswordChange stands in for the reset-token burn the Postgres repository
// does in the same transaction.
type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*models.User
	Err   error

	AfterRead        func(user *models.User)
	OnPasswordChange func(userID string)
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*models.User)}
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.afterRead(r.getByID(id))
}

func (r *fakeUserRepo) getByID(id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	u, ok := r.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.afterRead(r.getByEmail(email))
}

func (r *fakeUserRepo) afterRead(user *models.User, err error) (*models.User, error) {
	if err == nil && r.AfterRead != nil {
		r.AfterRead(user)
	}
	return user, err
}

// interleaveOnce runs fn after the next successful lookup only. Lookups made
// from inside fn do not trigger it again.
func (r *fakeUserRepo) interleaveOnce(fn func(user *models.User)) {
	fired := false
	r.AfterRead = func(user *models.User) {
		if fired {
			return
		}
		fired = true
		fn(user)
	}
}

func (r *fakeUserRepo) getByEmail(email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	for _, u := range r.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *fakeUserRepo) Create(ctx context.Context, user *models.User) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	for _, u := range r.users {
		if u.Email == user.Email {
			return nil, models.ErrConflict
		}
	}
	cp := *user
	cp.ID = uuid.NewString()
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	r.users[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *fakeUserRepo) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	return r.modify(id, false, func(u *models.User) { u.LastLoginAt = &at })
}

func (r *fakeUserRepo) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	if err := r.modify(id, true, func(u *models.User) { u.PasswordHash = hash }); err != nil {
		return err
	}
	if r.OnPasswordChange != nil {
		r.OnPasswordChange(id)
	}
	return nil
}

func (r *fakeUserRepo) MarkEmailVerified(ctx context.Context, id string) error {
	return r.modify(id, true, func(u *models.User) {
		u.EmailVerified = true
		if u.Status == models.UserStatusPendingVerification {
			u.Status = models.UserStatusActive
		}
	})
}

// modify applies fn to the stored row in place. liveOnly mirrors the
// deleted_at IS NULL guard of the SQL statements.
func (r *fakeUserRepo) modify(id string, liveOnly bool, fn func(*models.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	u, ok := r.users[id]
	if !ok || (liveOnly && u.IsDeleted()) {
		return models.ErrNotFound
	}
	fn(u)
	u.UpdatedAt = time.Now()
	return nil
}

// set changes the stored row directly, the way an operator or another
// request would.
func (r *fakeUserRepo) set(id string, fn func(*models.User)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.users[id])
}

func (r *fakeUserRepo) get(id string) *models.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *r.users[id]
	return &cp
}

// fakeSessionRepo mirrors the conditional updates of the Postgres repository.
type fakeSessionRepo struct {
	mu        sync.Mutex
	sessions  map[string]*models.Session
	RotateErr error
	now       func() time.Time
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[string]*models.Session), now: time.Now}
}

func (r *fakeSessionRepo) Create(ctx context.Context, userID, tokenHash string, expiresAt time.Time, meta models.SessionMetadata) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.RefreshTokenHash == tokenHash {
			return nil, models.ErrConflict
		}
	}
	s := &models.Session{
		ID:               uuid.NewString(),
		UserID:           userID,
		RefreshTokenHash: tokenHash,
		ExpiresAt:        expiresAt,
		CreatedAt:        r.now(),
		UpdatedAt:        r.now(),
	}
	if meta.IPAddress != "" {
		s.IPAddress = &meta.IPAddress
	}
	r.sessions[s.ID] = s
	cp := *s
	return &cp, nil
}

func (r *fakeSessionRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.RefreshTokenHash == tokenHash {
			cp := *s
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *fakeSessionRepo) Revoke(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok || s.Revoked {
		return models.ErrNotFound
	}
	now := r.now()
	s.Revoked = true
	s.RevokedAt = &now
	return nil
}

func (r *fakeSessionRepo) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	now := r.now()
	for _, s := range r.sessions {
		if s.UserID == userID && !s.Revoked {
			s.Revoked = true
			s.RevokedAt = &now
			n++
		}
	}
	return n, nil
}

func (r *fakeSessionRepo) Rotate(ctx context.Context, sessionID, oldHash, newHash string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.RotateErr != nil {
		return r.RotateErr
	}
	s, ok := r.sessions[sessionID]
	if !ok || s.Revoked || s.RefreshTokenHash != oldHash || !s.ExpiresAt.After(r.now()) {
		return models.ErrNotFound
	}
	s.RefreshTokenHash = newHash
	s.ExpiresAt = expiresAt
	s.UpdatedAt = r.now()
	return nil
}

func (r *fakeSessionRepo) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.sessions {
		if s.ExpiresAt.Before(cutoff) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

func (r *fakeSessionRepo) liveCount(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if s.UserID == userID && !s.Revoked {
			n++
		}
	}
	return n
}

// fakeTwoFactorRepo keeps credentials in memory; ConsumeBackupCode is
// atomic under the mutex like the single UPDATE it stands in for.
type fakeTwoFactorRepo struct {
	mu    sync.Mutex
	creds map[string]*models.TwoFactorCredential
}

func newFakeTwoFactorRepo() *fakeTwoFactorRepo {
	return &fakeTwoFactorRepo{creds: make(map[string]*models.TwoFactorCredential)}
}

func (r *fakeTwoFactorRepo) Upsert(ctx context.Context, cred *models.TwoFactorCredential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.creds[cred.UserID]; ok && existing.Enabled {
		return models.ErrConflict
	}
	cp := *cred
	cp.Enabled = false
	cp.BackupCodeHashes = slices.Clone(cred.BackupCodeHashes)
	r.creds[cred.UserID] = &cp
	return nil
}

func (r *fakeTwoFactorRepo) GetByUserID(ctx context.Context, userID string) (*models.TwoFactorCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.creds[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *c
	cp.BackupCodeHashes = slices.Clone(c.BackupCodeHashes)
	return &cp, nil
}

func (r *fakeTwoFactorRepo) Enable(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.creds[userID]
	if !ok || c.Enabled {
		return models.ErrNotFound
	}
	c.Enabled = true
	return nil
}

func (r *fakeTwoFactorRepo) ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.creds[userID]
	if !ok || !c.Enabled {
		return false, nil
	}
	i := slices.Index(c.BackupCodeHashes, codeHash)
	if i < 0 {
		return false, nil
	}
	c.BackupCodeHashes = slices.Delete(c.BackupCodeHashes, i, i+1)
	return true, nil
}

func (r *fakeTwoFactorRepo) TouchLastUsed(ctx context.Context, userID string) error {
	return nil
}

func (r *fakeTwoFactorRepo) Delete(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.creds[userID]; !ok {
		return models.ErrNotFound
	}
	delete(r.creds, userID)
	return nil
}

// fakeActionTokenRepo stores action tokens keyed by hash.
type fakeActionTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]*models.ActionToken
	Err    error
	now    func() time.Time
}

func newFakeActionTokenRepo() *fakeActionTokenRepo {
	return &fakeActionTokenRepo{tokens: make(map[string]*models.ActionToken), now: time.Now}
}

func (r *fakeActionTokenRepo) Create(ctx context.Context, userID, tokenHash, purpose string, expiresAt time.Time) (*models.ActionToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	t := &models.ActionToken{ID: uuid.NewString(), UserID: userID, TokenHash: tokenHash, Purpose: purpose, ExpiresAt: expiresAt, CreatedAt: r.now()}
	r.tokens[tokenHash] = t
	cp := *t
	return &cp, nil
}

func (r *fakeActionTokenRepo) valid(tokenHash, purpose string) (*models.ActionToken, bool) {
	t, ok := r.tokens[tokenHash]
	if !ok || t.Purpose != purpose || t.UsedAt != nil || !t.ExpiresAt.After(r.now()) {
		return nil, false
	}
	return t, true
}

func (r *fakeActionTokenRepo) GetValid(ctx context.Context, tokenHash, purpose string) (*models.ActionToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	t, ok := r.valid(tokenHash, purpose)
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *fakeActionTokenRepo) Consume(ctx context.Context, tokenHash, purpose string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return "", r.Err
	}
	t, ok := r.valid(tokenHash, purpose)
	if !ok {
		return "", models.ErrNotFound
	}
	now := r.now()
	t.UsedAt = &now
	return t.UserID, nil
}

func (r *fakeActionTokenRepo) Invalidate(ctx context.Context, tokenHash, purpose string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.valid(tokenHash, purpose); ok {
		now := r.now()
		t.UsedAt = &now
	}
	return r.Err
}

func (r *fakeActionTokenRepo) InvalidateAllForUser(ctx context.Context, userID, purpose string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return 0, r.Err
	}
	var n int64
	now := r.now()
	for _, t := range r.tokens {
		if t.UserID == userID && t.Purpose == purpose && t.UsedAt == nil {
			t.UsedAt = &now
			n++
		}
	}
	return n, nil
}

func (r *fakeActionTokenRepo) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for h, t := range r.tokens {
		if t.ExpiresAt.Before(cutoff) {
			delete(r.tokens, h)
			n++
		}
	}
	return n, nil
}

// ============================================================================
// Func-field mocks
// ============================================================================

// MockLockoutStore implements LockoutStore for testing
type MockLockoutStore struct {
	RecordFailureFunc func(ctx context.Context, identity string) (models.LockoutStatus, error)
	StatusFunc        func(ctx context.Context, identity string) (models.LockoutStatus, error)
	ClearFunc         func(ctx context.Context, identity string) error
}

func (m *MockLockoutStore) RecordFailure(ctx context.Context, identity string) (models.LockoutStatus, error) {
	if m.RecordFailureFunc != nil {
		return m.RecordFailureFunc(ctx, identity)
	}
	return models.LockoutStatus{}, nil
}

func (m *MockLockoutStore) Status(ctx context.Context, identity string) (models.LockoutStatus, error) {
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx, identity)
	}
	return models.LockoutStatus{}, nil
}

func (m *MockLockoutStore) Clear(ctx context.Context, identity string) error {
	if m.ClearFunc != nil {
		return m.ClearFunc(ctx, identity)
	}
	return nil
}

// MockEmailService records every message it is asked to send.
type MockEmailService struct {
	mu            sync.Mutex
	verifications map[string]string
	resets        map[string]string
	SendErr       error
}

func newMockEmailService() *MockEmailService {
	return &MockEmailService{verifications: make(map[string]string), resets: make(map[string]string)}
}

func (m *MockEmailService) SendVerificationEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return m.SendErr
	}
	m.verifications[email] = token
	return nil
}

func (m *MockEmailService) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return m.SendErr
	}
	m.resets[email] = token
	return nil
}

func (m *MockEmailService) verificationToken(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verifications[email]
}

func (m *MockEmailService) resetToken(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets[email]
}

// ============================================================================
// Wiring
// ============================================================================

// testEnv is a fully wired AuthService over in-memory repositories and a
// miniredis instance.
type testEnv struct {
	svc          *AuthService
	users        *fakeUserRepo
	sessions     *fakeSessionRepo
	twoFactorDB  *fakeTwoFactorRepo
	actionTokens *fakeActionTokenRepo
	mailer       *MockEmailService
	tokens       *auth.TokenManager
	totp         *auth.TOTPManager
	twoFactor    *TwoFactorService
	refresher    *RefreshCoordinator
	hasher       *pkgauth.Hasher
	redis        *miniredis.Miniredis
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	logger := discardLogger()
	audit := pkglogger.NewAuditLogger(logger)

	env := &testEnv{
		users:        newFakeUserRepo(),
		sessions:     newFakeSessionRepo(),
		twoFactorDB:  newFakeTwoFactorRepo(),
		actionTokens: newFakeActionTokenRepo(),
		mailer:       newMockEmailService(),
		hasher:       pkgauth.NewHasher(bcrypt.MinCost),
		redis:        mr,
	}

	env.tokens = auth.NewTokenManager(
		"access-secret-32-characters-long!",
		"refresh-secret-32-characters-long",
		15*time.Minute, 7*24*time.Hour, "warden-test",
	)

	totpMgr, err := auth.NewTOTPManager([]byte("0123456789abcdef0123456789abcdef"), "Warden")
	require.NoError(t, err)
	env.totp = totpMgr

	blacklist := cache.NewRedisBlacklist(client)
	lockout := NewLockoutGuard(cache.NewRedisLockoutStore(client, cache.LockoutPolicy{
		Threshold: 5,
		Window:    5 * time.Minute,
		Duration:  15 * time.Minute,
	}), LockoutScopeEmail, logger)

	sessions := NewSessionService(env.sessions, 24*time.Hour)
	env.twoFactor = NewTwoFactorService(env.twoFactorDB, totpMgr, cache.NewRedisReplayGuard(client, 90*time.Second), logger, audit)
	env.refresher = NewRefreshCoordinator(env.tokens, sessions, blacklist, env.users, time.Second, logger, audit)

	env.users.OnPasswordChange = func(userID string) {
		_, _ = env.actionTokens.InvalidateAllForUser(context.Background(), userID, models.ActionTokenPasswordReset)
	}

	env.svc = NewAuthService(AuthDependencies{
		Users:        env.users,
		Hasher:       env.hasher,
		Tokens:       env.tokens,
		Sessions:     sessions,
		Refresher:    env.refresher,
		Blacklist:    blacklist,
		Lockout:      lockout,
		TwoFactor:    env.twoFactor,
		Resets:       NewPasswordResetService(env.actionTokens, time.Hour, logger),
		Verification: NewEmailVerificationService(env.actionTokens, env.users, env.mailer, logger, audit, 24*time.Hour),
		Mailer:       env.mailer,
		Logger:       logger,
		AuditLogger:  audit,
	})
	return env
}

// addUser stores an active, verified user with testPassword.
func (env *testEnv) addUser(t *testing.T, email string, mutate ...func(*models.User)) *models.User {
	t.Helper()
	hash, err := env.hasher.Hash(testPassword)
	require.NoError(t, err)

	u := &models.User{
		Email:         email,
		PasswordHash:  hash,
		FirstName:     "Test",
		LastName:      "User",
		Status:        models.UserStatusActive,
		EmailVerified: true,
	}
	for _, m := range mutate {
		m(u)
	}
	created, err := env.users.Create(context.Background(), u)
	require.NoError(t, err)
	return created
}

// login logs in with testPassword and fails the test on error.
func (env *testEnv) login(t *testing.T, email string) *LoginResponse {
	t.Helper()
	resp, err := env.svc.Login(context.Background(), LoginRequest{Email: email, Password: testPassword}, models.SessionMetadata{IPAddress: "203.0.113.7"})
	require.NoError(t, err)
	return resp
}

// enableTwoFactor enrols the user and returns the plaintext secret and
// backup codes.
func (env *testEnv) enableTwoFactor(t *testing.T, user *models.User) (string, []string) {
	t.Helper()
	ctx := context.Background()
	setup, err := env.twoFactor.Setup(ctx, user.ID, user.Email)
	require.NoError(t, err)
	require.NoError(t, env.twoFactor.Enable(ctx, user.ID, currentCode(t, setup.Secret, time.Now())))
	return setup.Secret, setup.BackupCodes
}

func currentCode(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, at)
	require.NoError(t, err)
	return code
}
