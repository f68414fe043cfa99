package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daybook-io/daybook-auth/internal/application/dto"
	"github.com/daybook-io/daybook-auth/internal/config"
	"github.com/daybook-io/daybook-auth/internal/domain/models"
	domainservice "github.com/daybook-io/daybook-auth/internal/domain/service"
	"github.com/daybook-io/daybook-auth/internal/infrastructure/audit"
	"github.com/daybook-io/daybook-auth/internal/infrastructure/crypto"
	rediscache "github.com/daybook-io/daybook-auth/internal/infrastructure/persistence/redis"
	"github.com/daybook-io/daybook-auth/internal/infrastructure/secrets"
	"github.com/daybook-io/daybook-auth/pkg/constants"
	"github.com/daybook-io/daybook-auth/pkg/errors"
	"github.com/daybook-io/daybook-auth/pkg/logger"
)

// memoryRecordStore is an in-memory SessionRecordStore with the same
// compare-and-set semantics as the PostgreSQL implementation.
type memoryRecordStore struct {
	mu      sync.Mutex
	records map[string]*models.SessionRecord // by id
}

func newMemoryRecordStore() *memoryRecordStore {
	return &memoryRecordStore{records: make(map[string]*models.SessionRecord)}
}

func (s *memoryRecordStore) Create(_ context.Context, rec *models.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.records {
		if existing.RefreshRotationID == rec.RefreshRotationID {
			return errors.ErrRotationConflict
		}
	}
	cp := *rec
	s.records[rec.ID] = &cp
	return nil
}

func (s *memoryRecordStore) GetByRotationID(_ context.Context, rotationID string) (*models.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.RefreshRotationID == rotationID {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, errors.ErrNotFound
}

func (s *memoryRecordStore) RotateRotationID(_ context.Context, recordID, oldRotationID, newRotationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[recordID]
	if !ok || rec.RefreshRotationID != oldRotationID || rec.Revoked() {
		return errors.ErrRotationConflict
	}
	rec.RefreshRotationID = newRotationID
	return nil
}

func (s *memoryRecordStore) Revoke(_ context.Context, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[recordID]
	if !ok {
		return errors.ErrNotFound
	}
	now := time.Now().UTC()
	rec.RevokedAt = &now
	return nil
}

func (s *memoryRecordStore) RevokeAllForUser(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	var n int64
	for _, rec := range s.records {
		if rec.UserID == userID && !rec.Revoked() {
			rec.RevokedAt = &now
			n++
		}
	}
	return n, nil
}

type appTestEnv struct {
	app      *AuthAppService
	tokens   *domainservice.TokenService
	sessions *domainservice.SessionService
	records  *memoryRecordStore
}

func newAppTestEnv(t *testing.T) *appTestEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	conn := &rediscache.Connection{Client: goredis.NewClient(&goredis.Options{Addr: mr.Addr()})}
	cache := rediscache.NewCacheManager(conn, logger.NewNop())

	keyCfg := &config.KeyConfig{
		MaxAge:               90 * 24 * time.Hour,
		OverlapWindow:        30 * 24 * time.Hour,
		VerificationCacheTTL: 30 * time.Second,
		SecretPath:           "daybook/keys",
		RotationLockTTL:      30 * time.Second,
	}
	km := crypto.NewKeyManager(secrets.NewMemoryBackend(), cache, keyCfg, logger.NewNop())
	require.NoError(t, km.Initialize(context.Background()))

	tokCfg := &config.TokenConfig{
		Issuer:     constants.DefaultIssuer,
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 30 * 24 * time.Hour,
		M2MTTL:     time.Hour,
		SessionTTL: time.Hour,
	}
	sessCfg := &config.SessionConfig{
		IdleTimeout:    30 * time.Minute,
		HardLimit:      12 * time.Hour,
		RotateEveryN:   100,
		RotateInterval: 15 * time.Minute,
	}

	tokens := domainservice.NewTokenService(km, cache, tokCfg, logger.NewNop())
	sessions := domainservice.NewSessionService(cache, sessCfg, logger.NewNop())
	rotation := domainservice.NewRotationService(cache, tokens, sessions, audit.NopRecorder{}, tokCfg, logger.NewNop())
	records := newMemoryRecordStore()
	app := NewAuthAppService(tokens, rotation, sessions, records, audit.NopRecorder{}, nil, tokCfg, logger.NewNop())

	return &appTestEnv{app: app, tokens: tokens, sessions: sessions, records: records}
}

func TestLoginIssuesLinkedPair(t *testing.T) {
	ctx := context.Background()
	env := newAppTestEnv(t)

	pair, err := env.app.Login(ctx, &dto.LoginRequest{
		UserID: "u1", Scopes: []string{"journal:read"}, WithSession: true, IP: "203.0.113.9",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.NotEmpty(t, pair.SessionID)
	assert.Equal(t, "Bearer", pair.TokenType)

	// The refresh token's rotation id resolves to a live persisted record.
	claims, err := env.tokens.Verify(ctx, pair.RefreshToken, domainservice.VerifyOptions{
		ExpectedType: constants.TokenTypeRefresh,
	})
	require.NoError(t, err)
	rec, err := env.records.GetByRotationID(ctx, claims.RotationID)
	require.NoError(t, err)
	assert.Equal(t, "u1", rec.UserID)
	assert.False(t, rec.Revoked())
}

func TestRefreshRotatesPair(t *testing.T) {
	ctx := context.Background()
	env := newAppTestEnv(t)

	pair, err := env.app.Login(ctx, &dto.LoginRequest{UserID: "u1"})
	require.NoError(t, err)

	next, err := env.app.Refresh(ctx, &dto.RefreshRequest{RefreshToken: pair.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)
	assert.NotEqual(t, pair.AccessToken, next.AccessToken)

	// The new refresh token works in turn.
	_, err = env.app.Refresh(ctx, &dto.RefreshRequest{RefreshToken: next.RefreshToken})
	require.NoError(t, err)
}

func TestRefreshReuseTriggersIncidentResponse(t *testing.T) {
	ctx := context.Background()
	env := newAppTestEnv(t)

	pair, err := env.app.Login(ctx, &dto.LoginRequest{UserID: "u1", WithSession: true})
	require.NoError(t, err)

	next, err := env.app.Refresh(ctx, &dto.RefreshRequest{RefreshToken: pair.RefreshToken})
	require.NoError(t, err)

	// Second presentation of the consumed token is the incident.
	_, err = env.app.Refresh(ctx, &dto.RefreshRequest{RefreshToken: pair.RefreshToken, IP: "198.51.100.7"})
	ae, ok := errors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, errors.CodeInvalidToken, ae.Code)
	assert.Equal(t, 401, ae.HTTPStatus())

	// Mass revocation killed everything issued before the incident,
	// including the successor pair.
	_, err = env.tokens.Verify(ctx, next.AccessToken, domainservice.VerifyOptions{})
	assert.True(t, errors.IsTokenErrorKind(err, errors.KindRevoked), "got %v", err)
	_, err = env.tokens.Verify(ctx, next.RefreshToken, domainservice.VerifyOptions{})
	assert.True(t, errors.IsTokenErrorKind(err, errors.KindRevoked), "got %v", err)

	// The cookie session is gone.
	_, err = env.sessions.Get(ctx, pair.SessionID)
	assert.ErrorIs(t, err, errors.ErrSessionNotFound)

	// And the successor refresh token is dead end-to-end.
	_, err = env.app.Refresh(ctx, &dto.RefreshRequest{RefreshToken: next.RefreshToken})
	ae, ok = errors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, errors.CodeInvalidToken, ae.Code)
}

func TestRefreshFailuresShareOneShape(t *testing.T) {
	ctx := context.Background()
	env := newAppTestEnv(t)

	pair, err := env.app.Login(ctx, &dto.LoginRequest{UserID: "u1"})
	require.NoError(t, err)
	_, err = env.app.Refresh(ctx, &dto.RefreshRequest{RefreshToken: pair.RefreshToken})
	require.NoError(t, err)

	// Garbage token, wrong-type token, and reused token must be
	// indistinguishable at the boundary.
	cases := map[string]string{
		"garbage":                         "not.a.token",
		"access token instead of refresh": pair.AccessToken,
		"reused refresh":                  pair.RefreshToken,
	}
	for name, token := range cases {
		_, err := env.app.Refresh(ctx, &dto.RefreshRequest{RefreshToken: token})
		ae, ok := errors.AsAppError(err)
		require.True(t, ok, "%s: %v", name, err)
		assert.Equal(t, errors.CodeInvalidToken, ae.Code, name)
		assert.Equal(t, 401, ae.HTTPStatus(), name)
		assert.Equal(t, "invalid token", ae.Message, name)
	}
}

func TestLogoutRevokeAll(t *testing.T) {
	ctx := context.Background()
	env := newAppTestEnv(t)

	pair, err := env.app.Login(ctx, &dto.LoginRequest{UserID: "u1", WithSession: true})
	require.NoError(t, err)
	claims, err := env.tokens.Verify(ctx, pair.AccessToken, domainservice.VerifyOptions{})
	require.NoError(t, err)

	err = env.app.Logout(ctx, &dto.LogoutRequest{
		UserID:    "u1",
		SessionID: pair.SessionID,
		JTI:       claims.ID,
		TokenExp:  claims.ExpiresAt.Time,
		RevokeAll: true,
	})
	require.NoError(t, err)

	_, err = env.tokens.Verify(ctx, pair.AccessToken, domainservice.VerifyOptions{})
	assert.True(t, errors.IsTokenErrorKind(err, errors.KindRevoked), "got %v", err)
	_, err = env.tokens.Verify(ctx, pair.RefreshToken, domainservice.VerifyOptions{})
	assert.True(t, errors.IsTokenErrorKind(err, errors.KindRevoked), "got %v", err)
	_, err = env.sessions.Get(ctx, pair.SessionID)
	assert.ErrorIs(t, err, errors.ErrSessionNotFound)

	// Refresh after logout is rejected.
	_, err = env.app.Refresh(ctx, &dto.RefreshRequest{RefreshToken: pair.RefreshToken})
	ae, ok := errors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, errors.CodeInvalidToken, ae.Code)
}

func TestMintM2M(t *testing.T) {
	ctx := context.Background()
	env := newAppTestEnv(t)

	resp, err := env.app.MintM2M(ctx, &dto.MintM2MRequest{
		ServiceName: "search-worker",
		Scopes:      []string{"journal:read"},
		Audience:    []string{"daybook-api"},
	})
	require.NoError(t, err)

	claims, err := env.tokens.Verify(ctx, resp.AccessToken, domainservice.VerifyOptions{
		ExpectedType: constants.TokenTypeM2M,
		ExpectedAudience: "daybook-api",
	})
	require.NoError(t, err)
	assert.Equal(t, "svc:search-worker", claims.Subject)
	assert.Equal(t, "search-worker", claims.ServiceName)

	// A TTL above the configured cap is rejected.
	_, err = env.app.MintM2M(ctx, &dto.MintM2MRequest{ServiceName: "search-worker", TTL: "24h"})
	ae, ok := errors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, errors.CodeInvalidRequest, ae.Code)
}
