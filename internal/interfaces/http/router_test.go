package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appservice "github.com/daybook-io/daybook-auth/internal/application/service"
	"github.com/daybook-io/daybook-auth/internal/config"
	"github.com/daybook-io/daybook-auth/internal/domain/models"
	domainservice "github.com/daybook-io/daybook-auth/internal/domain/service"
	"github.com/daybook-io/daybook-auth/internal/infrastructure/audit"
	"github.com/daybook-io/daybook-auth/internal/infrastructure/crypto"
	rediscache "github.com/daybook-io/daybook-auth/internal/infrastructure/persistence/redis"
	"github.com/daybook-io/daybook-auth/internal/infrastructure/ratelimit"
	"github.com/daybook-io/daybook-auth/internal/infrastructure/secrets"
	"github.com/daybook-io/daybook-auth/internal/interfaces/http/handlers"
	"github.com/daybook-io/daybook-auth/pkg/constants"
	"github.com/daybook-io/daybook-auth/pkg/errors"
	"github.com/daybook-io/daybook-auth/pkg/logger"
)

// stubRecordStore is an in-memory SessionRecordStore with the same
// compare-and-set semantics as the postgres repository.
type stubRecordStore struct {
	mu      sync.Mutex
	byID    map[string]*models.SessionRecord
	byRotID map[string]string
}

func newStubRecordStore() *stubRecordStore {
	return &stubRecordStore{
		byID:    make(map[string]*models.SessionRecord),
		byRotID: make(map[string]string),
	}
}

func (s *stubRecordStore) Create(_ context.Context, rec *models.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byRotID[rec.RefreshRotationID]; taken {
		return errors.ErrRotationConflict
	}
	cp := *rec
	s.byID[rec.ID] = &cp
	s.byRotID[rec.RefreshRotationID] = rec.ID
	return nil
}

func (s *stubRecordStore) GetByRotationID(_ context.Context, rotationID string) (*models.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byRotID[rotationID]
	if !ok {
		return nil, errors.ErrNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *stubRecordStore) RotateRotationID(_ context.Context, recordID, oldRotationID, newRotationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[recordID]
	if !ok || rec.RefreshRotationID != oldRotationID || rec.Revoked() {
		return errors.ErrRotationConflict
	}
	if _, taken := s.byRotID[newRotationID]; taken {
		return errors.ErrRotationConflict
	}
	delete(s.byRotID, oldRotationID)
	rec.RefreshRotationID = newRotationID
	s.byRotID[newRotationID] = recordID
	return nil
}

func (s *stubRecordStore) Revoke(_ context.Context, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[recordID]
	if !ok || rec.Revoked() {
		return errors.ErrNotFound
	}
	now := time.Now()
	rec.RevokedAt = &now
	return nil
}

func (s *stubRecordStore) RevokeAllForUser(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	now := time.Now()
	for _, rec := range s.byID {
		if rec.UserID == userID && !rec.Revoked() {
			rec.RevokedAt = &now
			n++
		}
	}
	return n, nil
}

type routerTestEnv struct {
	router *Router
	cfg    *config.Config
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Host:           "127.0.0.1",
			Port:           0,
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Keys: config.KeyConfig{
			MaxAge:               30 * 24 * time.Hour,
			OverlapWindow:        31 * 24 * time.Hour,
			VerificationCacheTTL: time.Minute,
			SecretPath:           "signing-keys",
			RotationLockTTL:      30 * time.Second,
		},
		Tokens: config.TokenConfig{
			Issuer:     "https://auth.test",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 30 * 24 * time.Hour,
			M2MTTL:     time.Hour,
			SessionTTL: 12 * time.Hour,
		},
		Sessions: config.SessionConfig{
			IdleTimeout:    30 * time.Minute,
			HardLimit:      12 * time.Hour,
			RotateEveryN:   100,
			RotateInterval: time.Hour,
		},
		Cookies:   config.CookieConfig{Secure: false, SameSite: "lax"},
		RateLimit: config.RateLimitConfig{LoginPerMinute: 100000, BurstSize: 10000},
	}
}

func newRouterTestEnv(t *testing.T, cfg *config.Config) *routerTestEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	conn := &rediscache.Connection{Client: goredis.NewClient(&goredis.Options{Addr: mr.Addr()})}
	cache := rediscache.NewCacheManager(conn, logger.NewNop())
	log := logger.NewNop()

	keys := crypto.NewKeyManager(secrets.NewMemoryBackend(), cache, &cfg.Keys, log)
	require.NoError(t, keys.Initialize(context.Background()))

	tokens := domainservice.NewTokenService(keys, cache, &cfg.Tokens, log)
	sessions := domainservice.NewSessionService(cache, &cfg.Sessions, log)
	rotation := domainservice.NewRotationService(cache, tokens, sessions, audit.NopRecorder{}, &cfg.Tokens, log)
	app := appservice.NewAuthAppService(tokens, rotation, sessions, newStubRecordStore(), audit.NopRecorder{}, nil, &cfg.Tokens, log)

	limiter := ratelimit.NewRedisRateLimiter(conn, cfg.RateLimit.LoginPerMinute, cfg.RateLimit.BurstSize, log)

	router := NewRouter(cfg, log, Deps{
		Auth:     handlers.NewAuthHandler(app, cfg, log),
		JWKS:     handlers.NewJWKSHandler(keys, log),
		Health:   handlers.NewHealthHandler(log, handlers.HealthChecker{Name: "redis", Check: conn.HealthCheck}),
		Tokens:   tokens,
		Sessions: sessions,
		Limiter:  limiter,
	})

	return &routerTestEnv{router: router, cfg: cfg}
}

func (e *routerTestEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.Engine().ServeHTTP(w, req)
	return w
}

func postJSON(path string, body any) *http.Request {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func cookieValue(w *httptest.ResponseRecorder, name string) (string, bool) {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

func loginPair(t *testing.T, env *routerTestEnv, userID string, scopes []string) (access, refresh string) {
	t.Helper()
	w := env.do(postJSON("/v1/auth/login", map[string]any{
		"user_id": userID,
		"scopes":  scopes,
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.AccessToken, resp.RefreshToken
}

func TestLoginEndpoint(t *testing.T) {
	env := newRouterTestEnv(t, testConfig())

	w := env.do(postJSON("/v1/auth/login", map[string]any{
		"user_id":      "user-1",
		"scopes":       []string{"journal:read"},
		"with_session": true,
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.InDelta(t, 15*60, resp.ExpiresIn, 1)

	refreshCookie, ok := cookieValue(w, constants.RefreshCookieName)
	require.True(t, ok)
	assert.Equal(t, resp.RefreshToken, refreshCookie)

	_, ok = cookieValue(w, constants.SessionCookieName)
	assert.True(t, ok)
}

func TestLoginRejectsMissingUserID(t *testing.T) {
	env := newRouterTestEnv(t, testConfig())

	w := env.do(postJSON("/v1/auth/login", map[string]any{"scopes": []string{"a:b"}}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRefreshFromCookie(t *testing.T) {
	env := newRouterTestEnv(t, testConfig())
	_, refresh := loginPair(t, env, "user-1", nil)

	req := postJSON("/v1/auth/refresh", map[string]any{})
	req.AddCookie(&http.Cookie{Name: constants.RefreshCookieName, Value: refresh})
	w := env.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RefreshToken)
	assert.NotEqual(t, refresh, resp.RefreshToken)

	updated, ok := cookieValue(w, constants.RefreshCookieName)
	require.True(t, ok)
	assert.Equal(t, resp.RefreshToken, updated)
}

func TestRefreshFailureClearsCookie(t *testing.T) {
	env := newRouterTestEnv(t, testConfig())

	w := env.do(postJSON("/v1/auth/refresh", map[string]any{
		"refresh_token": "not a real token",
	}))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, errors.CodeInvalidToken, body.Error)

	cleared := false
	for _, c := range w.Result().Cookies() {
		if c.Name == constants.RefreshCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared, "refresh cookie should be cleared on failure")
}

func TestLogoutRequiresAuth(t *testing.T) {
	env := newRouterTestEnv(t, testConfig())

	w := env.do(postJSON("/v1/auth/logout", map[string]any{}))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	env := newRouterTestEnv(t, testConfig())
	access, _ := loginPair(t, env, "user-1", nil)

	req := postJSON("/v1/auth/logout", map[string]any{})
	req.Header.Set("Authorization", "Bearer "+access)
	w := env.do(req)
	require.Equal(t, http.StatusNoContent, w.Code)

	// The same token no longer authenticates.
	req = postJSON("/v1/auth/logout", map[string]any{})
	req.Header.Set("Authorization", "Bearer "+access)
	w = env.do(req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestVerifyEndpoint(t *testing.T) {
	env := newRouterTestEnv(t, testConfig())
	access, _ := loginPair(t, env, "user-1", []string{"journal:read"})

	w := env.do(postJSON("/v1/auth/verify", map[string]any{
		"token":           access,
		"expected_type":   "access",
		"required_scopes": []string{"journal:read"},
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Active  bool     `json:"active"`
		Subject string   `json:"sub"`
		Scopes  []string `json:"scopes"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Active)
	assert.Equal(t, "user-1", resp.Subject)
	assert.Contains(t, resp.Scopes, "journal:read")

	w = env.do(postJSON("/v1/auth/verify", map[string]any{"token": "garbage"}))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMintM2MRequiresAdminScope(t *testing.T) {
	env := newRouterTestEnv(t, testConfig())

	plain, _ := loginPair(t, env, "user-1", []string{"journal:read"})
	req := postJSON("/v1/auth/m2m", map[string]any{"service_name": "indexer"})
	req.Header.Set("Authorization", "Bearer "+plain)
	w := env.do(req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	admin, _ := loginPair(t, env, "admin-1", []string{"auth:mint"})
	req = postJSON("/v1/auth/m2m", map[string]any{
		"service_name": "indexer",
		"scopes":       []string{"journal:read"},
	})
	req.Header.Set("Authorization", "Bearer "+admin)
	w = env.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.AccessToken)
}

func TestJWKSEndpoint(t *testing.T) {
	env := newRouterTestEnv(t, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil)
	w := env.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Cache-Control"), "max-age")

	var jwks struct {
		Keys []map[string]any `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &jwks))
	require.Len(t, jwks.Keys, 2) // current and next
	for _, k := range jwks.Keys {
		assert.Equal(t, "OKP", k["kty"])
		assert.Equal(t, "Ed25519", k["crv"])
		assert.NotEmpty(t, k["kid"])
	}
}

func TestHealthEndpoints(t *testing.T) {
	env := newRouterTestEnv(t, testConfig())

	w := env.do(httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSessionCookieTouchedOnRequests(t *testing.T) {
	env := newRouterTestEnv(t, testConfig())

	w := env.do(postJSON("/v1/auth/login", map[string]any{
		"user_id":      "user-1",
		"with_session": true,
	}))
	require.Equal(t, http.StatusOK, w.Code)
	sessionID, ok := cookieValue(w, constants.SessionCookieName)
	require.True(t, ok)

	access, _ := loginPair(t, env, "user-1", nil)
	req := postJSON("/v1/auth/verify", map[string]any{"token": access})
	req.AddCookie(&http.Cookie{Name: constants.SessionCookieName, Value: sessionID})
	w = env.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	touched, ok := cookieValue(w, constants.SessionCookieName)
	require.True(t, ok)
	assert.Equal(t, sessionID, touched)
}

func TestUnknownSessionCookieIsCleared(t *testing.T) {
	env := newRouterTestEnv(t, testConfig())
	access, _ := loginPair(t, env, "user-1", nil)

	req := postJSON("/v1/auth/verify", map[string]any{"token": access})
	req.AddCookie(&http.Cookie{Name: constants.SessionCookieName, Value: "no-such-session"})
	w := env.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	cleared := false
	for _, c := range w.Result().Cookies() {
		if c.Name == constants.SessionCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared)
}

func TestLoginRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{LoginPerMinute: 60, BurstSize: 2}
	env := newRouterTestEnv(t, cfg)

	body := map[string]any{"user_id": "user-1"}
	for i := 0; i < 2; i++ {
		w := env.do(postJSON("/v1/auth/login", body))
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := env.do(postJSON("/v1/auth/login", body))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}
