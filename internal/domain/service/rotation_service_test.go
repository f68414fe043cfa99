package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daybook-io/daybook-auth/internal/config"
	"github.com/daybook-io/daybook-auth/internal/domain/models"
	"github.com/daybook-io/daybook-auth/internal/infrastructure/crypto"
	rediscache "github.com/daybook-io/daybook-auth/internal/infrastructure/persistence/redis"
	"github.com/daybook-io/daybook-auth/internal/infrastructure/secrets"
	"github.com/daybook-io/daybook-auth/pkg/constants"
	"github.com/daybook-io/daybook-auth/pkg/errors"
	"github.com/daybook-io/daybook-auth/pkg/logger"
	"github.com/daybook-io/daybook-auth/pkg/utils"
)

type rotationTestEnv struct {
	rotation *RotationService
	tokens   *TokenService
	sessions *SessionService
}

func newRotationTestEnv(t *testing.T) *rotationTestEnv {
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

	tokens := NewTokenService(km, cache, tokCfg, logger.NewNop())
	sessions := NewSessionService(cache, sessCfg, logger.NewNop())
	rotation := NewRotationService(cache, tokens, sessions, nil, tokCfg, logger.NewNop())
	return &rotationTestEnv{rotation: rotation, tokens: tokens, sessions: sessions}
}

func TestRotationStateMachine(t *testing.T) {
	ctx := context.Background()
	env := newRotationTestEnv(t)

	fp1 := utils.Fingerprint("refresh-token-1")
	fp2 := utils.Fingerprint("refresh-token-2")

	require.NoError(t, env.rotation.RecordIssued(ctx, fp1, "u1"))

	reused, err := env.rotation.CheckReuse(ctx, fp1, "u1")
	require.NoError(t, err)
	assert.False(t, reused)

	require.NoError(t, env.rotation.MarkRotated(ctx, fp1, fp2, "u1"))

	// The consumed fingerprint is now terminal.
	reused, err = env.rotation.CheckReuse(ctx, fp1, "u1")
	require.NoError(t, err)
	assert.True(t, reused)

	// The successor starts unconsumed.
	reused, err = env.rotation.CheckReuse(ctx, fp2, "u1")
	require.NoError(t, err)
	assert.False(t, reused)
}

func TestRotationExactlyOnce(t *testing.T) {
	ctx := context.Background()
	env := newRotationTestEnv(t)

	fp1 := utils.Fingerprint("r1")
	require.NoError(t, env.rotation.RecordIssued(ctx, fp1, "u1"))
	require.NoError(t, env.rotation.MarkRotated(ctx, fp1, utils.Fingerprint("r2"), "u1"))

	// A racing second consumption of the same fingerprint must lose.
	err := env.rotation.MarkRotated(ctx, fp1, utils.Fingerprint("r3"), "u1")
	assert.True(t, errors.IsTokenErrorKind(err, errors.KindReuseDetected), "got %v", err)
}

func TestRotationUnknownFingerprintIsNotReuse(t *testing.T) {
	ctx := context.Background()
	env := newRotationTestEnv(t)

	reused, err := env.rotation.CheckReuse(ctx, utils.Fingerprint("never-issued"), "u1")
	require.NoError(t, err)
	assert.False(t, reused)
}

func TestRevokeAllCascades(t *testing.T) {
	ctx := context.Background()
	env := newRotationTestEnv(t)

	t0 := time.Now().UTC().Truncate(time.Second)
	env.tokens.now = func() time.Time { return t0 }

	access, _, err := env.tokens.Sign(ctx, SignRequest{Subject: "u1", Type: constants.TokenTypeAccess})
	require.NoError(t, err)
	refresh, _, err := env.tokens.Sign(ctx, SignRequest{Subject: "u1", Type: constants.TokenTypeRefresh})
	require.NoError(t, err)
	require.NoError(t, env.rotation.RecordIssued(ctx, utils.Fingerprint(refresh), "u1"))

	sess, err := env.sessions.Create(ctx, "u1", models.RequestContext{IP: "203.0.113.9"})
	require.NoError(t, err)

	// The incident lands after minting.
	env.tokens.now = func() time.Time { return t0.Add(5 * time.Second) }
	require.NoError(t, env.rotation.RevokeAll(ctx, "u1"))

	// Every previously issued token for the subject is dead.
	_, err = env.tokens.Verify(ctx, access, VerifyOptions{})
	assert.True(t, errors.IsTokenErrorKind(err, errors.KindRevoked), "got %v", err)
	_, err = env.tokens.Verify(ctx, refresh, VerifyOptions{})
	assert.True(t, errors.IsTokenErrorKind(err, errors.KindRevoked), "got %v", err)

	// Every session is gone.
	_, err = env.sessions.Get(ctx, sess.SessionID)
	assert.ErrorIs(t, err, errors.ErrSessionNotFound)

	// Fingerprint state is wiped; the old fingerprint is no longer tracked.
	reused, err := env.rotation.CheckReuse(ctx, utils.Fingerprint(refresh), "u1")
	require.NoError(t, err)
	assert.False(t, reused)
}
