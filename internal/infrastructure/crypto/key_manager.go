// Package crypto owns the signing-key lifecycle: generation, promotion
// through current/next/retiring, overlap-window verification, and persistence
// through the secrets backend.
package crypto

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/daybook-io/daybook-auth/internal/config"
	"github.com/daybook-io/daybook-auth/internal/domain/models"
	rediscache "github.com/daybook-io/daybook-auth/internal/infrastructure/persistence/redis"
	"github.com/daybook-io/daybook-auth/internal/infrastructure/secrets"
	"github.com/daybook-io/daybook-auth/pkg/constants"
	"github.com/daybook-io/daybook-auth/pkg/errors"
	"github.com/daybook-io/daybook-auth/pkg/logger"
)

// KeyManager produces a usable signing key at all times and a verification
// key set that tolerates in-flight rotation. Key material lives in the
// secrets backend; the keyring index lives in the shared cache (with a
// durable copy in the backend) so every instance sees a rotation promptly.
type KeyManager struct {
	backend secrets.Backend
	cache   rediscache.CacheManager
	cfg     *config.KeyConfig
	log     logger.Logger

	// local is a short-TTL process cache for the signing key and the
	// verification set; sf collapses concurrent loads.
	local *gocache.Cache
	sf    singleflight.Group
	now   func() time.Time
}

const (
	localKeySigning      = "signing"
	localKeyVerification = "verification"
	keyRingPath          = "ring"
)

// NewKeyManager creates a key manager. Call Initialize before first use.
func NewKeyManager(
	backend secrets.Backend,
	cache rediscache.CacheManager,
	cfg *config.KeyConfig,
	log logger.Logger,
) *KeyManager {
	return &KeyManager{
		backend: backend,
		cache:   cache,
		cfg:     cfg,
		log:     log.WithComponent("keymanager"),
		local:   gocache.New(cfg.VerificationCacheTTL, 2*cfg.VerificationCacheTTL),
		now:     time.Now,
	}
}

// Initialize guarantees a current key exists and eagerly provisions a next
// key so rotation never blocks on key generation.
func (m *KeyManager) Initialize(ctx context.Context) error {
	ring, err := m.loadRing(ctx)
	if err != nil && !errors.IsNotFound(err) {
		return fmt.Errorf("load keyring: %w", err)
	}
	if ring == nil {
		ring = &models.KeyRing{}
	}

	changed := false
	if ring.Current == "" {
		key, err := m.generateKey(constants.KeyStatusCurrent)
		if err != nil {
			return err
		}
		if err := m.storeKey(ctx, key); err != nil {
			return err
		}
		ring.Current = key.KID
		changed = true
		m.log.Info(ctx, "Generated initial signing key", logger.String("kid", key.KID))
	}
	if ring.Next == "" {
		key, err := m.generateKey(constants.KeyStatusNext)
		if err != nil {
			return err
		}
		if err := m.storeKey(ctx, key); err != nil {
			return err
		}
		ring.Next = key.KID
		changed = true
		m.log.Info(ctx, "Provisioned next signing key", logger.String("kid", key.KID))
	}

	if changed {
		if err := m.storeRing(ctx, ring); err != nil {
			return err
		}
		m.invalidateLocal()
	}
	return nil
}

// CurrentSigningKey returns the key to sign with: a fresh cache entry if
// available, the backend otherwise, and as a last resort a freshly
// regenerated key with loud logging. Regeneration invalidates previously
// issued tokens and only happens when every other path has failed. If no key
// can be obtained at all, signing fails closed.
func (m *KeyManager) CurrentSigningKey(ctx context.Context) (*models.SigningKey, error) {
	if v, ok := m.local.Get(localKeySigning); ok {
		return v.(*models.SigningKey), nil
	}

	v, err, _ := m.sf.Do(localKeySigning, func() (interface{}, error) {
		ring, err := m.loadRing(ctx)
		if err == nil && ring.Current != "" {
			key, kerr := m.loadKey(ctx, ring.Current)
			if kerr == nil {
				m.local.SetDefault(localKeySigning, key)
				return key, nil
			}
			err = kerr
		}

		m.log.Error(ctx, "Signing key unavailable from cache and backend, regenerating; previously issued tokens will no longer verify", err)
		key, rerr := m.regenerate(ctx)
		if rerr != nil {
			return nil, errors.ErrKeyUnavailable
		}
		m.local.SetDefault(localKeySigning, key)
		return key, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.SigningKey), nil
}

// VerificationKeys returns {current} ∪ {next if present} ∪ {retiring if
// within the overlap window}, served from a short-TTL cache.
func (m *KeyManager) VerificationKeys(ctx context.Context) ([]*models.SigningKey, error) {
	if v, ok := m.local.Get(localKeyVerification); ok {
		return v.([]*models.SigningKey), nil
	}

	v, err, _ := m.sf.Do(localKeyVerification, func() (interface{}, error) {
		ring, err := m.loadRing(ctx)
		if err != nil {
			return nil, err
		}

		keys := make([]*models.SigningKey, 0, 3)
		for _, kid := range []string{ring.Current, ring.Next, ring.Retiring} {
			if kid == "" {
				continue
			}
			key, err := m.loadKey(ctx, kid)
			if err != nil {
				m.log.Warn(ctx, "Failed to load verification key",
					logger.String("kid", kid), logger.Error(err))
				continue
			}
			if key.Status == constants.KeyStatusRetiring &&
				!key.WithinOverlap(m.now(), m.cfg.OverlapWindow) {
				continue
			}
			keys = append(keys, key)
		}
		if len(keys) == 0 {
			return nil, errors.ErrKeyUnavailable
		}
		m.local.SetDefault(localKeyVerification, keys)
		return keys, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*models.SigningKey), nil
}

// VerificationKeyByKID resolves one key from the verification set. An
// unknown kid is not a system failure, just an untrusted key.
func (m *KeyManager) VerificationKeyByKID(ctx context.Context, kid string) (*models.SigningKey, error) {
	keys, err := m.VerificationKeys(ctx)
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		if key.KID == kid {
			return key, nil
		}
	}
	return nil, errors.ErrNotFound
}

// CheckRotationNeeded is a read-only policy check. It never mutates state.
func (m *KeyManager) CheckRotationNeeded(ctx context.Context) (bool, string, error) {
	ring, err := m.loadRing(ctx)
	if err != nil {
		return false, "", err
	}
	if ring.Current == "" {
		return true, "no current key", nil
	}
	key, err := m.loadKey(ctx, ring.Current)
	if err != nil {
		return false, "", err
	}
	if age := key.Age(m.now()); age > m.cfg.MaxAge {
		return true, fmt.Sprintf("current key age %s exceeds max age %s", age.Round(time.Second), m.cfg.MaxAge), nil
	}
	return false, "", nil
}

// RotateKeys promotes next to current, demotes the old current to retiring
// for the overlap window, and provisions a fresh next. The sequence runs
// under a distributed lock so concurrent callers cannot produce two
// different current keys; readers see either the pre- or the post-rotation
// ring because all key records are written before the ring is replaced in a
// single write.
func (m *KeyManager) RotateKeys(ctx context.Context, force bool) error {
	if !force {
		needed, reason, err := m.CheckRotationNeeded(ctx)
		if err != nil {
			return err
		}
		if !needed {
			return nil
		}
		m.log.Info(ctx, "Rotation policy triggered", logger.String("reason", reason))
	}

	owner := uuid.NewString()
	locked, err := m.cache.SetNX(ctx, constants.CacheNSRotationLock, owner, m.cfg.RotationLockTTL)
	if err != nil {
		return fmt.Errorf("acquire rotation lock: %w", err)
	}
	if !locked {
		return errors.ErrRotationConflict
	}
	defer func() {
		released, rerr := m.cache.CompareAndDelete(context.WithoutCancel(ctx), constants.CacheNSRotationLock, owner)
		if rerr != nil || !released {
			m.log.Warn(ctx, "Rotation lock not released cleanly", logger.Error(rerr))
		}
	}()

	ring, err := m.loadRing(ctx)
	if err != nil {
		return fmt.Errorf("load keyring: %w", err)
	}
	now := m.now()

	// Demote the outgoing retiring key before the ring is replaced; its
	// record stays in the backend for forensics until purged.
	if ring.Retiring != "" {
		if old, err := m.loadKey(ctx, ring.Retiring); err == nil {
			old.Status = constants.KeyStatusRetired
			if err := m.storeKey(ctx, old); err != nil {
				return fmt.Errorf("retire key %s: %w", old.KID, err)
			}
		}
		ring.Retired = append(ring.Retired, ring.Retiring)
	}

	oldCurrent, err := m.loadKey(ctx, ring.Current)
	if err != nil {
		return fmt.Errorf("load current key: %w", err)
	}

	var promoted *models.SigningKey
	if ring.Next != "" {
		promoted, err = m.loadKey(ctx, ring.Next)
		if err != nil {
			m.log.Warn(ctx, "Next key unavailable, generating replacement",
				logger.String("kid", ring.Next), logger.Error(err))
		}
	}
	if promoted == nil {
		promoted, err = m.generateKey(constants.KeyStatusNext)
		if err != nil {
			return err
		}
	}
	promoted.Status = constants.KeyStatusCurrent

	oldCurrent.Status = constants.KeyStatusRetiring
	oldCurrent.RetiredAt = &now

	next, err := m.generateKey(constants.KeyStatusNext)
	if err != nil {
		return err
	}

	// Persist every key record first, then replace the ring atomically.
	for _, key := range []*models.SigningKey{promoted, oldCurrent, next} {
		if err := m.storeKey(ctx, key); err != nil {
			return fmt.Errorf("persist key %s: %w", key.KID, err)
		}
	}
	ring.Current = promoted.KID
	ring.Retiring = oldCurrent.KID
	ring.Next = next.KID
	if err := m.storeRing(ctx, ring); err != nil {
		return fmt.Errorf("persist keyring: %w", err)
	}

	m.invalidateLocal()

	m.log.Info(ctx, "Keys rotated",
		logger.String("current_kid", promoted.KID),
		logger.String("retiring_kid", oldCurrent.KID),
		logger.String("next_kid", next.KID),
		logger.Duration("overlap_window", m.cfg.OverlapWindow),
	)
	return nil
}

// PurgeRetired deletes key records that have left the overlap window. It
// returns the number of keys removed.
func (m *KeyManager) PurgeRetired(ctx context.Context) (int, error) {
	ring, err := m.loadRing(ctx)
	if err != nil {
		return 0, err
	}

	kept := ring.Retired[:0]
	purged := 0
	for _, kid := range ring.Retired {
		if err := m.backend.Delete(ctx, m.keyPath(kid)); err != nil && !errors.IsNotFound(err) {
			kept = append(kept, kid)
			m.log.Warn(ctx, "Failed to purge retired key",
				logger.String("kid", kid), logger.Error(err))
			continue
		}
		purged++
	}
	ring.Retired = kept

	if purged > 0 {
		if err := m.storeRing(ctx, ring); err != nil {
			return purged, err
		}
		m.log.Info(ctx, "Purged retired keys", logger.Int("count", purged))
	}
	return purged, nil
}

// InvalidateCache drops the process-local key caches.
func (m *KeyManager) InvalidateCache() {
	m.invalidateLocal()
}

// ================================================================================
// Internal helpers
// ================================================================================

func (m *KeyManager) generateKey(status constants.KeyStatus) (*models.SigningKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	now := m.now().UTC()
	return &models.SigningKey{
		KID:        now.Format("20060102") + "-" + uuid.NewString()[:8],
		PrivateKey: priv,
		PublicKey:  pub,
		Status:     status,
		CreatedAt:  now,
	}, nil
}

// regenerate mints and persists a brand-new current key. Last resort only.
func (m *KeyManager) regenerate(ctx context.Context) (*models.SigningKey, error) {
	key, err := m.generateKey(constants.KeyStatusCurrent)
	if err != nil {
		return nil, err
	}
	if err := m.storeKey(ctx, key); err != nil {
		return nil, err
	}
	next, err := m.generateKey(constants.KeyStatusNext)
	if err != nil {
		return nil, err
	}
	if err := m.storeKey(ctx, next); err != nil {
		return nil, err
	}
	ring := &models.KeyRing{Current: key.KID, Next: next.KID}
	if err := m.storeRing(ctx, ring); err != nil {
		return nil, err
	}
	m.invalidateLocal()
	return key, nil
}

func (m *KeyManager) keyPath(kid string) string {
	return m.cfg.SecretPath + "/" + kid
}

func (m *KeyManager) storeKey(ctx context.Context, key *models.SigningKey) error {
	data, err := json.Marshal(models.MarshalKey(key))
	if err != nil {
		return err
	}
	return m.backend.Store(ctx, m.keyPath(key.KID), string(data))
}

func (m *KeyManager) loadKey(ctx context.Context, kid string) (*models.SigningKey, error) {
	raw, err := m.backend.Fetch(ctx, m.keyPath(kid))
	if err != nil {
		return nil, err
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode key record %s: %w", kid, err)
	}
	return models.UnmarshalKey(rec)
}

// loadRing prefers the shared-cache copy so a rotation elsewhere in the
// fleet is visible immediately; the backend copy is the durable fallback.
func (m *KeyManager) loadRing(ctx context.Context) (*models.KeyRing, error) {
	raw, err := m.cache.Get(ctx, constants.CacheNSKeyRing)
	if err != nil {
		raw, err = m.backend.Fetch(ctx, m.keyPath(keyRingPath))
		if err != nil {
			return nil, err
		}
	}
	var ring models.KeyRing
	if err := json.Unmarshal([]byte(raw), &ring); err != nil {
		return nil, fmt.Errorf("decode keyring: %w", err)
	}
	return &ring, nil
}

func (m *KeyManager) storeRing(ctx context.Context, ring *models.KeyRing) error {
	data, err := json.Marshal(ring)
	if err != nil {
		return err
	}
	if err := m.backend.Store(ctx, m.keyPath(keyRingPath), string(data)); err != nil {
		return err
	}
	// Shared-cache copy is written after the durable copy; it has no TTL
	// and is only ever replaced wholesale.
	if err := m.cache.Set(ctx, constants.CacheNSKeyRing, string(data), 0); err != nil {
		m.log.Warn(ctx, "Failed to publish keyring to shared cache", logger.Error(err))
	}
	return nil
}

func (m *KeyManager) invalidateLocal() {
	m.local.Delete(localKeySigning)
	m.local.Delete(localKeyVerification)
}
