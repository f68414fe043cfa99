package secrets

import (
	"context"
	"encoding/json"
	"time"

	"github.com/daybook-io/daybook-auth/internal/config"
	rediscache "github.com/daybook-io/daybook-auth/internal/infrastructure/persistence/redis"
	"github.com/daybook-io/daybook-auth/pkg/constants"
	"github.com/daybook-io/daybook-auth/pkg/errors"
	"github.com/daybook-io/daybook-auth/pkg/logger"
)

// CachedBackend wraps a remote Backend with an encrypted shared-cache layer
// and a circuit breaker.
//
// Reads prefer a fresh cache entry, fall through to the remote on miss, and
// only while the circuit is open may serve a stale entry within the
// configured stale window ("stale but authenticated"). Writes always go to
// the remote and fail closed while the circuit is open.
type CachedBackend struct {
	remote   Backend
	cache    rediscache.CacheManager
	crypter  *Crypter
	breaker  *Breaker
	cacheTTL time.Duration
	staleTTL time.Duration
	log      logger.Logger
	now      func() time.Time
}

// cacheEntry is the plaintext form of one encrypted cache record.
type cacheEntry struct {
	Value     string    `json:"value"`
	FetchedAt time.Time `json:"fetched_at"`
}

// NewCachedBackend wires the production secrets path.
func NewCachedBackend(
	remote Backend,
	cache rediscache.CacheManager,
	crypter *Crypter,
	cfg *config.SecretsConfig,
	log logger.Logger,
) *CachedBackend {
	return &CachedBackend{
		remote:   remote,
		cache:    cache,
		crypter:  crypter,
		breaker:  NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		cacheTTL: cfg.CacheTTL,
		staleTTL: cfg.StaleTTL,
		log:      log.WithComponent("secrets"),
		now:      time.Now,
	}
}

func (b *CachedBackend) cacheKey(path string) string {
	return constants.CacheNSSecrets + path
}

// Fetch returns the freshest available value for path. The not-found result
// of the remote store is authoritative and is never masked by stale cache.
func (b *CachedBackend) Fetch(ctx context.Context, path string) (string, error) {
	entry, cacheErr := b.readCache(ctx, path)
	if cacheErr == nil && b.now().Sub(entry.FetchedAt) < b.cacheTTL {
		return entry.Value, nil
	}

	if err := b.breaker.Allow(); err != nil {
		// Circuit open: reads may serve a stale entry within the window.
		if cacheErr == nil && b.now().Sub(entry.FetchedAt) < b.staleTTL {
			b.log.Warn(ctx, "Serving stale secret, circuit open",
				logger.String("path", path),
				logger.Time("fetched_at", entry.FetchedAt))
			return entry.Value, nil
		}
		return "", errors.ErrSecretsUnavailable
	}

	value, err := b.remote.Fetch(ctx, path)
	if err != nil {
		if errors.IsNotFound(err) {
			// A definitive miss is not a backend failure.
			b.breaker.RecordSuccess()
			return "", err
		}
		b.breaker.RecordFailure()
		// The remote failed but the breaker has not opened yet; a stale
		// entry is still better than an error on the read path.
		if cacheErr == nil && b.now().Sub(entry.FetchedAt) < b.staleTTL {
			b.log.Warn(ctx, "Serving stale secret after remote failure",
				logger.String("path", path), logger.Error(err))
			return entry.Value, nil
		}
		return "", err
	}
	b.breaker.RecordSuccess()

	b.writeCache(ctx, path, value)
	return value, nil
}

// Store writes through to the remote and refreshes the cache entry. Writes
// fail closed while the circuit is open.
func (b *CachedBackend) Store(ctx context.Context, path, value string) error {
	if err := b.breaker.Allow(); err != nil {
		return errors.ErrSecretsUnavailable
	}
	if err := b.remote.Store(ctx, path, value); err != nil {
		b.breaker.RecordFailure()
		return err
	}
	b.breaker.RecordSuccess()
	b.writeCache(ctx, path, value)
	return nil
}

func (b *CachedBackend) Exists(ctx context.Context, path string) (bool, error) {
	_, err := b.Fetch(ctx, path)
	if err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete removes the value from the remote and drops the cache entry. Like
// Store, it fails closed while the circuit is open.
func (b *CachedBackend) Delete(ctx context.Context, path string) error {
	if err := b.breaker.Allow(); err != nil {
		return errors.ErrSecretsUnavailable
	}
	err := b.remote.Delete(ctx, path)
	if err != nil && !errors.IsNotFound(err) {
		b.breaker.RecordFailure()
		return err
	}
	b.breaker.RecordSuccess()
	if cerr := b.cache.Delete(ctx, b.cacheKey(path)); cerr != nil {
		b.log.Warn(ctx, "Failed to drop cached secret",
			logger.String("path", path), logger.Error(cerr))
	}
	return err
}

// BreakerState exposes the breaker for health reporting.
func (b *CachedBackend) BreakerState() BreakerState {
	return b.breaker.State()
}

func (b *CachedBackend) readCache(ctx context.Context, path string) (*cacheEntry, error) {
	sealed, err := b.cache.Get(ctx, b.cacheKey(path))
	if err != nil {
		return nil, err
	}
	plain, err := b.crypter.Open(sealed)
	if err != nil {
		// An undecryptable entry is useless; drop it so it can be refilled.
		b.log.Warn(ctx, "Dropping undecryptable cached secret",
			logger.String("path", path), logger.Error(err))
		_ = b.cache.Delete(ctx, b.cacheKey(path))
		return nil, errors.ErrNotFound
	}
	var entry cacheEntry
	if err := json.Unmarshal([]byte(plain), &entry); err != nil {
		return nil, errors.ErrNotFound
	}
	return &entry, nil
}

func (b *CachedBackend) writeCache(ctx context.Context, path, value string) {
	entry := cacheEntry{Value: value, FetchedAt: b.now()}
	plain, err := json.Marshal(entry)
	if err != nil {
		return
	}
	sealed, err := b.crypter.Seal(string(plain))
	if err != nil {
		b.log.Warn(ctx, "Failed to seal secret for cache",
			logger.String("path", path), logger.Error(err))
		return
	}
	// Entries live for the stale window; freshness is judged on read from
	// FetchedAt so one record serves both the fresh and the stale path.
	if err := b.cache.Set(ctx, b.cacheKey(path), sealed, b.staleTTL); err != nil {
		b.log.Warn(ctx, "Failed to cache secret",
			logger.String("path", path), logger.Error(err))
	}
}
