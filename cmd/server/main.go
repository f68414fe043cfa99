package main

import (
	"context"
	stderrors "errors"
	stdlog "log"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	appservice "github.com/daybook-io/daybook-auth/internal/application/service"
	"github.com/daybook-io/daybook-auth/internal/config"
	domainservice "github.com/daybook-io/daybook-auth/internal/domain/service"
	"github.com/daybook-io/daybook-auth/internal/infrastructure/audit"
	"github.com/daybook-io/daybook-auth/internal/infrastructure/crypto"
	"github.com/daybook-io/daybook-auth/internal/infrastructure/monitoring"
	"github.com/daybook-io/daybook-auth/internal/infrastructure/persistence/postgres"
	"github.com/daybook-io/daybook-auth/internal/infrastructure/persistence/redis"
	"github.com/daybook-io/daybook-auth/internal/infrastructure/ratelimit"
	"github.com/daybook-io/daybook-auth/internal/infrastructure/secrets"
	grpciface "github.com/daybook-io/daybook-auth/internal/interfaces/grpc"
	httpiface "github.com/daybook-io/daybook-auth/internal/interfaces/http"
	"github.com/daybook-io/daybook-auth/internal/interfaces/http/handlers"
	"github.com/daybook-io/daybook-auth/pkg/errors"
	"github.com/daybook-io/daybook-auth/pkg/logger"
)

const rotationCheckInterval = time.Hour

func main() {
	startupLog := logger.New("info")

	cfg, err := config.Load(startupLog)
	if err != nil {
		stdlog.Fatalf("failed to load config: %v", err)
	}

	log := logger.New(cfg.Log.Level)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracing, err := monitoring.NewTracingManager(&cfg.Tracing, log)
	if err != nil {
		stdlog.Fatalf("failed to initialize tracing: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			log.Warn(shutdownCtx, "Tracer shutdown failed", logger.Error(err))
		}
	}()

	redisConn, err := redis.NewConnection(ctx, &cfg.Redis, log)
	if err != nil {
		stdlog.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisConn.Close()
	cache := redis.NewCacheManager(redisConn, log)

	db, err := postgres.NewDBConnection(ctx, &cfg.Database, log)
	if err != nil {
		stdlog.Fatalf("failed to connect to postgres: %v", err)
	}
	defer db.Close()

	records := postgres.NewSessionRecordRepository(db, log)
	if err := records.Migrate(ctx); err != nil {
		stdlog.Fatalf("failed to migrate session records: %v", err)
	}

	backend, err := buildSecretsBackend(cfg, cache, log)
	if err != nil {
		stdlog.Fatalf("failed to build secrets backend: %v", err)
	}

	keyManager := crypto.NewKeyManager(backend, cache, &cfg.Keys, log)
	if err := keyManager.Initialize(ctx); err != nil {
		stdlog.Fatalf("failed to initialize signing keys: %v", err)
	}

	auditRecorder, auditClose, err := buildAuditRecorder(cfg, log)
	if err != nil {
		stdlog.Fatalf("failed to build audit recorder: %v", err)
	}
	defer auditClose()

	metrics := monitoring.NewMetrics()
	limiter := ratelimit.NewRedisRateLimiter(redisConn,
		cfg.RateLimit.LoginPerMinute, cfg.RateLimit.BurstSize, log)

	tokenSvc := domainservice.NewTokenService(keyManager, cache, &cfg.Tokens, log)
	sessionSvc := domainservice.NewSessionService(cache, &cfg.Sessions, log)
	rotationSvc := domainservice.NewRotationService(cache, tokenSvc, sessionSvc, auditRecorder, &cfg.Tokens, log)
	authApp := appservice.NewAuthAppService(tokenSvc, rotationSvc, sessionSvc, records, auditRecorder, metrics, &cfg.Tokens, log)

	router := httpiface.NewRouter(cfg, log, httpiface.Deps{
		Auth:   handlers.NewAuthHandler(authApp, cfg, log),
		JWKS:   handlers.NewJWKSHandler(keyManager, log),
		Health: handlers.NewHealthHandler(log,
			handlers.HealthChecker{Name: "redis", Check: redisConn.HealthCheck},
			handlers.HealthChecker{Name: "postgres", Check: db.HealthCheck},
		),
		Tokens:   tokenSvc,
		Sessions: sessionSvc,
		Limiter:  limiter,
		Metrics:  metrics,
	})

	grpcChain := grpciface.NewInterceptorChain(log, tokenSvc, limiter)
	grpcServer := grpciface.NewServer(cfg, log, grpcChain)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(router.Start)
	g.Go(grpcServer.Start)
	g.Go(func() error {
		runRotationChecker(gctx, keyManager, backend, metrics, log)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		grpcServer.Stop()
		return router.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error(context.Background(), "Server exited with error", err)
	}
	log.Info(context.Background(), "Shutdown complete")
}

// buildSecretsBackend selects the configured backend and, when a cache key
// is provided, wraps it with the encrypted Redis cache and circuit breaker.
func buildSecretsBackend(cfg *config.Config, cache redis.CacheManager, log logger.Logger) (secrets.Backend, error) {
	var (
		backend secrets.Backend
		err     error
	)
	switch cfg.Secrets.Backend {
	case "memory":
		backend = secrets.NewMemoryBackend()
	case "file":
		backend, err = secrets.NewFileBackend(cfg.Secrets.FilePath)
	case "vault":
		backend, err = secrets.NewVaultBackend(&cfg.Vault, log)
	default:
		err = stderrors.New("unknown secrets backend " + cfg.Secrets.Backend)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Secrets.CacheKey == "" {
		return backend, nil
	}
	crypter, err := secrets.NewCrypter(cfg.Secrets.CacheKey)
	if err != nil {
		return nil, err
	}
	return secrets.NewCachedBackend(backend, cache, crypter, &cfg.Secrets, log), nil
}

// buildAuditRecorder prefers Kafka when brokers are configured and falls
// back to the relational store otherwise.
func buildAuditRecorder(cfg *config.Config, log logger.Logger) (domainservice.AuditRecorder, func(), error) {
	if len(cfg.Kafka.Brokers) > 0 {
		rec := audit.NewKafkaRecorder(&cfg.Kafka, log)
		return rec, func() {
			if err := rec.Close(); err != nil {
				log.Warn(context.Background(), "Kafka recorder close failed", logger.Error(err))
			}
		}, nil
	}

	store, err := audit.NewGormStore(&cfg.Database, log)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {}, nil
}

// runRotationChecker periodically promotes keys past their maximum age and
// purges retired material whose overlap window has lapsed. Rotation races
// with other replicas are expected and are not errors.
func runRotationChecker(ctx context.Context, km *crypto.KeyManager, backend secrets.Backend, metrics *monitoring.Metrics, log logger.Logger) {
	ticker := time.NewTicker(rotationCheckInterval)
	defer ticker.Stop()

	cached, _ := backend.(*secrets.CachedBackend)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if cached != nil {
			metrics.SecretsBreaker.WithLabelValues("secrets").Set(float64(cached.BreakerState()))
		}

		needed, reason, err := km.CheckRotationNeeded(ctx)
		if err != nil {
			log.Warn(ctx, "Rotation check failed", logger.Error(err))
			continue
		}
		if needed {
			log.Info(ctx, "Rotating signing keys", logger.String("reason", reason))
			switch err := km.RotateKeys(ctx, false); {
			case err == nil:
				metrics.KeyRotations.WithLabelValues("success").Inc()
			case stderrors.Is(err, errors.ErrRotationConflict):
				metrics.KeyRotations.WithLabelValues("conflict").Inc()
				log.Info(ctx, "Rotation already in progress elsewhere")
			default:
				metrics.KeyRotations.WithLabelValues("error").Inc()
				log.Error(ctx, "Key rotation failed", err)
			}
		}

		if purged, err := km.PurgeRetired(ctx); err != nil {
			log.Warn(ctx, "Retired key purge failed", logger.Error(err))
		} else if purged > 0 {
			log.Info(ctx, "Purged retired keys", logger.Int("count", purged))
		}
	}
}
