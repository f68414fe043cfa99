package config

import (
	"context"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/daybook-io/daybook-auth/pkg/constants"
	"github.com/daybook-io/daybook-auth/pkg/logger"
)

// Load reads configuration from file and environment variables, applying
// defaults for everything not set. Environment variables use the
// DAYBOOK_AUTH prefix with dots replaced by underscores.
func Load(log logger.Logger) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/daybook-auth/")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	v.SetEnvPrefix("DAYBOOK_AUTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Reload on file change so log level tweaks don't need a restart.
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Info(context.Background(), "Config file changed",
			logger.String("file", e.Name))
	})
	v.WatchConfig()

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("vault.address", "http://localhost:8200")
	v.SetDefault("vault.mount_path", "secret")

	v.SetDefault("secrets.backend", "vault")
	v.SetDefault("secrets.cache_ttl", "5m")
	v.SetDefault("secrets.stale_ttl", "1h")
	v.SetDefault("secrets.breaker_threshold", 5)
	v.SetDefault("secrets.breaker_cooldown", "30s")

	v.SetDefault("keys.max_age", constants.KeyMaxAgeDefault)
	v.SetDefault("keys.overlap_window", constants.KeyOverlapWindowDefault)
	v.SetDefault("keys.verification_cache_ttl", constants.VerificationKeyCacheTTL)
	v.SetDefault("keys.secret_path", "signing-keys")
	v.SetDefault("keys.rotation_lock_ttl", "30s")

	v.SetDefault("tokens.issuer", constants.DefaultIssuer)
	v.SetDefault("tokens.access_ttl", constants.AccessTokenDefaultTTL)
	v.SetDefault("tokens.refresh_ttl", constants.RefreshTokenDefaultTTL)
	v.SetDefault("tokens.m2m_ttl", constants.M2MTokenDefaultTTL)
	v.SetDefault("tokens.session_ttl", constants.SessionTokenDefaultTTL)

	v.SetDefault("sessions.idle_timeout", constants.SessionIdleTimeoutDefault)
	v.SetDefault("sessions.hard_limit", constants.SessionHardLimitDefault)
	v.SetDefault("sessions.rotate_every_n", constants.SessionRotateEveryRequests)
	v.SetDefault("sessions.rotate_interval", constants.SessionRotateEveryInterval)

	v.SetDefault("cookies.secure", true)
	v.SetDefault("cookies.same_site", "lax")

	v.SetDefault("kafka.audit_topic", "daybook.auth.audit")
	v.SetDefault("kafka.write_timeout", "5s")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "100ms")

	v.SetDefault("rate_limit.login_per_minute", 10)
	v.SetDefault("rate_limit.burst_size", 5)

	v.SetDefault("log.level", "info")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", constants.ServiceName)
}
