package config

import (
	"fmt"
	"time"

	"github.com/daybook-io/daybook-auth/pkg/constants"
)

// Config holds the application's configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Vault     VaultConfig     `mapstructure:"vault"`
	Secrets   SecretsConfig   `mapstructure:"secrets"`
	Keys      KeyConfig       `mapstructure:"keys"`
	Tokens    TokenConfig     `mapstructure:"tokens"`
	Sessions  SessionConfig   `mapstructure:"sessions"`
	Cookies   CookieConfig    `mapstructure:"cookies"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Log       LogConfig       `mapstructure:"log"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	GRPCPort     int           `mapstructure:"grpc_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// AllowedOrigins lists the origins permitted to make credentialed
	// cross-origin requests.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

type RedisConfig struct {
	Addr         string `mapstructure:"addr"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

type VaultConfig struct {
	Address   string `mapstructure:"address"`
	Token     string `mapstructure:"token"`
	MountPath string `mapstructure:"mount_path"`
}

// SecretsConfig controls the cached production secrets backend.
type SecretsConfig struct {
	// Backend selects the implementation: "memory", "file", or "vault".
	Backend string `mapstructure:"backend"`
	// FilePath is the directory used by the file backend.
	FilePath string `mapstructure:"file_path"`
	// CacheTTL is the normal lifetime of an encrypted cache entry.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	// StaleTTL bounds how far past CacheTTL a cached value may be served
	// while the circuit is open. Read paths only.
	StaleTTL time.Duration `mapstructure:"stale_ttl"`
	// CacheKey is the base64 32-byte key for cache encryption. Process-local.
	CacheKey string `mapstructure:"cache_key"`
	// BreakerThreshold is the consecutive-failure count that opens the circuit.
	BreakerThreshold int `mapstructure:"breaker_threshold"`
	// BreakerCooldown is how long the circuit stays open before a trial call.
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
}

// KeyConfig controls the signing-key lifecycle.
type KeyConfig struct {
	// MaxAge is the key age past which rotation is recommended.
	MaxAge time.Duration `mapstructure:"max_age"`
	// OverlapWindow keeps retiring keys verifiable after demotion.
	OverlapWindow time.Duration `mapstructure:"overlap_window"`
	// VerificationCacheTTL bounds staleness of the cached verification set.
	VerificationCacheTTL time.Duration `mapstructure:"verification_cache_ttl"`
	// SecretPath is the path prefix for key material in the secrets backend.
	SecretPath string `mapstructure:"secret_path"`
	// RotationLockTTL bounds how long the distributed rotation lock is held.
	RotationLockTTL time.Duration `mapstructure:"rotation_lock_ttl"`
}

// TokenConfig holds per-type TTLs and claim policy.
type TokenConfig struct {
	Issuer     string        `mapstructure:"issuer"`
	AccessTTL  time.Duration `mapstructure:"access_ttl"`
	RefreshTTL time.Duration `mapstructure:"refresh_ttl"`
	M2MTTL     time.Duration `mapstructure:"m2m_ttl"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

// TTLFor returns the configured TTL for a token type.
func (c *TokenConfig) TTLFor(t constants.TokenType) time.Duration {
	switch t {
	case constants.TokenTypeAccess:
		return c.AccessTTL
	case constants.TokenTypeRefresh:
		return c.RefreshTTL
	case constants.TokenTypeM2M:
		return c.M2MTTL
	case constants.TokenTypeSession:
		return c.SessionTTL
	}
	return c.AccessTTL
}

// SessionConfig controls server-side session lifecycle.
type SessionConfig struct {
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	HardLimit      time.Duration `mapstructure:"hard_limit"`
	RotateEveryN   int           `mapstructure:"rotate_every_n"`
	RotateInterval time.Duration `mapstructure:"rotate_interval"`
}

// CookieConfig controls refresh and session cookie attributes.
type CookieConfig struct {
	Domain   string `mapstructure:"domain"`
	Secure   bool   `mapstructure:"secure"`
	SameSite string `mapstructure:"same_site"`
}

type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	AuditTopic   string        `mapstructure:"audit_topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

type RateLimitConfig struct {
	LoginPerMinute int `mapstructure:"login_per_minute"`
	BurstSize      int `mapstructure:"burst_size"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type TracingConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	ServiceName    string `mapstructure:"service_name"`
}

// Validate checks for essential configuration values.
func (c *Config) Validate() error {
	if c.Tokens.AccessTTL <= 0 || c.Tokens.RefreshTTL <= 0 {
		return fmt.Errorf("token TTLs must be positive")
	}
	if c.Keys.OverlapWindow < c.Tokens.RefreshTTL {
		return fmt.Errorf("keys.overlap_window (%s) must cover the longest-lived token TTL (%s)",
			c.Keys.OverlapWindow, c.Tokens.RefreshTTL)
	}
	if c.Sessions.IdleTimeout <= 0 || c.Sessions.HardLimit < c.Sessions.IdleTimeout {
		return fmt.Errorf("sessions.hard_limit must be >= sessions.idle_timeout")
	}
	switch c.Secrets.Backend {
	case "memory", "file", "vault":
	default:
		return fmt.Errorf("unknown secrets backend %q", c.Secrets.Backend)
	}
	return nil
}
