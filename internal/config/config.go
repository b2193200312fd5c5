// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment. It is built
// once by Load and not modified afterwards.
type Config struct {
	// HTTPAddr is the address the HTTP API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the gRPC health service address; empty disables it.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// RedisURL is the shared key-value store (redis://host:port/db).
	RedisURL string `mapstructure:"REDIS_URL"`
	// DatabaseURL is the Postgres DSN of the user store; empty disables register and login.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// JWTAccessSecret and JWTRefreshSecret sign HS256 tokens when no key pair is set.
	JWTAccessSecret  string `mapstructure:"JWT_ACCESS_SECRET"`
	JWTRefreshSecret string `mapstructure:"JWT_REFRESH_SECRET"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; takes precedence over secrets.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; derived from the private key when empty.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer    string `mapstructure:"JWT_ISSUER"`
	JWTAudience  string `mapstructure:"JWT_AUDIENCE"`
	// AccessTTL and RefreshTTL are independent lifetimes; access must not outlive refresh.
	AccessTTL  time.Duration `mapstructure:"JWT_ACCESS_TTL"`
	RefreshTTL time.Duration `mapstructure:"JWT_REFRESH_TTL"`

	// ReuseGraceMax caps how long a rotated refresh record is kept for reuse detection.
	ReuseGraceMax time.Duration `mapstructure:"SESSION_REUSE_GRACE_MAX"`
	// TxMaxAttempts bounds optimistic transaction attempts (1..20).
	TxMaxAttempts int           `mapstructure:"SESSION_TX_MAX_ATTEMPTS"`
	TxBackoffBase time.Duration `mapstructure:"SESSION_TX_BACKOFF_BASE"`
	TxBackoffCap  time.Duration `mapstructure:"SESSION_TX_BACKOFF_CAP"`
	// LogoutBatchSize is the number of devices read per round trip on logout-all.
	LogoutBatchSize int `mapstructure:"SESSION_LOGOUT_BATCH_SIZE"`

	CookieDomain string `mapstructure:"COOKIE_DOMAIN"`
	CookieSecure bool   `mapstructure:"COOKIE_SECURE"`
	// CookieSameSite is lax, strict or none; none forces Secure.
	CookieSameSite string `mapstructure:"COOKIE_SAMESITE"`

	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// ReusePolicyPath optionally points at a Rego file replacing the built-in reuse response policy.
	ReusePolicyPath string `mapstructure:"REUSE_POLICY_PATH"`

	// KafkaBrokers is a comma-separated broker list; when set, security events go to Kafka.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// SecurityEventsTopic is the Kafka topic for security events.
	SecurityEventsTopic string `mapstructure:"SECURITY_EVENTS_TOPIC"`
	// KafkaGroupID is the consumer group of the security event worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// LokiURL is the Loki base URL the worker pushes security events to.
	LokiURL string `mapstructure:"LOKI_URL"`

	// OTLPEndpoint enables OTLP traces, metrics and logs when non-empty (e.g. localhost:4317).
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	LogLevel string `mapstructure:"LOG_LEVEL"`
	// Env is the application environment; "production" requires signing material to be set.
	Env string `mapstructure:"APP_ENV"`
}

var defaults = map[string]any{
	"HTTP_ADDR":                   ":8080",
	"GRPC_ADDR":                   ":9090",
	"REDIS_URL":                   "redis://localhost:6379/0",
	"DATABASE_URL":                "",
	"JWT_ACCESS_SECRET":           "",
	"JWT_REFRESH_SECRET":          "",
	"JWT_PRIVATE_KEY":             "",
	"JWT_PUBLIC_KEY":              "",
	"JWT_ISSUER":                  "sessionguard-auth",
	"JWT_AUDIENCE":                "sessionguard-api",
	"JWT_ACCESS_TTL":              "15m",
	"JWT_REFRESH_TTL":             "720h",
	"SESSION_REUSE_GRACE_MAX":     "24h",
	"SESSION_TX_MAX_ATTEMPTS":     5,
	"SESSION_TX_BACKOFF_BASE":     "50ms",
	"SESSION_TX_BACKOFF_CAP":      "2s",
	"SESSION_LOGOUT_BATCH_SIZE":   100,
	"COOKIE_DOMAIN":               "",
	"COOKIE_SECURE":               false,
	"COOKIE_SAMESITE":             "lax",
	"BCRYPT_COST":                 12,
	"REUSE_POLICY_PATH":           "",
	"KAFKA_BROKERS":               "",
	"SECURITY_EVENTS_TOPIC":       "sessionguard-security",
	"KAFKA_GROUP_ID":              "sessionguard-security-worker",
	"LOKI_URL":                    "",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "",
	"OTEL_EXPORTER_OTLP_INSECURE": false,
	"LOG_LEVEL":                   "info",
	"APP_ENV":                     "",
}

// Keys lists every environment variable Load reads.
func Keys() []string {
	out := make([]string, 0, len(defaults))
	for k := range defaults {
		out = append(out, k)
	}
	return out
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if c.RedisURL == "" {
		return errors.New("config: REDIS_URL must be set")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("config: JWT_ACCESS_TTL and JWT_REFRESH_TTL must be positive")
	}
	if c.AccessTTL > c.RefreshTTL {
		return errors.New("config: JWT_ACCESS_TTL must not exceed JWT_REFRESH_TTL")
	}
	if c.ReuseGraceMax <= 0 {
		return errors.New("config: SESSION_REUSE_GRACE_MAX must be positive")
	}
	if c.TxMaxAttempts < 1 || c.TxMaxAttempts > 20 {
		return errors.New("config: SESSION_TX_MAX_ATTEMPTS must be between 1 and 20")
	}
	if c.TxBackoffBase <= 0 || c.TxBackoffCap < c.TxBackoffBase {
		return errors.New("config: SESSION_TX_BACKOFF_BASE must be positive and not exceed SESSION_TX_BACKOFF_CAP")
	}
	if c.LogoutBatchSize < 1 {
		return errors.New("config: SESSION_LOGOUT_BATCH_SIZE must be positive")
	}
	switch strings.ToLower(c.CookieSameSite) {
	case "lax", "strict", "none":
	default:
		return fmt.Errorf("config: COOKIE_SAMESITE must be lax, strict or none, got %q", c.CookieSameSite)
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if c.JWTPrivateKey == "" && (c.JWTAccessSecret == "") != (c.JWTRefreshSecret == "") {
		return errors.New("config: JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must be set together")
	}
	if c.JWTAccessSecret != "" && c.JWTAccessSecret == c.JWTRefreshSecret {
		return errors.New("config: JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}
	if c.Env == "production" && !c.HasSigningMaterial() {
		return errors.New("config: JWT_PRIVATE_KEY or JWT_ACCESS_SECRET/JWT_REFRESH_SECRET required when APP_ENV=production")
	}
	return nil
}

// HasSigningMaterial reports whether a key pair or both HMAC secrets are configured.
func (c *Config) HasSigningMaterial() bool {
	return c.JWTPrivateKey != "" || (c.JWTAccessSecret != "" && c.JWTRefreshSecret != "")
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// An empty list disables the security event producer.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
