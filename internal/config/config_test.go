package config

import (
	"testing"
	"time"
)

// clearEnv blanks every key Load reads; viper treats empty env values as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range Keys() {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.GRPCAddr != ":9090" {
		t.Errorf("addrs = %q, %q", cfg.HTTPAddr, cfg.GRPCAddr)
	}
	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("RedisURL = %q", cfg.RedisURL)
	}
	if cfg.JWTIssuer != "sessionguard-auth" || cfg.JWTAudience != "sessionguard-api" {
		t.Errorf("issuer/audience = %q/%q", cfg.JWTIssuer, cfg.JWTAudience)
	}
	if cfg.AccessTTL != 15*time.Minute {
		t.Errorf("AccessTTL = %v, want 15m", cfg.AccessTTL)
	}
	if cfg.RefreshTTL != 720*time.Hour {
		t.Errorf("RefreshTTL = %v, want 720h", cfg.RefreshTTL)
	}
	if cfg.ReuseGraceMax != 24*time.Hour {
		t.Errorf("ReuseGraceMax = %v, want 24h", cfg.ReuseGraceMax)
	}
	if cfg.TxMaxAttempts != 5 || cfg.TxBackoffBase != 50*time.Millisecond || cfg.TxBackoffCap != 2*time.Second {
		t.Errorf("tx = %d, %v, %v", cfg.TxMaxAttempts, cfg.TxBackoffBase, cfg.TxBackoffCap)
	}
	if cfg.LogoutBatchSize != 100 {
		t.Errorf("LogoutBatchSize = %d, want 100", cfg.LogoutBatchSize)
	}
	if cfg.CookieSameSite != "lax" || cfg.CookieSecure {
		t.Errorf("cookie = %q secure=%v", cfg.CookieSameSite, cfg.CookieSecure)
	}
	if cfg.BcryptCost != 12 {
		t.Errorf("BcryptCost = %d, want 12", cfg.BcryptCost)
	}
	if cfg.SecurityEventsTopic != "sessionguard-security" {
		t.Errorf("SecurityEventsTopic = %q", cfg.SecurityEventsTopic)
	}
	if cfg.KafkaGroupID != "sessionguard-security-worker" || cfg.LokiURL != "" {
		t.Errorf("worker = %q, %q", cfg.KafkaGroupID, cfg.LokiURL)
	}
	if cfg.HasSigningMaterial() {
		t.Error("no signing material expected by default")
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("JWT_ACCESS_TTL", "5m")
	t.Setenv("JWT_REFRESH_TTL", "48h")
	t.Setenv("SESSION_TX_MAX_ATTEMPTS", "8")
	t.Setenv("COOKIE_SECURE", "true")
	t.Setenv("COOKIE_SAMESITE", "none")
	t.Setenv("JWT_ACCESS_SECRET", "a-secret")
	t.Setenv("JWT_REFRESH_SECRET", "r-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.AccessTTL != 5*time.Minute || cfg.RefreshTTL != 48*time.Hour {
		t.Errorf("TTLs = %v, %v", cfg.AccessTTL, cfg.RefreshTTL)
	}
	if cfg.TxMaxAttempts != 8 {
		t.Errorf("TxMaxAttempts = %d", cfg.TxMaxAttempts)
	}
	if !cfg.CookieSecure || cfg.CookieSameSite != "none" {
		t.Errorf("cookie = %q secure=%v", cfg.CookieSameSite, cfg.CookieSecure)
	}
	if !cfg.HasSigningMaterial() {
		t.Error("HasSigningMaterial = false")
	}
}

func TestLoad_Invalid(t *testing.T) {
	testCases := []struct {
		name string
		env  map[string]string
	}{
		{"access exceeds refresh", map[string]string{"JWT_ACCESS_TTL": "2h", "JWT_REFRESH_TTL": "1h"}},
		{"negative access", map[string]string{"JWT_ACCESS_TTL": "-1m"}},
		{"zero grace", map[string]string{"SESSION_REUSE_GRACE_MAX": "0s"}},
		{"attempts too high", map[string]string{"SESSION_TX_MAX_ATTEMPTS": "21"}},
		{"attempts too low", map[string]string{"SESSION_TX_MAX_ATTEMPTS": "-1"}},
		{"base above cap", map[string]string{"SESSION_TX_BACKOFF_BASE": "5s", "SESSION_TX_BACKOFF_CAP": "1s"}},
		{"batch size", map[string]string{"SESSION_LOGOUT_BATCH_SIZE": "-5"}},
		{"same site", map[string]string{"COOKIE_SAMESITE": "sometimes"}},
		{"bcrypt too low", map[string]string{"BCRYPT_COST": "3"}},
		{"bcrypt too high", map[string]string{"BCRYPT_COST": "32"}},
		{"one secret only", map[string]string{"JWT_ACCESS_SECRET": "a"}},
		{"equal secrets", map[string]string{"JWT_ACCESS_SECRET": "s", "JWT_REFRESH_SECRET": "s"}},
		{"production without keys", map[string]string{"APP_ENV": "production"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("Load should fail")
			}
		})
	}
}

func TestLoad_ProductionWithKeyPair(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_PRIVATE_KEY", "/etc/keys/private.pem")
	if _, err := Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestKafkaBrokersList(t *testing.T) {
	testCases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"localhost:9092", []string{"localhost:9092"}},
		{" a:1 , ,b:2 ", []string{"a:1", "b:2"}},
	}
	for _, tc := range testCases {
		got := (&Config{KafkaBrokers: tc.in}).KafkaBrokersList()
		if len(got) != len(tc.want) {
			t.Errorf("KafkaBrokersList(%q) = %v, want %v", tc.in, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("KafkaBrokersList(%q) = %v, want %v", tc.in, got, tc.want)
			}
		}
	}
	var nilCfg *Config
	if nilCfg.KafkaBrokersList() != nil {
		t.Error("nil config should return nil")
	}
}
