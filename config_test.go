package membrane

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestConfigValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero attempts", func(c *Config) { c.Lockout.MaxFailedAttempts = 0 }, "MaxFailedAttempts"},
		{"zero lockout duration", func(c *Config) { c.Lockout.LockoutDuration = 0 }, "LockoutDuration"},
		{"short min length", func(c *Config) { c.Policy.MinLength = 6 }, "MinLength"},
		{"negative history", func(c *Config) { c.Policy.HistoryDepth = -1 }, "HistoryDepth"},
		{"min age above max age", func(c *Config) {
			c.Policy.MinimumAge = 100 * 24 * time.Hour
		}, "MinimumAge"},
		{"weak argon memory", func(c *Config) { c.Password.Memory = 1024 }, "Memory"},
		{"zero session timeout", func(c *Config) { c.Session.Timeout = 0 }, "Timeout"},
		{"seven digit codes", func(c *Config) { c.TwoFactor.Digits = 7 }, "Digits"},
		{"tiny period", func(c *Config) { c.TwoFactor.Period = 5 }, "Period"},
		{"wide skew", func(c *Config) { c.TwoFactor.Skew = 3 }, "Skew"},
		{"zero challenge ttl", func(c *Config) { c.TwoFactor.ChallengeTTL = 0 }, "ChallengeTTL"},
		{"zero reset ttl", func(c *Config) { c.Reset.TokenTTL = 0 }, "TokenTTL"},
		{"audit enabled without buffer", func(c *Config) { c.Audit.BufferSize = 0 }, "BufferSize"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadConfigFileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	raw := `
lockout:
  max_failed_attempts: 5
  lockout_duration: 30m
policy:
  min_length: 14
  minimum_age: 12h
session:
  timeout: 1h
two_factor:
  issuer: example-app
reset:
  token_ttl: 2h
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile failed: %v", err)
	}

	if cfg.Lockout.MaxFailedAttempts != 5 {
		t.Fatalf("MaxFailedAttempts = %d", cfg.Lockout.MaxFailedAttempts)
	}
	if cfg.Lockout.LockoutDuration != 30*time.Minute {
		t.Fatalf("LockoutDuration = %v", cfg.Lockout.LockoutDuration)
	}
	if cfg.Policy.MinLength != 14 {
		t.Fatalf("MinLength = %d", cfg.Policy.MinLength)
	}
	if cfg.Policy.MinimumAge != 12*time.Hour {
		t.Fatalf("MinimumAge = %v", cfg.Policy.MinimumAge)
	}
	if cfg.Session.Timeout != time.Hour {
		t.Fatalf("Timeout = %v", cfg.Session.Timeout)
	}
	if cfg.TwoFactor.Issuer != "example-app" {
		t.Fatalf("Issuer = %q", cfg.TwoFactor.Issuer)
	}
	if cfg.Reset.TokenTTL != 2*time.Hour {
		t.Fatalf("TokenTTL = %v", cfg.Reset.TokenTTL)
	}

	// Untouched fields keep their defaults.
	if cfg.Policy.HistoryDepth != 2 {
		t.Fatalf("HistoryDepth = %d, want default", cfg.Policy.HistoryDepth)
	}
	if cfg.Password.Memory != 65536 {
		t.Fatalf("Memory = %d, want default", cfg.Password.Memory)
	}
}

func TestLoadConfigFileExpressesZeroValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	raw := `
policy:
  history_depth: 0
  minimum_age: 0s
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile failed: %v", err)
	}

	// An explicit zero disables the gate; it must not be mistaken for
	// an absent key and overwritten by the default.
	if cfg.Policy.HistoryDepth != 0 {
		t.Fatalf("HistoryDepth = %d, want 0", cfg.Policy.HistoryDepth)
	}
	if cfg.Policy.MinimumAge != 0 {
		t.Fatalf("MinimumAge = %v, want 0", cfg.Policy.MinimumAge)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("zeroed gates must still validate: %v", err)
	}

	if cfg.Policy.MinLength != 12 {
		t.Fatalf("MinLength = %d, want default", cfg.Policy.MinLength)
	}
}

func TestLoadConfigFileRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("session:\n  timeout: tomorrow\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := LoadConfigFile(path); err == nil {
		t.Fatal("expected parse error for bad duration")
	}
}

func TestBuilderRequiresDependencies(t *testing.T) {
	if _, err := New().Build(); err == nil {
		t.Fatal("Build without redis must fail")
	}

	_, client := newTestRedis(t)
	if _, err := New().WithRedis(client).Build(); err == nil {
		t.Fatal("Build without credential store must fail")
	}

	engine, err := New().
		WithConfig(testConfig()).
		WithRedis(client).
		WithCredentialStore(newMockStore()).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	engine.Close()
}

func TestBuilderBuildsOnce(t *testing.T) {
	_, client := newTestRedis(t)
	b := New().
		WithConfig(testConfig()).
		WithRedis(client).
		WithCredentialStore(newMockStore())

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	if _, err := b.Build(); err == nil {
		t.Fatal("second Build must fail")
	}
}
