package membrane

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML shape accepted by [LoadConfigFile]. Every field
// is optional; absent values keep their defaults. Durations use Go
// syntax ("15m", "24h"). Integer fields are pointers so an explicit
// zero (e.g. history_depth: 0 to disable the reuse check) is
// distinguishable from an absent key.
type FileConfig struct {
	Lockout struct {
		MaxFailedAttempts *int   `yaml:"max_failed_attempts"`
		LockoutDuration   string `yaml:"lockout_duration"`
	} `yaml:"lockout"`
	Policy struct {
		MinLength    *int   `yaml:"min_length"`
		HistoryDepth *int   `yaml:"history_depth"`
		MinimumAge   string `yaml:"minimum_age"`
		MaximumAge   string `yaml:"maximum_age"`
	} `yaml:"policy"`
	Session struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"session"`
	TwoFactor struct {
		Issuer string `yaml:"issuer"`
	} `yaml:"two_factor"`
	Reset struct {
		TokenTTL string `yaml:"token_ttl"`
	} `yaml:"reset"`
}

// LoadConfigFile reads a YAML policy file and overlays it on the default
// configuration. The result still goes through [Config.Validate] at
// Build time.
func LoadConfigFile(path string) (Config, error) {
	cfg := defaultConfig()

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var file FileConfig
	if err := yaml.NewDecoder(f).Decode(&file); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	if file.Lockout.MaxFailedAttempts != nil {
		cfg.Lockout.MaxFailedAttempts = *file.Lockout.MaxFailedAttempts
	}
	if err := overlayDuration(&cfg.Lockout.LockoutDuration, file.Lockout.LockoutDuration, "lockout.lockout_duration"); err != nil {
		return cfg, err
	}
	if file.Policy.MinLength != nil {
		cfg.Policy.MinLength = *file.Policy.MinLength
	}
	if file.Policy.HistoryDepth != nil {
		cfg.Policy.HistoryDepth = *file.Policy.HistoryDepth
	}
	if err := overlayDuration(&cfg.Policy.MinimumAge, file.Policy.MinimumAge, "policy.minimum_age"); err != nil {
		return cfg, err
	}
	if err := overlayDuration(&cfg.Policy.MaximumAge, file.Policy.MaximumAge, "policy.maximum_age"); err != nil {
		return cfg, err
	}
	if err := overlayDuration(&cfg.Session.Timeout, file.Session.Timeout, "session.timeout"); err != nil {
		return cfg, err
	}
	if file.TwoFactor.Issuer != "" {
		cfg.TwoFactor.Issuer = file.TwoFactor.Issuer
	}
	if err := overlayDuration(&cfg.Reset.TokenTTL, file.Reset.TokenTTL, "reset.token_ttl"); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func overlayDuration(dst *time.Duration, raw, field string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse config %s: %w", field, err)
	}
	*dst = d
	return nil
}
