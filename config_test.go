package authcore

import (
	"testing"
	"time"
)

func TestDefaultConfigNeedsSecrets(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation failure without secrets")
	}

	cfg.Token.AccessSecret = []byte("access-secret-0123456789abcdefgh")
	cfg.Token.RefreshSecret = []byte("refresh-secret-0123456789abcdefg")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate with secrets: %v", err)
	}
}

func TestValidateRejectsMatchingSecrets(t *testing.T) {
	cfg := testConfig()
	cfg.Token.RefreshSecret = append([]byte(nil), cfg.Token.AccessSecret...)
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected rejection of identical class secrets")
	}
}

func TestValidateLockoutBounds(t *testing.T) {
	cfg := testConfig()
	cfg.Lockout.MaxFailures = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected rejection of zero max failures")
	}

	cfg = testConfig()
	cfg.Lockout.Duration = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected rejection of zero lockout duration")
	}
}

func TestProductionHardening(t *testing.T) {
	base := func() Config {
		cfg := testConfig()
		cfg.Production = true
		cfg.CSRF.TrustedOrigins = []string{"https://apply.example.gov"}
		return cfg
	}

	cfg := base()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("hardened config rejected: %v", err)
	}

	cfg = base()
	cfg.Lockout.Duration = time.Minute
	if err := cfg.Validate(); err == nil {
		t.Error("expected rejection of short production lockout")
	}

	cfg = base()
	cfg.Lockout.MaxFailures = 50
	if err := cfg.Validate(); err == nil {
		t.Error("expected rejection of loose production lockout threshold")
	}

	cfg = base()
	cfg.CSRF.TrustedOrigins = nil
	if err := cfg.Validate(); err == nil {
		t.Error("expected rejection of empty production origin set")
	}
}

func TestLoadEnvConfig(t *testing.T) {
	t.Setenv("AUTHCORE_ACCESS_SECRET", "access-secret-0123456789abcdefgh")
	t.Setenv("AUTHCORE_REFRESH_SECRET", "refresh-secret-0123456789abcdefg")
	t.Setenv("AUTHCORE_ACCESS_TTL", "5m")
	t.Setenv("AUTHCORE_LOCKOUT_MAX_FAILURES", "3")
	t.Setenv("AUTHCORE_TRUSTED_ORIGINS", "https://apply.example.gov, https://admin.example.gov")
	t.Setenv("AUTHCORE_PRODUCTION", "false")

	cfg, err := LoadEnvConfig("")
	if err != nil {
		t.Fatalf("LoadEnvConfig: %v", err)
	}
	if cfg.Token.AccessTTL != 5*time.Minute {
		t.Errorf("AccessTTL = %v", cfg.Token.AccessTTL)
	}
	if cfg.Lockout.MaxFailures != 3 {
		t.Errorf("MaxFailures = %d", cfg.Lockout.MaxFailures)
	}
	if len(cfg.CSRF.TrustedOrigins) != 2 {
		t.Errorf("TrustedOrigins = %v", cfg.CSRF.TrustedOrigins)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	t.Setenv("AUTHCORE_ACCESS_TTL", "not-a-duration")
	if _, err := LoadEnvConfig(""); err == nil {
		t.Error("expected error for malformed duration")
	}
}
