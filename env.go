package authcore

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadEnvConfig builds a Config from AUTHCORE_* environment variables on top
// of DefaultConfig. When path is non-empty that dotenv file is loaded first;
// otherwise a ./.env is picked up when present. Unset variables keep their
// defaults.
//
// Variables:
//
//	AUTHCORE_ACCESS_SECRET       AUTHCORE_REFRESH_SECRET
//	AUTHCORE_ACCESS_TTL          AUTHCORE_REFRESH_TTL
//	AUTHCORE_ISSUER
//	AUTHCORE_LOCKOUT_MAX_FAILURES  AUTHCORE_LOCKOUT_DURATION
//	AUTHCORE_RATE_AUTH_MAX       AUTHCORE_RATE_AUTH_WINDOW
//	AUTHCORE_RATE_API_MAX        AUTHCORE_RATE_API_WINDOW
//	AUTHCORE_TRUSTED_ORIGINS     (comma separated)
//	AUTHCORE_KEY_PREFIX          AUTHCORE_PRODUCTION
func LoadEnvConfig(path string) (Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return Config{}, fmt.Errorf("load env file %s: %w", path, err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg := DefaultConfig()

	cfg.Token.AccessSecret = []byte(os.Getenv("AUTHCORE_ACCESS_SECRET"))
	cfg.Token.RefreshSecret = []byte(os.Getenv("AUTHCORE_REFRESH_SECRET"))

	var err error
	if cfg.Token.AccessTTL, err = envDuration("AUTHCORE_ACCESS_TTL", cfg.Token.AccessTTL); err != nil {
		return Config{}, err
	}
	if cfg.Token.RefreshTTL, err = envDuration("AUTHCORE_REFRESH_TTL", cfg.Token.RefreshTTL); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("AUTHCORE_ISSUER"); v != "" {
		cfg.Token.Issuer = v
	}

	if cfg.Lockout.MaxFailures, err = envInt("AUTHCORE_LOCKOUT_MAX_FAILURES", cfg.Lockout.MaxFailures); err != nil {
		return Config{}, err
	}
	if cfg.Lockout.Duration, err = envDuration("AUTHCORE_LOCKOUT_DURATION", cfg.Lockout.Duration); err != nil {
		return Config{}, err
	}

	if cfg.RateLimit.Auth.MaxRequests, err = envInt("AUTHCORE_RATE_AUTH_MAX", cfg.RateLimit.Auth.MaxRequests); err != nil {
		return Config{}, err
	}
	if cfg.RateLimit.Auth.Window, err = envDuration("AUTHCORE_RATE_AUTH_WINDOW", cfg.RateLimit.Auth.Window); err != nil {
		return Config{}, err
	}
	if cfg.RateLimit.API.MaxRequests, err = envInt("AUTHCORE_RATE_API_MAX", cfg.RateLimit.API.MaxRequests); err != nil {
		return Config{}, err
	}
	if cfg.RateLimit.API.Window, err = envDuration("AUTHCORE_RATE_API_WINDOW", cfg.RateLimit.API.Window); err != nil {
		return Config{}, err
	}

	if v := os.Getenv("AUTHCORE_TRUSTED_ORIGINS"); v != "" {
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CSRF.TrustedOrigins = append(cfg.CSRF.TrustedOrigins, o)
			}
		}
	}

	if v := os.Getenv("AUTHCORE_KEY_PREFIX"); v != "" {
		cfg.KeyPrefix = v
	}
	if v := os.Getenv("AUTHCORE_PRODUCTION"); v != "" {
		cfg.Production, err = strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("AUTHCORE_PRODUCTION: %w", err)
		}
	}

	return cfg, nil
}

func envDuration(name string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return d, nil
}

func envInt(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}
