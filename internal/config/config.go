// Package config loads process configuration from ACCESSGATE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"accessgate.dev/internal/access"
	"accessgate.dev/internal/auth"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config is the full process configuration.
type Config struct {
	HTTPAddr        string        `env:"HTTP_ADDR"        envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"memory"`
	PostgresDSN string `env:"PG_DSN"`
	SQLitePath  string `env:"SQLITE_PATH"  envDefault:"data/accessgate.db"`

	StaffTokenSecret string `env:"STAFF_TOKEN_SECRET"`
	StaffTokenIssuer string `env:"STAFF_TOKEN_ISSUER" envDefault:"accessgate-sso"`

	LinkTokenBytes    int           `env:"LINK_TOKEN_BYTES"    envDefault:"32"`
	SessionTokenBytes int           `env:"SESSION_TOKEN_BYTES" envDefault:"32"`
	OTPLength         int           `env:"OTP_LENGTH"          envDefault:"6"`
	OTPCharset        string        `env:"OTP_CHARSET"         envDefault:"0123456789"`
	OTPTTL            time.Duration `env:"OTP_TTL"             envDefault:"10m"`
	SessionTTL        time.Duration `env:"SESSION_TTL"         envDefault:"24h"`
	MaxAttempts       int           `env:"OTP_MAX_ATTEMPTS"    envDefault:"5"`
	MinOTPInterval    time.Duration `env:"OTP_MIN_INTERVAL"    envDefault:"30s"`

	// Per-client limits at the HTTP edge; RPS <= 0 disables the limiter.
	PortalRPS   float64 `env:"PORTAL_RATE_LIMIT_RPS"   envDefault:"5"`
	PortalBurst int     `env:"PORTAL_RATE_LIMIT_BURST" envDefault:"10"`

	// Addresses or CIDRs of reverse proxies whose X-Forwarded-For is honoured.
	// Empty means the socket peer is always the client.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	MinShareRole string `env:"MIN_SHARE_ROLE" envDefault:"manager"`
}

// Load parses the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "ACCESSGATE_"}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that struct tags cannot express.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverMemory:
	case DriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return errors.New("config: ACCESSGATE_SQLITE_PATH is required for the sqlite driver")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return errors.New("config: ACCESSGATE_PG_DSN is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown store driver %q", c.StoreDriver)
	}
	if _, ok := auth.ParseRole(c.MinShareRole); !ok {
		return fmt.Errorf("config: unknown role %q for ACCESSGATE_MIN_SHARE_ROLE", c.MinShareRole)
	}
	if c.PortalRPS > 0 && c.PortalBurst < 1 {
		return errors.New("config: ACCESSGATE_PORTAL_RATE_LIMIT_BURST must be positive")
	}
	if _, err := c.Proxies(); err != nil {
		return err
	}
	if err := c.Access().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Access returns the access-link policy.
func (c Config) Access() access.Config {
	return access.Config{
		LinkTokenBytes:    c.LinkTokenBytes,
		SessionTokenBytes: c.SessionTokenBytes,
		OTPLength:         c.OTPLength,
		OTPAlphabet:       c.OTPCharset,
		OTPTTL:            c.OTPTTL,
		SessionTTL:        c.SessionTTL,
		MaxAttempts:       c.MaxAttempts,
		MinOTPInterval:    c.MinOTPInterval,
	}
}

// ShareRole returns the minimum role allowed to create links.
func (c Config) ShareRole() auth.Role {
	r, _ := auth.ParseRole(c.MinShareRole)
	return r
}

// Proxies parses TrustedProxies. Bare addresses become single-host prefixes.
func (c Config) Proxies() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, raw := range c.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("config: invalid ACCESSGATE_TRUSTED_PROXIES entry %q", raw)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("config: invalid ACCESSGATE_TRUSTED_PROXIES entry %q", raw)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}
