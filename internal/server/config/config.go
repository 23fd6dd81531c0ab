package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	server "github.com/charadev96/gatehouse/internal/server/domain"
)

// Config is the server's environment-derived configuration. The
// roster seed and operator credentials live in a separate TOML file
// (see roster.go) referenced by RosterFile.
type Config struct {
	DatabaseDSN string `env:"GATEHOUSE_DB_DSN" envDefault:"file:gatehouse.db?cache=shared&mode=rwc"`
	AdminAddr   string `env:"GATEHOUSE_ADMIN_ADDR" envDefault:"127.0.0.1:8642"`
	// AdminCert/AdminKey switch the admin API to TLS when both are
	// set. Missing files are generated on first start.
	AdminCert string `env:"GATEHOUSE_ADMIN_CERT"`
	AdminKey  string `env:"GATEHOUSE_ADMIN_KEY"`

	Channel  string `env:"GATEHOUSE_CHANNEL,required"`
	Platform string `env:"GATEHOUSE_PLATFORM" envDefault:"memory"`

	// InviteTTL bounds the join link itself, not the subscription:
	// short enough to limit exposure if leaked, long enough for a
	// human to act on it.
	InviteTTL        time.Duration `env:"GATEHOUSE_INVITE_TTL" envDefault:"1h"`
	SubscriptionTerm time.Duration `env:"GATEHOUSE_SUBSCRIPTION_TERM" envDefault:"720h"`
	SweepInterval    time.Duration `env:"GATEHOUSE_SWEEP_INTERVAL" envDefault:"5m"`
	WarnLead         time.Duration `env:"GATEHOUSE_WARN_LEAD" envDefault:"24h"`
	CallTimeout      time.Duration `env:"GATEHOUSE_CALL_TIMEOUT" envDefault:"10s"`

	StrangerPolicy string `env:"GATEHOUSE_STRANGER_POLICY" envDefault:"alert"`

	// DisplayTimezone affects only rendered notification text;
	// storage and comparisons stay in UTC.
	DisplayTimezone string `env:"GATEHOUSE_DISPLAY_TZ" envDefault:"UTC"`

	RosterFile string `env:"GATEHOUSE_ROSTER_FILE" envDefault:"gatehouse.toml"`
}

// Load parses and validates the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	for name, d := range map[string]time.Duration{
		"GATEHOUSE_INVITE_TTL":        c.InviteTTL,
		"GATEHOUSE_SUBSCRIPTION_TERM": c.SubscriptionTerm,
		"GATEHOUSE_SWEEP_INTERVAL":    c.SweepInterval,
		"GATEHOUSE_CALL_TIMEOUT":      c.CallTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.WarnLead < 0 {
		return fmt.Errorf("GATEHOUSE_WARN_LEAD must not be negative, got %s", c.WarnLead)
	}
	if _, ok := server.ParseStrangerPolicy(c.StrangerPolicy); !ok {
		return fmt.Errorf("GATEHOUSE_STRANGER_POLICY must be %q or %q, got %q",
			server.StrangerAlert, server.StrangerRemove, c.StrangerPolicy)
	}
	if (c.AdminCert == "") != (c.AdminKey == "") {
		return fmt.Errorf("GATEHOUSE_ADMIN_CERT and GATEHOUSE_ADMIN_KEY must be set together")
	}
	if _, err := time.LoadLocation(c.DisplayTimezone); err != nil {
		return fmt.Errorf("GATEHOUSE_DISPLAY_TZ: %w", err)
	}
	return nil
}

// PolicyValue returns the parsed stranger policy. Call after Load.
func (c Config) PolicyValue() server.StrangerPolicy {
	p, _ := server.ParseStrangerPolicy(c.StrangerPolicy)
	return p
}

// Location returns the parsed display timezone. Call after Load.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.DisplayTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
