package postgres

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ekaya-inc/dbhotel/pkg/adapters/engine"
	"github.com/ekaya-inc/dbhotel/pkg/config"
)

// Config contains PostgreSQL-specific connection options.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string // "disable", "require", "verify-ca", "verify-full"
}

// DefaultPort returns the default PostgreSQL port.
func DefaultPort() int {
	return 5432
}

// DefaultAdminDatabase is the database the admin connection opens.
const DefaultAdminDatabase = "postgres"

// FromInstanceConfig creates the admin connection Config for an instance.
func FromInstanceConfig(cfg *engine.InstanceConfig) *Config {
	c := &Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.Username,
		Password: cfg.Password,
		Database: cfg.Service,
		SSLMode:  cfg.SSLMode,
	}
	if c.Port == 0 {
		c.Port = DefaultPort()
	}
	if c.Database == "" {
		c.Database = DefaultAdminDatabase
	}
	return c
}

// buildConnectionString builds a PostgreSQL URL with proper escaping.
// All user-provided fields are URL-escaped so passwords may contain @, /, # or ?.
// When running in Docker, localhost is resolved to host.docker.internal.
func buildConnectionString(cfg *Config) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	host := config.ResolveHostForDocker(cfg.Host)

	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(cfg.User),
		url.QueryEscape(cfg.Password),
		host,
		cfg.Port,
		url.QueryEscape(cfg.Database),
		sslMode,
	)
}

// parseURL reads host, port, database and ssl mode from a schema connection URL
// as produced by BuildURL.
func parseURL(jdbcURL string) (*Config, error) {
	if !strings.HasPrefix(strings.ToLower(jdbcURL), "jdbc:postgresql://") {
		return nil, fmt.Errorf("not a postgres url: %q", jdbcURL)
	}

	u, err := url.Parse(jdbcURL[len("jdbc:"):])
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}

	cfg := &Config{
		Host:     u.Hostname(),
		Port:     DefaultPort(),
		Database: strings.TrimPrefix(u.Path, "/"),
		SSLMode:  u.Query().Get("sslmode"),
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q: %w", p, err)
		}
		cfg.Port = port
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("postgres url %q has no host", jdbcURL)
	}
	return cfg, nil
}
