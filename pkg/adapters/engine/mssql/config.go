package mssql

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ekaya-inc/dbhotel/pkg/adapters/engine"
	"github.com/ekaya-inc/dbhotel/pkg/config"
)

// Config contains SQL Server connection options. Only SQL authentication is
// supported for instance administration.
type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string

	Encrypt                bool
	TrustServerCertificate bool
	ConnectionTimeout      int
}

// DefaultPort returns the default SQL Server port.
func DefaultPort() int {
	return 1433
}

// DefaultConnectionTimeout returns the default connection timeout in seconds.
func DefaultConnectionTimeout() int {
	return 30
}

// FromInstanceConfig creates the admin connection Config for an instance.
// SSLMode "disable" turns encryption off; any other value keeps it on.
func FromInstanceConfig(cfg *engine.InstanceConfig) *Config {
	c := &Config{
		Host:              cfg.Host,
		Port:              cfg.Port,
		Database:          cfg.Service,
		Username:          cfg.Username,
		Password:          cfg.Password,
		Encrypt:           cfg.SSLMode != "disable",
		ConnectionTimeout: DefaultConnectionTimeout(),
	}
	if c.Port == 0 {
		c.Port = DefaultPort()
	}
	if c.Database == "" {
		c.Database = "master"
	}
	c.TrustServerCertificate = cfg.SSLMode == "trust"
	return c
}

func buildConnectionString(cfg *Config) string {
	query := url.Values{}
	query.Add("database", cfg.Database)

	if cfg.Encrypt {
		query.Add("encrypt", "true")
	} else {
		query.Add("encrypt", "false")
	}

	if cfg.TrustServerCertificate {
		query.Add("TrustServerCertificate", "true")
	}

	if cfg.ConnectionTimeout > 0 {
		query.Add("connection timeout", fmt.Sprintf("%d", cfg.ConnectionTimeout))
	}

	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?%s",
		url.QueryEscape(cfg.Username),
		url.QueryEscape(cfg.Password),
		config.ResolveHostForDocker(cfg.Host),
		cfg.Port,
		query.Encode(),
	)
}

// parseURL reads host, port and database from a URL produced by BuildURL.
func parseURL(jdbcURL string) (*Config, error) {
	const prefix = "jdbc:sqlserver://"
	if !strings.HasPrefix(strings.ToLower(jdbcURL), prefix) {
		return nil, fmt.Errorf("not a sqlserver url: %q", jdbcURL)
	}

	parts := strings.Split(jdbcURL[len(prefix):], ";")
	cfg := &Config{
		Port:              DefaultPort(),
		Encrypt:           true,
		ConnectionTimeout: DefaultConnectionTimeout(),
	}

	hostPort := parts[0]
	if i := strings.LastIndex(hostPort, ":"); i >= 0 {
		port, err := strconv.Atoi(hostPort[i+1:])
		if err != nil {
			return nil, fmt.Errorf("invalid port in %q: %w", jdbcURL, err)
		}
		cfg.Port = port
		hostPort = hostPort[:i]
	}
	cfg.Host = hostPort

	for _, p := range parts[1:] {
		key, value, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(key) {
		case "databasename", "database":
			cfg.Database = value
		case "encrypt":
			cfg.Encrypt = value != "false"
		case "trustservercertificate":
			cfg.TrustServerCertificate = value == "true"
		}
	}

	if cfg.Host == "" {
		return nil, fmt.Errorf("sqlserver url %q has no host", jdbcURL)
	}
	return cfg, nil
}

// BuildURL returns the JDBC URL for a database on the instance.
func BuildURL(host string, port int, database string) string {
	return fmt.Sprintf("jdbc:sqlserver://%s:%d;databaseName=%s", host, port, database)
}
