package oracle

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ekaya-inc/dbhotel/pkg/adapters/engine"
)

// Config contains Oracle connection options.
type Config struct {
	Host     string
	Port     int
	Service  string
	Username string
	Password string
}

// FromInstanceConfig creates the admin connection Config for an instance.
func FromInstanceConfig(cfg *engine.InstanceConfig) *Config {
	c := &Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Service:  cfg.Service,
		Username: cfg.Username,
		Password: cfg.Password,
	}
	if c.Port == 0 {
		c.Port = DefaultPort()
	}
	return c
}

// NewURLBuilder returns a builder that points every schema at service. Oracle
// schemas live in one database, so the database argument is ignored.
func NewURLBuilder(service string) engine.URLBuilder {
	return engine.URLBuilderFunc(func(host string, port int, _ string) string {
		return fmt.Sprintf("jdbc:oracle:thin:@%s:%d/%s", host, port, service)
	})
}

// connectString returns the easy connect string host:port/service.
func (c *Config) connectString() string {
	return fmt.Sprintf("%s:%d/%s", c.Host, c.Port, c.Service)
}

// dsn returns a godror logfmt data source name. Quoting keeps passwords with
// special characters intact.
func (c *Config) dsn() string {
	return fmt.Sprintf("user=%q password=%q connectString=%q", c.Username, c.Password, c.connectString())
}

// parseURL reads host, port and service from jdbc:oracle:thin:@host:port/service.
func parseURL(jdbcURL string) (*Config, error) {
	const prefix = "jdbc:oracle:thin:@"
	if !strings.HasPrefix(strings.ToLower(jdbcURL), prefix) {
		return nil, fmt.Errorf("not an oracle thin url: %q", jdbcURL)
	}
	rest := strings.TrimPrefix(jdbcURL[len(prefix):], "//")

	hostPort, service, ok := strings.Cut(rest, "/")
	if !ok || service == "" {
		return nil, fmt.Errorf("oracle url %q has no service", jdbcURL)
	}

	cfg := &Config{Host: hostPort, Port: DefaultPort(), Service: service}
	if host, port, ok := strings.Cut(hostPort, ":"); ok {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid port in %q: %w", jdbcURL, err)
		}
		cfg.Host, cfg.Port = host, p
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("oracle url %q has no host", jdbcURL)
	}
	return cfg, nil
}
