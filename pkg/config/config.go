package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/ekaya-inc/dbhotel/pkg/models"
)

// Config holds all configuration for dbhotel.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// TLS configuration (optional - if both provided, server uses HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`

	Auth AuthConfig `yaml:"auth"`

	// Database is the control plane's own metadata store (PostgreSQL).
	Database DatabaseConfig `yaml:"database"`

	Hotel HotelConfig `yaml:"hotel"`

	// Instances are the physical servers schemas are provisioned on.
	Instances []InstanceConfig `yaml:"instances"`

	// Encrypts schema user passwords at rest. Optional; base64 32-byte key or passphrase.
	ProjectCredentialsKey string `yaml:"-" env:"PROJECT_CREDENTIALS_KEY"` // Secret - not in YAML
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	// Disabled turns off the "Authorization: aurora-token <secret>" check on mutating API routes.
	Disabled     bool   `yaml:"disabled" env:"AUTH_DISABLED" env-default:"false"`
	SharedSecret string `yaml:"-" env:"DBH_SHARED_SECRET"` // Secret - not in YAML
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"dbhotel"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"dbhotel"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// HotelConfig holds schema lifecycle settings.
// Zero values fall back to the env-default.
type HotelConfig struct {
	// CooldownDaysAfterDelete is the default grace period before a deleted schema is purged.
	CooldownDaysAfterDelete int `yaml:"cooldown_days_after_delete" env:"DBH_COOLDOWN_DAYS_AFTER_DELETE" env-default:"30"`
	// CooldownDaysForOldUnusedSchemas is the grace period given to schemas retired by the stale sweep.
	CooldownDaysForOldUnusedSchemas int `yaml:"cooldown_days_for_old_unused_schemas" env:"DBH_COOLDOWN_DAYS_FOR_OLD_UNUSED_SCHEMAS" env-default:"10"`
	// StaleLookbackDays is how long a schema must sit untouched before it counts as stale.
	StaleLookbackDays int `yaml:"stale_lookback_days" env:"DBH_STALE_LOOKBACK_DAYS" env-default:"7"`

	DefaultInstanceName string `yaml:"default_instance_name" env:"DBH_DEFAULT_INSTANCE_NAME" env-default:""`

	// RegistrationRetryDelay is the fixed wait between instance registration passes at startup.
	RegistrationRetryDelay time.Duration `yaml:"registration_retry_delay" env:"DBH_REGISTRATION_RETRY_DELAY" env-default:"10s"`
	// ResourceUseCollectInterval is how long measured schema sizes are cached.
	ResourceUseCollectInterval time.Duration `yaml:"resource_use_collect_interval" env:"DBH_RESOURCE_USE_COLLECT_INTERVAL" env-default:"5m"`

	// DropAllowed enables the janitor and permanent deletion.
	DropAllowed bool `yaml:"drop_allowed" env:"DBH_DROP_ALLOWED" env-default:"false"`
	// DisableSchemaListing hides the unfiltered schema listing endpoint.
	DisableSchemaListing bool          `yaml:"disable_schema_listing" env:"DBH_DISABLE_SCHEMA_LISTING" env-default:"false"`
	JanitorInterval      time.Duration `yaml:"janitor_interval" env:"DBH_JANITOR_INTERVAL" env-default:"1h"`
	JanitorInitialDelay  time.Duration `yaml:"janitor_initial_delay" env:"DBH_JANITOR_INITIAL_DELAY" env-default:"5m"`
}

// CooldownAfterDelete returns CooldownDaysAfterDelete as a duration.
func (h *HotelConfig) CooldownAfterDelete() time.Duration {
	return days(h.CooldownDaysAfterDelete)
}

// CooldownForOldUnusedSchemas returns CooldownDaysForOldUnusedSchemas as a duration.
func (h *HotelConfig) CooldownForOldUnusedSchemas() time.Duration {
	return days(h.CooldownDaysForOldUnusedSchemas)
}

// StaleLookback returns StaleLookbackDays as a duration.
func (h *HotelConfig) StaleLookback() time.Duration {
	return days(h.StaleLookbackDays)
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

// InstanceConfig describes one physical database server.
// The admin password is never stored in YAML; PasswordEnv names the
// environment variable that holds it.
type InstanceConfig struct {
	Engine       string `yaml:"engine"`
	InstanceName string `yaml:"instance_name"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Username     string `yaml:"username"`
	PasswordEnv  string `yaml:"password_env"`
	Password     string `yaml:"-"`
	// Service is the Oracle service name, or the admin database for other engines.
	Service string `yaml:"service"`
	// ClientService is the Oracle service name handed out in schema connection URLs.
	ClientService       string            `yaml:"client_service"`
	SSLMode             string            `yaml:"ssl_mode"`
	CreateSchemaAllowed *bool             `yaml:"create_schema_allowed"`
	Labels              map[string]string `yaml:"labels"`
}

// SchemaCreationAllowed defaults to true when unset.
func (c *InstanceConfig) SchemaCreationAllowed() bool {
	return c.CreateSchemaAllowed == nil || *c.CreateSchemaAllowed
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	return LoadFrom("config.yaml", version)
}

// LoadFrom reads configuration from the given YAML file with environment variable overrides.
func LoadFrom(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.resolveInstanceSecrets(); err != nil {
		return nil, fmt.Errorf("failed to resolve instance secrets: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) resolveInstanceSecrets() error {
	for i := range c.Instances {
		inst := &c.Instances[i]
		if inst.PasswordEnv == "" {
			continue
		}
		value, ok := os.LookupEnv(inst.PasswordEnv)
		if !ok {
			return fmt.Errorf("instance %q: environment variable %s is not set", inst.InstanceName, inst.PasswordEnv)
		}
		inst.Password = value
	}
	return nil
}

func (c *Config) validate() error {
	if err := c.validateTLS(); err != nil {
		return fmt.Errorf("invalid TLS configuration: %w", err)
	}

	if !c.Auth.Disabled && c.Auth.SharedSecret == "" {
		return fmt.Errorf("DBH_SHARED_SECRET is required unless auth is disabled")
	}

	if c.Hotel.CooldownDaysAfterDelete < 0 || c.Hotel.CooldownDaysForOldUnusedSchemas < 0 {
		return fmt.Errorf("cooldown days must not be negative")
	}
	if c.Hotel.StaleLookbackDays <= 0 {
		return fmt.Errorf("stale_lookback_days must be positive")
	}

	hosts := make(map[string]bool, len(c.Instances))
	names := make(map[string]bool, len(c.Instances))
	for i := range c.Instances {
		inst := &c.Instances[i]
		if _, err := models.ParseEngine(inst.Engine); err != nil {
			return fmt.Errorf("instance %d: %w", i, err)
		}
		if inst.Host == "" {
			return fmt.Errorf("instance %d: host is required", i)
		}
		if inst.InstanceName == "" {
			inst.InstanceName = inst.Host
		}
		key := strings.ToLower(inst.Host)
		if hosts[key] {
			return fmt.Errorf("instance %q: duplicate host %s", inst.InstanceName, inst.Host)
		}
		hosts[key] = true
		if names[inst.InstanceName] {
			return fmt.Errorf("duplicate instance name %q", inst.InstanceName)
		}
		names[inst.InstanceName] = true
	}

	if c.Hotel.DefaultInstanceName != "" && !names[c.Hotel.DefaultInstanceName] {
		return fmt.Errorf("default_instance_name %q does not match any configured instance", c.Hotel.DefaultInstanceName)
	}

	return nil
}

// validateTLS ensures TLS configuration is valid if provided.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""

	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}

	if certSet {
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}

	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
