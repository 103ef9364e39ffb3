package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"PGHOST", "PORT", "ENVIRONMENT", "DBH_DROP_ALLOWED", "DBH_DEFAULT_INSTANCE_NAME", "AUTH_DISABLED", "DBH_SHARED_SECRET"} {
		if value, ok := os.LookupEnv(key); ok {
			require.NoError(t, os.Unsetenv(key))
			t.Cleanup(func() { _ = os.Setenv(key, value) })
		}
	}
}

const baseYAML = `
port: "8080"
env: "test"
auth:
  disabled: true
database:
  host: "meta.example.com"
  port: 5432
  user: "hotel"
  database: "hotel"
hotel:
  cooldown_days_after_delete: 14
  registration_retry_delay: 2s
instances:
  - engine: postgres
    instance_name: pg-a
    host: pg-a.example.com
    port: 5432
    username: admin
    password_env: PG_A_PASSWORD
    labels:
      affiliation: payments
  - engine: ORACLE
    host: ora-b.example.com
    port: 1521
    username: system
    service: ORCLPDB1
    client_service: ORCLPDB1_CLIENT
    create_schema_allowed: false
`

func TestLoadFrom_ParsesInstancesAndDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("PG_A_PASSWORD", "s3cret")

	cfg, err := LoadFrom(writeConfig(t, baseYAML), "1.2.3")
	require.NoError(t, err)

	assert.Equal(t, "1.2.3", cfg.Version)
	assert.Equal(t, "meta.example.com", cfg.Database.Host)
	assert.Equal(t, 14, cfg.Hotel.CooldownDaysAfterDelete)
	assert.Equal(t, 10, cfg.Hotel.CooldownDaysForOldUnusedSchemas)
	assert.Equal(t, 7*24*time.Hour, cfg.Hotel.StaleLookback())
	assert.Equal(t, 2*time.Second, cfg.Hotel.RegistrationRetryDelay)
	assert.Equal(t, 5*time.Minute, cfg.Hotel.ResourceUseCollectInterval)
	assert.False(t, cfg.Hotel.DisableSchemaListing)
	assert.False(t, cfg.Hotel.DropAllowed)

	require.Len(t, cfg.Instances, 2)
	assert.Equal(t, "s3cret", cfg.Instances[0].Password)
	assert.True(t, cfg.Instances[0].SchemaCreationAllowed())
	assert.Equal(t, "payments", cfg.Instances[0].Labels["affiliation"])
	assert.Equal(t, "ora-b.example.com", cfg.Instances[1].InstanceName)
	assert.False(t, cfg.Instances[1].SchemaCreationAllowed())
}

func TestLoadFrom_EnvOverridesYAML(t *testing.T) {
	clearEnv(t)
	t.Setenv("PG_A_PASSWORD", "x")
	t.Setenv("PGHOST", "override.example.com")
	t.Setenv("DBH_DROP_ALLOWED", "true")

	cfg, err := LoadFrom(writeConfig(t, baseYAML), "dev")
	require.NoError(t, err)
	assert.Equal(t, "override.example.com", cfg.Database.Host)
	assert.True(t, cfg.Hotel.DropAllowed)
}

func TestLoadFrom_MissingPasswordEnv(t *testing.T) {
	clearEnv(t)
	_ = os.Unsetenv("PG_A_PASSWORD")

	_, err := LoadFrom(writeConfig(t, baseYAML), "dev")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PG_A_PASSWORD")
}

func TestLoadFrom_RejectsInvalidInstances(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name string
		yaml string
		msg  string
	}{
		{
			name: "unknown engine",
			yaml: "auth:\n  disabled: true\ninstances:\n  - engine: db2\n    host: a\n",
			msg:  "unknown database engine",
		},
		{
			name: "duplicate host",
			yaml: "auth:\n  disabled: true\ninstances:\n  - engine: postgres\n    host: a\n    instance_name: one\n  - engine: postgres\n    host: A\n    instance_name: two\n",
			msg:  "duplicate host",
		},
		{
			name: "unknown default instance",
			yaml: "auth:\n  disabled: true\nhotel:\n  default_instance_name: nope\ninstances:\n  - engine: postgres\n    host: a\n",
			msg:  "default_instance_name",
		},
		{
			name: "auth without secret",
			yaml: "auth:\n  disabled: false\n",
			msg:  "DBH_SHARED_SECRET",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(writeConfig(t, tt.yaml), "dev")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestLoadFrom_MissingConfigFile(t *testing.T) {
	_, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"), "dev")
	require.Error(t, err)
}

func TestValidateTLS_OnlyCertProvided(t *testing.T) {
	cfg := &Config{TLSCertPath: "/tmp/cert.pem"}
	err := cfg.validateTLS()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be provided together")
}

func TestDatabaseConfig_ConnectionString(t *testing.T) {
	db := DatabaseConfig{Host: "h", Port: 5433, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "host=h port=5433 user=u password=p dbname=d sslmode=disable", db.ConnectionString())
}
