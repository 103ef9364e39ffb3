package engine

import (
	"context"

	"github.com/ekaya-inc/dbhotel/pkg/models"
)

// Manager performs physical schema operations on one database server.
// Each implementation owns its admin connection and must be closed when done.
type Manager interface {
	// Ping verifies the server is reachable with the admin credentials.
	Ping(ctx context.Context) error

	// Exists reports whether a schema (or database, for engines that model
	// tenants as databases) with the given name exists.
	Exists(ctx context.Context, name string) (bool, error)

	// Create creates the schema and its owning user. Engines normalise names,
	// so the name actually used is returned and must be recorded.
	Create(ctx context.Context, name, password string) (string, error)

	// UpdatePassword changes the password of the schema user.
	UpdatePassword(ctx context.Context, name, password string) error

	// FindByName returns nil without error when the schema does not exist.
	FindByName(ctx context.Context, name string) (*models.PhysicalSchema, error)

	// FindAllNonSystem lists every schema that is not owned by the server itself.
	FindAllNonSystem(ctx context.Context) ([]*models.PhysicalSchema, error)

	// Delete terminates sessions against the schema and drops it with its storage.
	Delete(ctx context.Context, name string) error

	// SchemaSizes measures storage per schema owner in megabytes.
	SchemaSizes(ctx context.Context) ([]models.SchemaSize, error)

	// Close releases the admin connection.
	Close() error
}

// URLBuilder creates the connection URL handed to schema owners.
type URLBuilder interface {
	Build(host string, port int, database string) string
}

// URLBuilderFunc adapts a function to URLBuilder.
type URLBuilderFunc func(host string, port int, database string) string

// Build calls f.
func (f URLBuilderFunc) Build(host string, port int, database string) string {
	return f(host, port, database)
}

// ConnectionTester tests database connectivity.
// Each implementation owns its connection and must be closed when done.
type ConnectionTester interface {
	// TestConnection verifies the database is reachable with valid credentials.
	TestConnection(ctx context.Context) error

	// Close releases the database connection.
	Close() error
}
