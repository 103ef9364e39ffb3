package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ekaya-inc/dbhotel/pkg/adapters/engine"
	"github.com/ekaya-inc/dbhotel/pkg/database"
	"github.com/ekaya-inc/dbhotel/pkg/logging"
	"github.com/ekaya-inc/dbhotel/pkg/models"
	sqlutil "github.com/ekaya-inc/dbhotel/pkg/sql"
)

// Manager models each schema as a database owned by a login role of the same name.
type Manager struct {
	pool      database.PgxPool
	logger    *zap.Logger
	ownedPool bool
}

// NewManager connects to the admin database of an instance.
func NewManager(ctx context.Context, cfg *Config, logger *zap.Logger) (*Manager, error) {
	pool, err := pgxpool.New(ctx, buildConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("connect to postgres %s: %s", cfg.Host, logging.SanitizeError(err))
	}
	return &Manager{pool: pool, logger: logger, ownedPool: true}, nil
}

// NewManagerWithPool wraps an existing pool. The pool is not closed by Close.
func NewManagerWithPool(pool database.PgxPool, logger *zap.Logger) *Manager {
	return &Manager{pool: pool, logger: logger}
}

// normalize lowercases names, Postgres folds unquoted identifiers to lower case.
func normalize(name string) string {
	return strings.ToLower(name)
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func (m *Manager) Ping(ctx context.Context) error {
	if err := m.pool.Ping(ctx); err != nil {
		return engine.WrapError("ping", err)
	}
	return nil
}

func (m *Manager) Exists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := m.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)`, normalize(name)).Scan(&exists)
	if err != nil {
		return false, engine.WrapError("check database exists", err)
	}
	return exists, nil
}

// createStatements returns the DDL that creates a database and its owner.
// CREATE DATABASE cannot run inside a transaction, so statements run one by one.
func createStatements(name, password string) []string {
	ident := pgx.Identifier{name}.Sanitize()
	return []string{
		`DO $$
BEGIN
  CREATE ROLE app_user WITH NOLOGIN;
EXCEPTION WHEN duplicate_object THEN
  RAISE NOTICE 'role app_user already exists';
END
$$`,
		fmt.Sprintf("CREATE USER %s WITH PASSWORD %s", ident, quoteLiteral(password)),
		fmt.Sprintf("CREATE DATABASE %s", ident),
		fmt.Sprintf("GRANT CREATE ON DATABASE %s TO %s", ident, ident),
		fmt.Sprintf("GRANT CONNECT ON DATABASE %s TO %s", ident, ident),
		fmt.Sprintf("GRANT app_user TO %s", ident),
	}
}

func (m *Manager) Create(ctx context.Context, name, password string) (string, error) {
	safe := normalize(name)
	if err := sqlutil.ValidateIdentifier(safe); err != nil {
		return "", err
	}

	if err := m.exec(ctx, createStatements(safe, password)...); err != nil {
		return "", engine.WrapError("create schema "+safe, err)
	}
	return safe, nil
}

func (m *Manager) UpdatePassword(ctx context.Context, name, password string) error {
	safe := normalize(name)
	if err := sqlutil.ValidateIdentifier(safe); err != nil {
		return err
	}

	stmt := fmt.Sprintf("ALTER USER %s WITH PASSWORD %s", pgx.Identifier{safe}.Sanitize(), quoteLiteral(password))
	if err := m.exec(ctx, stmt); err != nil {
		return engine.WrapError("update password for "+safe, err)
	}
	return nil
}

// FindByName returns the database. Postgres keeps neither creation nor login
// times, so both are left empty.
func (m *Manager) FindByName(ctx context.Context, name string) (*models.PhysicalSchema, error) {
	rows, err := m.pool.Query(ctx, `SELECT datname FROM pg_database WHERE datname = $1`, normalize(name))
	if err != nil {
		return nil, engine.WrapError("find database", err)
	}
	schemas, err := collectSchemas(rows)
	if err != nil {
		return nil, err
	}
	if len(schemas) == 0 {
		return nil, nil
	}
	return schemas[0], nil
}

func (m *Manager) FindAllNonSystem(ctx context.Context) ([]*models.PhysicalSchema, error) {
	query := `
		SELECT datname FROM pg_database
		WHERE datistemplate = false AND datname NOT IN ('postgres') AND datname <> current_database()`

	rows, err := m.pool.Query(ctx, query)
	if err != nil {
		return nil, engine.WrapError("list databases", err)
	}
	return collectSchemas(rows)
}

func collectSchemas(rows pgx.Rows) ([]*models.PhysicalSchema, error) {
	defer rows.Close()

	var result []*models.PhysicalSchema
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, engine.WrapError("scan database", err)
		}
		result = append(result, &models.PhysicalSchema{Username: name})
	}
	if err := rows.Err(); err != nil {
		return nil, engine.WrapError("iterate databases", err)
	}
	return result, nil
}

// Delete blocks new connections, terminates the existing ones and drops the
// database together with its owning role.
func (m *Manager) Delete(ctx context.Context, name string) error {
	safe := normalize(name)
	if err := sqlutil.ValidateIdentifier(safe); err != nil {
		return err
	}
	ident := pgx.Identifier{safe}.Sanitize()

	if err := m.exec(ctx, fmt.Sprintf("ALTER DATABASE %s CONNECTION LIMIT 0", ident)); err != nil {
		return engine.WrapError("block connections to "+safe, err)
	}

	err := engine.TerminateSessions(ctx, m.logger, safe, engine.SessionOps{
		List: func(ctx context.Context) ([]string, error) {
			rows, err := m.pool.Query(ctx,
				`SELECT pid::text FROM pg_stat_activity WHERE datname = $1 AND pid <> pg_backend_pid()`, safe)
			if err != nil {
				return nil, err
			}
			return pgx.CollectRows(rows, pgx.RowTo[string])
		},
		Kill: func(ctx context.Context, pid string) error {
			_, err := m.pool.Exec(ctx, `SELECT pg_terminate_backend($1::int)`, pid)
			return err
		},
	})
	if err != nil {
		return err
	}

	if err := m.exec(ctx, "DROP DATABASE "+ident, "DROP ROLE "+ident); err != nil {
		return engine.WrapError("drop "+safe, err)
	}
	return nil
}

func (m *Manager) SchemaSizes(ctx context.Context) ([]models.SchemaSize, error) {
	query := `
		SELECT datname, (pg_database_size(datname) / 1024.0 / 1024.0)::float8
		FROM pg_database
		WHERE datistemplate = false`

	rows, err := m.pool.Query(ctx, query)
	if err != nil {
		return nil, engine.WrapError("measure database sizes", err)
	}
	defer rows.Close()

	var sizes []models.SchemaSize
	for rows.Next() {
		var s models.SchemaSize
		if err := rows.Scan(&s.Owner, &s.SizeMb); err != nil {
			return nil, engine.WrapError("scan database size", err)
		}
		sizes = append(sizes, s)
	}
	if err := rows.Err(); err != nil {
		return nil, engine.WrapError("iterate database sizes", err)
	}
	return sizes, nil
}

func (m *Manager) exec(ctx context.Context, statements ...string) error {
	for _, stmt := range statements {
		if _, err := m.pool.Exec(ctx, stmt); err != nil {
			m.logger.Error("Statement failed",
				zap.String("statement", logging.SanitizeStatement(stmt)),
				zap.String("error", logging.SanitizeError(err)))
			return err
		}
	}
	return nil
}

// Close releases the pool if this manager created it.
func (m *Manager) Close() error {
	if m.ownedPool && m.pool != nil {
		m.pool.Close()
	}
	return nil
}

// Ensure Manager implements engine.Manager at compile time.
var _ engine.Manager = (*Manager)(nil)
