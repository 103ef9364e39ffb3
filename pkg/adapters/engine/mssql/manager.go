package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	_ "github.com/microsoft/go-mssqldb" // SQL Server driver
	"go.uber.org/zap"

	"github.com/ekaya-inc/dbhotel/pkg/adapters/engine"
	"github.com/ekaya-inc/dbhotel/pkg/logging"
	"github.com/ekaya-inc/dbhotel/pkg/models"
	sqlutil "github.com/ekaya-inc/dbhotel/pkg/sql"
)

// Manager models each schema as a database owned by a SQL login of the same name.
type Manager struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewManager opens the admin connection of an instance.
func NewManager(ctx context.Context, cfg *Config, logger *zap.Logger) (*Manager, error) {
	db, err := sql.Open("sqlserver", buildConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("open sqlserver connection: %s", logging.SanitizeError(err))
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &Manager{db: db, logger: logger}, nil
}

func (m *Manager) Ping(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return engine.WrapError("ping", err)
	}
	return nil
}

func (m *Manager) Exists(ctx context.Context, name string) (bool, error) {
	var count int
	if err := m.db.QueryRowContext(ctx, existsQuery, normalize(name)).Scan(&count); err != nil {
		return false, engine.WrapError("check login exists", err)
	}
	return count > 0, nil
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
	if err := m.exec(ctx, updatePasswordStatement(safe, password)); err != nil {
		return engine.WrapError("update password for "+safe, err)
	}
	return nil
}

func (m *Manager) FindByName(ctx context.Context, name string) (*models.PhysicalSchema, error) {
	schemas, err := m.querySchemas(ctx, schemaQuery+` AND d.name = @p1`, normalize(name))
	if err != nil {
		return nil, err
	}
	if len(schemas) == 0 {
		return nil, nil
	}
	return schemas[0], nil
}

func (m *Manager) FindAllNonSystem(ctx context.Context) ([]*models.PhysicalSchema, error) {
	return m.querySchemas(ctx, schemaQuery+` AND d.name <> DB_NAME()`)
}

func (m *Manager) querySchemas(ctx context.Context, query string, args ...any) ([]*models.PhysicalSchema, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, engine.WrapError("list databases", err)
	}
	defer rows.Close()

	var result []*models.PhysicalSchema
	for rows.Next() {
		var s models.PhysicalSchema
		var lastLogin sql.NullTime
		if err := rows.Scan(&s.Username, &s.Created, &lastLogin); err != nil {
			return nil, engine.WrapError("scan database", err)
		}
		if lastLogin.Valid {
			t := lastLogin.Time
			s.LastLogin = &t
		}
		result = append(result, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, engine.WrapError("iterate databases", err)
	}
	return result, nil
}

func (m *Manager) Delete(ctx context.Context, name string) error {
	safe := normalize(name)
	if err := sqlutil.ValidateIdentifier(safe); err != nil {
		return err
	}

	err := engine.TerminateSessions(ctx, m.logger, safe, engine.SessionOps{
		List: func(ctx context.Context) ([]string, error) {
			rows, err := m.db.QueryContext(ctx, sessionsQuery, safe)
			if err != nil {
				return nil, err
			}
			defer rows.Close()
			var ids []string
			for rows.Next() {
				var id string
				if err := rows.Scan(&id); err != nil {
					return nil, err
				}
				ids = append(ids, id)
			}
			return ids, rows.Err()
		},
		Kill: func(ctx context.Context, session string) error {
			id, err := strconv.Atoi(session)
			if err != nil {
				return err
			}
			_, err = m.db.ExecContext(ctx, fmt.Sprintf("KILL %d", id))
			return err
		},
	})
	if err != nil {
		return err
	}

	if err := m.exec(ctx, dropStatements(safe)...); err != nil {
		return engine.WrapError("drop "+safe, err)
	}
	return nil
}

func (m *Manager) SchemaSizes(ctx context.Context) ([]models.SchemaSize, error) {
	rows, err := m.db.QueryContext(ctx, sizesQuery)
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
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			m.logger.Error("Statement failed",
				zap.String("statement", logging.SanitizeStatement(stmt)),
				zap.String("error", logging.SanitizeError(err)))
			return err
		}
	}
	return nil
}

// Close closes the admin connection.
func (m *Manager) Close() error {
	return m.db.Close()
}

// Ensure Manager implements engine.Manager at compile time.
var _ engine.Manager = (*Manager)(nil)
