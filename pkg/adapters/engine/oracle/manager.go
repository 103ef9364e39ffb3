//go:build oracle || all_adapters

package oracle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/godror/godror" // Oracle driver
	"go.uber.org/zap"

	"github.com/ekaya-inc/dbhotel/pkg/adapters/engine"
	"github.com/ekaya-inc/dbhotel/pkg/logging"
	"github.com/ekaya-inc/dbhotel/pkg/models"
	sqlutil "github.com/ekaya-inc/dbhotel/pkg/sql"
)

// Manager models each schema as a user with its own bigfile tablespace.
type Manager struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewManager opens the admin connection of an instance.
func NewManager(ctx context.Context, cfg *Config, logger *zap.Logger) (*Manager, error) {
	db, err := sql.Open("godror", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("open oracle connection: %s", logging.SanitizeError(err))
	}
	db.SetMaxOpenConns(2)
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
	err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dba_users WHERE username = :1`, normalize(name)).Scan(&count)
	if err != nil {
		return false, engine.WrapError("check user exists", err)
	}
	return count == 1, nil
}

func (m *Manager) Create(ctx context.Context, name, password string) (string, error) {
	safe := normalize(name)
	if err := sqlutil.ValidateIdentifier(safe); err != nil {
		return "", err
	}
	quoted, err := quotePassword(password)
	if err != nil {
		return "", err
	}

	var dataFolder string
	if err := m.db.QueryRowContext(ctx, dataFolderQuery).Scan(&dataFolder); err != nil {
		return "", engine.WrapError("find data folder", err)
	}

	if err := m.exec(ctx, createStatements(safe, quoted, dataFolder)...); err != nil {
		return "", engine.WrapError("create schema "+safe, err)
	}
	return safe, nil
}

func (m *Manager) UpdatePassword(ctx context.Context, name, password string) error {
	safe := normalize(name)
	if err := sqlutil.ValidateIdentifier(safe); err != nil {
		return err
	}
	quoted, err := quotePassword(password)
	if err != nil {
		return err
	}
	if err := m.exec(ctx, updatePasswordStatements(safe, quoted)...); err != nil {
		return engine.WrapError("update password for "+safe, err)
	}
	return nil
}

func (m *Manager) FindByName(ctx context.Context, name string) (*models.PhysicalSchema, error) {
	schemas, err := m.querySchemas(ctx, schemaColumns+` WHERE username = :1`, normalize(name))
	if err != nil {
		return nil, err
	}
	if len(schemas) == 0 {
		return nil, nil
	}
	return schemas[0], nil
}

func (m *Manager) FindAllNonSystem(ctx context.Context) ([]*models.PhysicalSchema, error) {
	return m.querySchemas(ctx, schemaColumns+nonSystemFilter)
}

func (m *Manager) querySchemas(ctx context.Context, query string, args ...any) ([]*models.PhysicalSchema, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, engine.WrapError("list users", err)
	}
	defer rows.Close()

	var result []*models.PhysicalSchema
	for rows.Next() {
		var s models.PhysicalSchema
		var lastLogin sql.NullTime
		if err := rows.Scan(&s.Username, &s.Created, &lastLogin); err != nil {
			return nil, engine.WrapError("scan user", err)
		}
		if lastLogin.Valid {
			t := lastLogin.Time
			s.LastLogin = &t
		}
		result = append(result, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, engine.WrapError("iterate users", err)
	}
	return result, nil
}

// Delete disconnects every session of the user, then drops the user and its
// tablespace. Drop failures are logged only; the metadata is already gone by
// the time a schema is dropped.
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
			var sessions []string
			for rows.Next() {
				var s string
				if err := rows.Scan(&s); err != nil {
					return nil, err
				}
				sessions = append(sessions, s)
			}
			return sessions, rows.Err()
		},
		Kill: func(ctx context.Context, session string) error {
			var errs []error
			for _, stmt := range killSessionStatements(session) {
				if _, err := m.db.ExecContext(ctx, stmt); err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		},
	})
	if err != nil {
		return err
	}

	for _, stmt := range dropStatements(safe) {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			m.logger.Error("Drop statement failed",
				zap.String("schema", safe),
				zap.String("statement", stmt),
				zap.String("error", logging.SanitizeError(err)))
		}
	}
	return nil
}

func (m *Manager) SchemaSizes(ctx context.Context) ([]models.SchemaSize, error) {
	rows, err := m.db.QueryContext(ctx, sizesQuery)
	if err != nil {
		return nil, engine.WrapError("measure segment sizes", err)
	}
	defer rows.Close()

	var sizes []models.SchemaSize
	for rows.Next() {
		var s models.SchemaSize
		if err := rows.Scan(&s.Owner, &s.SizeMb); err != nil {
			return nil, engine.WrapError("scan segment size", err)
		}
		sizes = append(sizes, s)
	}
	if err := rows.Err(); err != nil {
		return nil, engine.WrapError("iterate segment sizes", err)
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
