package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ekaya-inc/dbhotel/pkg/adapters/engine"
	"github.com/ekaya-inc/dbhotel/pkg/logging"
)

// Tester opens a connection with schema user credentials.
type Tester struct {
	config *Config
	db     *sql.DB
}

// NewTester prepares a connection to the database named in a schema URL.
func NewTester(ctx context.Context, jdbcURL, username, password string) (*Tester, error) {
	cfg, err := parseURL(jdbcURL)
	if err != nil {
		return nil, err
	}
	cfg.Username = username
	cfg.Password = password

	db, err := sql.Open("sqlserver", buildConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("open sqlserver connection: %s", logging.SanitizeError(err))
	}
	db.SetMaxOpenConns(1)
	return &Tester{config: cfg, db: db}, nil
}

// TestConnection verifies the database is reachable and is the expected one.
func (t *Tester) TestConnection(ctx context.Context) error {
	if err := t.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	var currentDB string
	if err := t.db.QueryRowContext(ctx, "SELECT DB_NAME()").Scan(&currentDB); err != nil {
		return fmt.Errorf("failed to get current database name: %w", err)
	}
	if t.config.Database != "" && !strings.EqualFold(currentDB, t.config.Database) {
		return fmt.Errorf("connected to wrong database: expected %q but connected to %q", t.config.Database, currentDB)
	}
	return nil
}

// Close closes the connection.
func (t *Tester) Close() error {
	return t.db.Close()
}

// Ensure Tester implements engine.ConnectionTester at compile time.
var _ engine.ConnectionTester = (*Tester)(nil)
