package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/dbhotel/pkg/adapters/engine"
	"github.com/ekaya-inc/dbhotel/pkg/logging"
)

// Tester opens a single connection with schema user credentials.
type Tester struct {
	config *Config
	conn   *pgx.Conn
}

// NewTester connects to the database named in a schema connection URL.
func NewTester(ctx context.Context, jdbcURL, username, password string) (*Tester, error) {
	cfg, err := parseURL(jdbcURL)
	if err != nil {
		return nil, err
	}
	cfg.User = username
	cfg.Password = password

	conn, err := pgx.Connect(ctx, buildConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %s", logging.SanitizeError(err))
	}
	return &Tester{config: cfg, conn: conn}, nil
}

// TestConnection verifies the database is reachable and is the expected one.
func (t *Tester) TestConnection(ctx context.Context) error {
	if err := t.conn.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	var currentDB string
	if err := t.conn.QueryRow(ctx, "SELECT current_database()").Scan(&currentDB); err != nil {
		return fmt.Errorf("failed to get current database name: %w", err)
	}
	if !strings.EqualFold(currentDB, t.config.Database) {
		return fmt.Errorf("connected to wrong database: expected %q but connected to %q", t.config.Database, currentDB)
	}
	return nil
}

// Close closes the connection.
func (t *Tester) Close() error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Close(context.Background())
}

// Ensure Tester implements engine.ConnectionTester at compile time.
var _ engine.ConnectionTester = (*Tester)(nil)
