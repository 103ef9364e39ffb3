//go:build oracle || all_adapters

package oracle

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ekaya-inc/dbhotel/pkg/adapters/engine"
	"github.com/ekaya-inc/dbhotel/pkg/logging"
)

// Tester opens a connection with schema user credentials.
type Tester struct {
	db *sql.DB
}

// NewTester prepares a connection to the service named in a schema URL.
func NewTester(ctx context.Context, jdbcURL, username, password string) (*Tester, error) {
	cfg, err := parseURL(jdbcURL)
	if err != nil {
		return nil, err
	}
	cfg.Username = username
	cfg.Password = password

	db, err := sql.Open("godror", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("open oracle connection: %s", logging.SanitizeError(err))
	}
	db.SetMaxOpenConns(1)
	return &Tester{db: db}, nil
}

// TestConnection verifies the service is reachable with the credentials.
func (t *Tester) TestConnection(ctx context.Context) error {
	if err := t.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	var one int
	if err := t.db.QueryRowContext(ctx, "SELECT 1 FROM dual").Scan(&one); err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}
	return nil
}

// Close closes the connection.
func (t *Tester) Close() error {
	return t.db.Close()
}

// Ensure Tester implements engine.ConnectionTester at compile time.
var _ engine.ConnectionTester = (*Tester)(nil)
