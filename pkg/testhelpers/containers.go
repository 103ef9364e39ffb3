package testhelpers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/ekaya-inc/dbhotel/pkg/database"
)

// PostgresImage is the server image used for integration tests.
const PostgresImage = "postgres:16-alpine"

const (
	testUser     = "dbhotel"
	testPassword = "test_password"
	testDatabase = "dbhotel_test"
)

// TestDB holds a shared PostgreSQL container. It serves both as the
// metadata store and as a physical instance schemas are created on.
type TestDB struct {
	Container *postgres.PostgresContainer
	Pool      *pgxpool.Pool
	ConnStr   string
	Host      string
	Port      int
	User      string
	Password  string
	Database  string
}

var (
	sharedTestDB     *TestDB
	sharedTestDBOnce sync.Once
	sharedTestDBErr  error
)

// GetTestDB returns a shared PostgreSQL container for integration tests.
// The container is created once and reused across all tests in the run.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedTestDBOnce.Do(func() {
		sharedTestDB, sharedTestDBErr = setupTestDB()
	})

	if sharedTestDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedTestDBErr)
	}

	return sharedTestDB
}

func setupTestDB() (*TestDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := postgres.Run(ctx,
		PostgresImage,
		postgres.WithDatabase(testDatabase),
		postgres.WithUsername(testUser),
		postgres.WithPassword(testPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection with retry
	for i := 0; i < 10; i++ {
		if err = pool.Ping(ctx); err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("test database not reachable: %w", err)
	}

	return &TestDB{
		Container: container,
		Pool:      pool,
		ConnStr:   connStr,
		Host:      host,
		Port:      port.Int(),
		User:      testUser,
		Password:  testPassword,
		Database:  testDatabase,
	}, nil
}

// HotelDB holds the metadata store connection with migrations applied.
// Use this for testing repositories and services against a real database.
type HotelDB struct {
	DB      *database.DB
	ConnStr string
}

var (
	sharedHotelDB     *HotelDB
	sharedHotelDBOnce sync.Once
	sharedHotelDBErr  error
)

// GetHotelDB returns a shared metadata store for integration tests.
// Migrations are applied once; call Reset between tests that need a clean slate.
func GetHotelDB(t *testing.T) *HotelDB {
	t.Helper()

	testDB := GetTestDB(t)

	sharedHotelDBOnce.Do(func() {
		sharedHotelDB, sharedHotelDBErr = setupHotelDB(testDB)
	})

	if sharedHotelDBErr != nil {
		t.Fatalf("Failed to setup metadata database: %v", sharedHotelDBErr)
	}

	return sharedHotelDB
}

func setupHotelDB(testDB *TestDB) (*HotelDB, error) {
	ctx := context.Background()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            testDB.ConnStr,
		MaxConnections: 5,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to metadata database: %w", err)
	}

	// golang-migrate needs database/sql; share the existing pgx pool.
	sqlDB := stdlib.OpenDBFromPool(testDB.Pool)
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, zap.NewNop()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &HotelDB{
		DB:      db,
		ConnStr: testDB.ConnStr,
	}, nil
}

// Reset removes every metadata row.
func (h *HotelDB) Reset(t *testing.T) {
	t.Helper()

	_, err := h.DB.Pool.Exec(context.Background(),
		"TRUNCATE dbh_external_connections, dbh_labels, dbh_users, dbh_schemas")
	if err != nil {
		t.Fatalf("Failed to reset metadata database: %v", err)
	}
}
