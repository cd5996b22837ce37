package testdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/phrazzld/imagelab-api/internal/platform/postgres"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"
)

// TestTimeout defines a default timeout for test database operations.
const TestTimeout = 5 * time.Second

// MigrationTableName is the goose version table shared with the server.
const MigrationTableName = "schema_migrations"

var (
	migrateOnce sync.Once
	migrateErr  error
)

// GetTestDatabaseURL returns the database URL for tests.
// It checks IMAGELAB_TEST_DATABASE_URL and DATABASE_URL in that order,
// returning the first non-empty value.
func GetTestDatabaseURL() string {
	if url := os.Getenv("IMAGELAB_TEST_DATABASE_URL"); url != "" {
		return url
	}
	return os.Getenv("DATABASE_URL")
}

// IsIntegrationTestEnvironment reports whether a test database is configured.
func IsIntegrationTestEnvironment() bool {
	return GetTestDatabaseURL() != ""
}

// GetTestDBWithT opens the test database, applies the schema and registers
// cleanup. The test is skipped when no database is configured.
func GetTestDBWithT(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := GetTestDatabaseURL()
	if dbURL == "" {
		t.Skip("IMAGELAB_TEST_DATABASE_URL not set - skipping integration test")
	}

	db, err := sql.Open("pgx", dbURL)
	require.NoError(t, err, "failed to open test database")
	t.Cleanup(func() { _ = db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	defer cancel()
	require.NoError(t, db.PingContext(ctx), "test database %s is unreachable", MaskDatabaseURL(dbURL))

	require.NoError(t, ApplyMigrations(db), "failed to migrate test database")
	return db
}

// ApplyMigrations brings db up to the latest embedded migration. It runs at
// most once per process.
func ApplyMigrations(db *sql.DB) error {
	migrateOnce.Do(func() {
		goose.SetLogger(goose.NopLogger())
		goose.SetBaseFS(postgres.Migrations)
		goose.SetTableName(MigrationTableName)
		if err := goose.SetDialect("postgres"); err != nil {
			migrateErr = fmt.Errorf("failed to set dialect: %w", err)
			return
		}
		if err := goose.Up(db, postgres.MigrationsDir); err != nil {
			migrateErr = fmt.Errorf("failed to run migrations: %w", err)
		}
	})
	return migrateErr
}

// WithTx executes a test function within a transaction, automatically rolling back
// after the test completes. This ensures test isolation and prevents side effects.
func WithTx(t *testing.T, db *sql.DB, fn func(t *testing.T, tx *sql.Tx)) {
	t.Helper()

	tx, err := db.Begin()
	require.NoError(t, err, "failed to begin transaction")

	defer func() {
		err := tx.Rollback()
		// sql.ErrTxDone is expected if tx is already committed or rolled back
		if err != nil && !errors.Is(err, sql.ErrTxDone) {
			t.Logf("Warning: failed to rollback transaction: %v", err)
		}
	}()

	fn(t, tx)
}

// MaskDatabaseURL hides the password of a connection URL for test logs.
func MaskDatabaseURL(dbURL string) string {
	scheme, rest, ok := strings.Cut(dbURL, "://")
	if !ok {
		return dbURL
	}
	creds, host, ok := strings.Cut(rest, "@")
	if !ok {
		return dbURL
	}
	user, _, hasPass := strings.Cut(creds, ":")
	if !hasPass {
		return dbURL
	}
	return scheme + "://" + user + ":****@" + host
}
