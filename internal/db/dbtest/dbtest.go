// Package dbtest opens a migrated Postgres pool for store integration tests.
// Tests are skipped unless ZOTTIS_TEST_DATABASE_URL is set.
package dbtest

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/armando3069/zottis/internal/config"
	"github.com/armando3069/zottis/internal/db"
)

// EnvDatabaseURL names the variable holding the test database DSN.
const EnvDatabaseURL = "ZOTTIS_TEST_DATABASE_URL"

// Open migrates the test database and returns a pool closed on cleanup.
// Callers must use unique ids, the schema is shared between packages.
func Open(t testing.TB) *pgxpool.Pool {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv(EnvDatabaseURL))
	if dsn == "" {
		t.Skipf("%s not set", EnvDatabaseURL)
	}
	cfg := config.PostgresConfig{URL: dsn}
	if err := db.Migrate(slog.New(slog.NewTextHandler(io.Discard, nil)), cfg, db.MigrateUp); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	pool, err := db.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}
