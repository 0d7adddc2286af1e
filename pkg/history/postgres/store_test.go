package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/murmur/pkg/history"
	"github.com/MrWong99/murmur/pkg/history/historytest"
	"github.com/MrWong99/murmur/pkg/history/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if MURMUR_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("MURMUR_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MURMUR_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore drops the history tables and returns a freshly migrated store.
func newTestStore(t *testing.T) history.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	defer pool.Close()
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS conversation_entries CASCADE",
		"DROP TABLE IF EXISTS conversations CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("drop schema: %v", err)
		}
	}

	s, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// The subtests share one database, so they must not run in parallel.
func TestStore(t *testing.T) {
	historytest.Run(t, newTestStore)
}

func TestMigrate_Idempotent(t *testing.T) {
	newTestStore(t)
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()
	for range 2 {
		if err := postgres.Migrate(ctx, pool); err != nil {
			t.Fatalf("Migrate: %v", err)
		}
	}
}

func TestNewStore_BadDSN(t *testing.T) {
	t.Parallel()
	if _, err := postgres.NewStore(context.Background(), "not a dsn ://"); err == nil {
		t.Error("expected error for malformed dsn")
	}
}
