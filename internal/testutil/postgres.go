// Package testutil provides shared integration-test scaffolding:
// a real Postgres (via testcontainers-go) with the kernel's migrations
// applied in a per-test schema, so tests exercise real FOR UPDATE SKIP
// LOCKED and LISTEN/NOTIFY semantics rather than a mocked driver.
//
// Adapted from the teacher's test/util/database.go (shared container +
// per-test schema isolation) and test/database/client.go, generalized from
// an ent-backed database/sql connection to a pgxpool.Pool.
package testutil

import (
	"context"
	"crypto/rand"
	stdsql "database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/codeready-toolchain/agentkernel/pkg/dbx"
)

var (
	sharedConnStr string
	containerOnce sync.Once
	containerErr  error
)

// NewPool starts (or reuses) a shared Postgres testcontainer, creates a
// fresh per-test schema, applies the kernel's migrations into it, and
// returns a pgxpool.Pool scoped to that schema. The schema is dropped on
// test cleanup.
func NewPool(t *testing.T) *dbx.Pool {
	t.Helper()
	pool, _ := NewPoolWithConnString(t)
	return pool
}

// NewPoolWithConnString is NewPool plus the schema-scoped DSN, for callers
// that need a second, dedicated connection outside the pool — e.g.
// pkg/livetail's LISTEN connection.
func NewPoolWithConnString(t *testing.T) (*dbx.Pool, string) {
	t.Helper()
	ctx := context.Background()

	connStr := sharedDatabase(t)
	schema := schemaName(t)

	admin, err := stdsql.Open("pgx", connStr)
	require.NoError(t, err)
	_, err = admin.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA %s", schema))
	require.NoError(t, err)
	require.NoError(t, admin.Close())

	scopedConnStr := withSearchPath(connStr, schema)

	applyMigrations(t, scopedConnStr, schema)

	poolCfg, err := pgxpool.ParseConfig(scopedConnStr)
	require.NoError(t, err)
	pgxPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		cleanupCtx := context.Background()
		pgxPool.Close()
		db, err := stdsql.Open("pgx", connStr)
		if err == nil {
			_, _ = db.ExecContext(cleanupCtx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema))
			_ = db.Close()
		}
	})

	return &dbx.Pool{Pool: pgxPool}, scopedConnStr
}

func applyMigrations(t *testing.T, connStr, schema string) {
	t.Helper()
	db, err := stdsql.Open("pgx", connStr)
	require.NoError(t, err)
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{SchemaName: schema})
	require.NoError(t, err)

	sourceDriver, err := iofs.New(dbx.EmbeddedMigrationsFS(), "migrations")
	require.NoError(t, err)
	defer sourceDriver.Close()

	m, err := migrate.NewWithInstance("iofs", sourceDriver, schema, driver)
	require.NoError(t, err)

	err = m.Up()
	require.True(t, err == nil || err == migrate.ErrNoChange, "apply migrations: %v", err)
}

func sharedDatabase(t *testing.T) string {
	t.Helper()
	if ciURL := os.Getenv("CI_DATABASE_URL"); ciURL != "" {
		return ciURL
	}
	containerOnce.Do(func() {
		ctx := context.Background()
		container, err := tcpostgres.Run(ctx,
			"postgres:17-alpine",
			tcpostgres.WithDatabase("test"),
			tcpostgres.WithUsername("test"),
			tcpostgres.WithPassword("test"),
			tcpostgres.BasicWaitStrategies(),
			wait.ForListeningPort("5432/tcp"),
		)
		if err != nil {
			containerErr = err
			return
		}
		connStr, err := container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			containerErr = err
			return
		}
		sharedConnStr = connStr
	})
	require.NoError(t, containerErr)
	return sharedConnStr
}

func schemaName(t *testing.T) string {
	t.Helper()
	suffix := make([]byte, 4)
	_, err := rand.Read(suffix)
	require.NoError(t, err)
	sanitized := strings.ToLower(strings.ReplaceAll(strings.ReplaceAll(t.Name(), "/", "_"), " ", "_"))
	if len(sanitized) > 40 {
		sanitized = sanitized[:40]
	}
	return fmt.Sprintf("test_%s_%s", sanitized, hex.EncodeToString(suffix))
}

func withSearchPath(connStr, schema string) string {
	sep := "?"
	if strings.Contains(connStr, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%ssearch_path=%s", connStr, sep, schema)
}

// WaitFor polls fn until it returns true or the timeout elapses, used by
// claim/lease tests that assert on background sweep behavior.
func WaitFor(t *testing.T, timeout time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.Fail(t, "condition not met before timeout")
}
