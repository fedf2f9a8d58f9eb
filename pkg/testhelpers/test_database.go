// Package testhelpers provides container-backed fixtures for integration
// tests.
package testhelpers

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestDatabase is a migrated PostgreSQL instance running in a container.
type TestDatabase struct {
	Container *postgres.PostgresContainer
	Pool      *pgxpool.Pool
	ConnStr   string
}

// NewTestDatabase starts a PostgreSQL container and applies the migrations
// under migrationsDir.
func NewTestDatabase(t *testing.T, migrationsDir string) *TestDatabase {
	t.Helper()

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "failed to start postgres container")

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err, "failed to create connection pool")

	runMigrations(t, connStr, migrationsDir)

	return &TestDatabase{
		Container: pgContainer,
		Pool:      pool,
		ConnStr:   connStr,
	}
}

func runMigrations(t *testing.T, connStr, migrationsDir string) {
	t.Helper()

	db, err := sql.Open("pgx", connStr)
	require.NoError(t, err, "failed to open sql db for migrations")
	defer db.Close()

	require.NoError(t, goose.SetDialect("postgres"), "failed to set goose dialect")

	absPath, err := filepath.Abs(migrationsDir)
	require.NoError(t, err, "failed to resolve migrations path")

	require.NoError(t, goose.Up(db, absPath), "failed to run migrations")
}

// Close terminates the container and the pool.
func (td *TestDatabase) Close() {
	ctx := context.Background()
	td.Pool.Close()
	if err := td.Container.Terminate(ctx); err != nil {
		fmt.Printf("failed to terminate container: %v\n", err)
	}
}
