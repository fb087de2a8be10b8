package store

import (
	"context"
	"os"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/jackc/pgx/v5/pgxpool"
)

func newTestPGPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	pgURL := os.Getenv("PG_URL")
	if pgURL == "" {
		t.Skip("PG_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect to postgres: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Fatalf("ping postgres: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func TestPostgresRepositoryContract_Integration(t *testing.T) {
	pool := newTestPGPool(t)
	runRepositoryContract(t, func(t *testing.T) Repository {
		repo := NewPostgresRepository(pool)
		ctx := context.Background()
		if err := repo.ensureSchema(ctx); err != nil {
			t.Fatalf("ensure schema: %v", err)
		}
		if _, err := pool.Exec(ctx, `DELETE FROM pipelines`); err != nil {
			t.Fatalf("reset pipelines: %v", err)
		}
		return repo
	})
}

func TestPostgresMigrateIsRepeatable_Integration(t *testing.T) {
	pool := newTestPGPool(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := NewMigrator(pool).Migrate(ctx); err != nil {
			t.Fatalf("migrate run %d: %v", i+1, err)
		}
	}
}

func TestOpenPostgresRejectsBadURL(t *testing.T) {
	_, err := OpenPostgres(context.Background(), PGConfig{URL: "postgres://%zz"})
	if err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestLoadMigrationsOrdersByName(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/0002_index.sql":     {Data: []byte("CREATE INDEX x ON pipelines (id);")},
		"migrations/0001_pipelines.sql": {Data: []byte("CREATE TABLE pipelines ();")},
		"migrations/README.md":          {Data: []byte("ignored")},
	}
	migs, err := loadMigrations(fsys)
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	if len(migs) != 2 || migs[0].version != "0001_pipelines" || migs[1].version != "0002_index" {
		t.Fatalf("unexpected migrations %+v", migs)
	}
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	migs, err := loadMigrations(migrationsFS)
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	if len(migs) == 0 || !strings.Contains(migs[0].sql, "pipelines") {
		t.Fatalf("expected the pipelines migration, got %+v", migs)
	}
}
