// Package dbtest gives tests a freshly migrated Postgres database of their
// own. Tests skip when LEDGER_TEST_DATABASE_URL is unset.
package dbtest

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"ledger/internal/db"
	"ledger/migrations"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// EnvDatabaseURL names a DSN with rights to create and drop databases.
const EnvDatabaseURL = "LEDGER_TEST_DATABASE_URL"

// New creates a uniquely named database, applies the embedded migrations and
// drops the database when the test ends.
func New(t testing.TB) *sqlx.DB {
	t.Helper()
	baseDSN := os.Getenv(EnvDatabaseURL)
	if baseDSN == "" {
		t.Skipf("%s not set; skipping postgres test", EnvDatabaseURL)
	}

	admin, err := sqlx.Open("postgres", baseDSN)
	if err != nil {
		t.Fatalf("open admin: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbName := sanitizeIdent(uniqueName("ledger_test", t.Name()))
	const maxAttempts = 5
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		_, err = admin.ExecContext(ctx, fmt.Sprintf(`CREATE DATABASE "%s" WITH TEMPLATE template0 ENCODING 'UTF8'`, dbName))
		if err == nil {
			break
		}
		if !db.IsUniqueViolation(err) || attempt == maxAttempts {
			_ = admin.Close()
			t.Fatalf("create database: %v", err)
		}
		dbName = sanitizeIdent(uniqueName("ledger_test", t.Name()))
	}

	testDSN, err := ReplaceDatabase(baseDSN, dbName)
	if err != nil {
		_ = admin.Close()
		t.Fatalf("test dsn: %v", err)
	}
	if err := migrateUp(testDSN); err != nil {
		dropDatabase(admin, dbName)
		t.Fatalf("migrate: %v", err)
	}

	conn, err := db.Connect(testDSN, db.PoolOptions{
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxIdleTime: 100 * time.Millisecond,
		ConnMaxLifetime: 30 * time.Second,
	})
	if err != nil {
		dropDatabase(admin, dbName)
		t.Fatalf("connect test db: %v", err)
	}

	t.Cleanup(func() {
		_ = conn.Close()
		dropDatabase(admin, dbName)
	})
	return conn
}

// ReplaceDatabase swaps the database name in a URL-form Postgres DSN.
func ReplaceDatabase(dsn, name string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse dsn: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("dsn must be a postgres url, got scheme %q", u.Scheme)
	}
	u.Path = "/" + name
	return u.String(), nil
}

// migrateUp runs on its own connection because the migrate driver closes the
// *sql.DB it was given.
func migrateUp(dsn string) error {
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		_ = sqlDB.Close()
		return fmt.Errorf("postgres driver: %w", err)
	}
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		_ = driver.Close()
		return fmt.Errorf("open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		_ = driver.Close()
		return fmt.Errorf("migrate instance: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

func dropDatabase(admin *sqlx.DB, name string) {
	defer admin.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := admin.ExecContext(ctx, fmt.Sprintf(`DROP DATABASE IF EXISTS "%s" WITH (FORCE)`, name)); err == nil {
		return
	}
	_, _ = admin.ExecContext(ctx, `
		SELECT pg_terminate_backend(pid)
		FROM pg_stat_activity
		WHERE datname = $1 AND pid <> pg_backend_pid()
	`, name)
	_, _ = admin.ExecContext(ctx, fmt.Sprintf(`DROP DATABASE IF EXISTS "%s"`, name))
}

func uniqueName(prefix, testName string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(testName))
	var rnd [6]byte
	_, _ = rand.Read(rnd[:])
	return fmt.Sprintf("%s_%08x_%s", prefix, h.Sum32(), hex.EncodeToString(rnd[:]))
}

func sanitizeIdent(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("/", "_", "\\", "_", " ", "_", ":", "_", "-", "_").Replace(s)
	if len(s) <= 63 {
		return s
	}
	return s[:31] + "_" + s[len(s)-31:]
}
