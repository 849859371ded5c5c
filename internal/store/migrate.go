package store

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

// ErrSchemaDirty is returned by VerifySchema when a migration failed half way.
var ErrSchemaDirty = errors.New("schema is dirty")

// RunMigrations applies all pending migrations from fsys (e.g. migrations.FS) against the DSN.
func RunMigrations(dsn string, fsys fs.FS) error {
	src, err := iofs.New(fsys, ".")
	if err != nil {
		return fmt.Errorf("iofs.New: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("migrate.New: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migrate.Up: %w", err)
	}
	return nil
}

// VerifySchema checks that schema_migrations is at least at version want and
// not dirty. Used at startup after RunMigrations, and by operators who run
// migrations out of band.
func VerifySchema(dsn string, want uint) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer db.Close()

	var (
		version int64
		dirty   bool
	)
	err = db.QueryRow(`SELECT version, dirty FROM schema_migrations LIMIT 1`).Scan(&version, &dirty)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("schema_migrations is empty; expected version %d", want)
	}
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("version %d: %w", version, ErrSchemaDirty)
	}
	if version < int64(want) {
		return fmt.Errorf("schema version %d is older than required %d", version, want)
	}
	return nil
}
