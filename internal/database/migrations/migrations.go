// Package migrations holds the notesync sqlite schema as embedded
// golang-migrate files and applies it.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var schemaFiles embed.FS

// Schema states reported by Check.
var (
	ErrNotMigrated = errors.New("notesync schema not installed")
	ErrDirty       = errors.New("notesync schema left dirty by a failed migration")
	ErrBehind      = errors.New("notesync schema is behind this binary")
	ErrAhead       = errors.New("notesync schema is newer than this binary")
)

// Check compares the schema version recorded in db with the newest embedded
// migration. Run Up for ErrNotMigrated and ErrBehind; ErrAhead needs a newer
// notesync.
func Check(db *sql.DB) error {
	m, err := open(db)
	if err != nil {
		return err
	}
	// m is not closed: closing it closes db, which the caller owns.

	have, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return ErrNotMigrated
	}
	if err != nil {
		return fmt.Errorf("reading notesync schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("%w at version %d", ErrDirty, have)
	}

	want, err := Latest()
	if err != nil {
		return err
	}
	switch {
	case have < want:
		return fmt.Errorf("%w: version %d, want %d", ErrBehind, have, want)
	case have > want:
		return fmt.Errorf("%w: version %d, binary knows %d", ErrAhead, have, want)
	}
	return nil
}

// Up applies every pending migration. An up-to-date schema is not an error.
func Up(db *sql.DB) error {
	m, err := open(db)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrating notesync schema: %w", err)
	}
	return nil
}

// Latest returns the version of the newest embedded migration.
func Latest() (uint, error) {
	src, err := iofs.New(schemaFiles, "files")
	if err != nil {
		return 0, fmt.Errorf("reading embedded schema: %w", err)
	}
	defer src.Close()
	return lastVersion(src)
}

func lastVersion(src source.Driver) (uint, error) {
	v, err := src.First()
	if err != nil {
		return 0, fmt.Errorf("embedded schema has no migrations: %w", err)
	}
	for {
		next, err := src.Next(v)
		if errors.Is(err, fs.ErrNotExist) {
			return v, nil
		}
		if err != nil {
			return 0, fmt.Errorf("walking embedded schema after %d: %w", v, err)
		}
		v = next
	}
}

func open(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(schemaFiles, "files")
	if err != nil {
		return nil, fmt.Errorf("reading embedded schema: %w", err)
	}
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("attaching sqlite3 migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("preparing notesync schema migration: %w", err)
	}
	return m, nil
}
