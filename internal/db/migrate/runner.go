// Package migrate applies the embedded user-store schema with golang-migrate.
package migrate

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"sessionguard/backend/internal/db"
)

// Directions accepted by Run.
const (
	Up      = "up"
	Down    = "down"
	Version = "version"
)

// ErrNoChange is returned when Up/Down has nothing to do (already at target version).
var ErrNoChange = migrate.ErrNoChange

// Result reports the schema version after Run.
type Result struct {
	Version uint
	Dirty   bool
}

// Run applies migrations in direction ("up", "down") or only reports the current
// version ("version"). ErrNoChange is swallowed; the caller sees a nil error.
func Run(dsn, direction string) (Result, error) {
	if dsn == "" {
		return Result{}, errors.New("DATABASE_URL is not set")
	}
	if direction != Up && direction != Down && direction != Version {
		return Result{}, fmt.Errorf("direction must be up, down or version, got %q", direction)
	}

	source, err := iofs.New(db.MigrationFS, "migrations")
	if err != nil {
		return Result{}, fmt.Errorf("migrate source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, dsn)
	if err != nil {
		return Result{}, fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	switch direction {
	case Up:
		err = m.Up()
	case Down:
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return Result{}, err
	}

	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return Result{}, nil
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Version: v, Dirty: dirty}, nil
}
