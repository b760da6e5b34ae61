// Package migrations applies the arena's Postgres schema.
package migrations

import (
	"embed"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Up applies every pending migration to the database at databaseURL.
func Up(databaseURL string) (err error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrations: source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return fmt.Errorf("migrations: init: %w", err)
	}
	defer func() {
		sourceErr, dbErr := m.Close()
		err = stderrors.Join(err, sourceErr, dbErr)
	}()

	version, dirty, err := m.Version()
	if err != nil && !stderrors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("migrations: version: %w", err)
	}
	if dirty {
		slog.Warn("migrations: database is dirty, forcing version", "version", version)
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("migrations: force %d: %w", version, err)
		}
	}

	if err := m.Up(); err != nil {
		if stderrors.Is(err, migrate.ErrNoChange) {
			slog.Info("migrations: up to date")
			return nil
		}
		return fmt.Errorf("migrations: up: %w", err)
	}

	version, _, _ = m.Version()
	slog.Info("migrations: applied", "version", version)

	return nil
}
