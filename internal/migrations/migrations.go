// Package migrations embeds the schema and applies it with golang-migrate.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

//go:embed sql/*.sql
var files embed.FS

// Migrator applies the embedded migrations to one database.
type Migrator struct {
	databaseURL string
	logger      zerolog.Logger
}

func NewMigrator(databaseURL string, logger zerolog.Logger) *Migrator {
	return &Migrator{databaseURL: databaseURL, logger: logger}
}

// Up applies every pending migration.
func (m *Migrator) Up() error {
	return m.run(func(mg *migrate.Migrate) error {
		if err := mg.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("apply migrations: %w", err)
		}
		m.logger.Info().Msg("database migrations applied")
		return nil
	})
}

// Down rolls back every migration.
func (m *Migrator) Down() error {
	return m.run(func(mg *migrate.Migrate) error {
		if err := mg.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("rollback migrations: %w", err)
		}
		m.logger.Info().Msg("database migrations rolled back")
		return nil
	})
}

// Version reports the applied version. A database with no migrations reports 0.
func (m *Migrator) Version() (uint, bool, error) {
	var (
		version uint
		dirty   bool
	)
	err := m.run(func(mg *migrate.Migrate) error {
		v, d, err := mg.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("migration version: %w", err)
		}
		version, dirty = v, d
		return nil
	})
	return version, dirty, err
}

func (m *Migrator) run(fn func(*migrate.Migrate) error) error {
	db, err := sql.Open("postgres", m.databaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "schema_migrations"})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}
	source, err := iofs.New(files, "sql")
	if err != nil {
		return fmt.Errorf("create source driver: %w", err)
	}
	mg, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer mg.Close()
	mg.LockTimeout = 30 * time.Second
	return fn(mg)
}
