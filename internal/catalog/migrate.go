package catalog

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/banshee-data/groundlink/internal/monitoring"
)

//go:embed migrations/*.sql
var schemaFiles embed.FS

// MigrateUp applies every pending schema change. A current schema is not an
// error.
func (c *Catalog) MigrateUp() error {
	return c.migrate("up", (*migrate.Migrate).Up)
}

// MigrateDown reverts the newest applied schema change.
func (c *Catalog) MigrateDown() error {
	return c.migrate("down", func(m *migrate.Migrate) error { return m.Steps(-1) })
}

// SchemaVersion reports the applied schema version. An empty database is at
// version 0.
func (c *Catalog) SchemaVersion() (v uint, dirty bool, err error) {
	err = c.withMigrator(func(m *migrate.Migrate) error {
		v, dirty, err = m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			v, dirty, err = 0, false, nil
		}
		return err
	})
	return v, dirty, err
}

func (c *Catalog) migrate(direction string, step func(*migrate.Migrate) error) error {
	err := c.withMigrator(step)
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("catalog: migrate %s: %w", direction, err)
	}
	return nil
}

// withMigrator runs fn against the embedded schema. The migrator is left
// open: closing it would close c.DB as well.
func (c *Catalog) withMigrator(fn func(*migrate.Migrate) error) error {
	src, err := iofs.New(schemaFiles, "migrations")
	if err != nil {
		return fmt.Errorf("catalog: load schema files: %w", err)
	}
	db, err := migratesqlite.WithInstance(c.DB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("catalog: attach migrator: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", db)
	if err != nil {
		return fmt.Errorf("catalog: attach migrator: %w", err)
	}
	m.Log = diagLogger{}
	return fn(m)
}

// diagLogger routes migrate progress to the diagnostic log.
type diagLogger struct{}

func (diagLogger) Printf(format string, v ...any) { monitoring.Diagf("[catalog] "+format, v...) }
func (diagLogger) Verbose() bool                  { return false }
