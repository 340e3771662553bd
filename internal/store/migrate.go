package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies every pending migration embedded under migrations/.
// Grounded on davidleathers113-dependable-call-exchange-backend's
// migrate.NewWithDatabaseInstance usage, swapped to the pgx/v5 driver so it
// shares a single Postgres driver family with pgstore.go's pgxpool.
func Migrate(connString string) error {
	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: load migration source: %w", err)
	}

	sqlDB, err := sql.Open("pgx", connString)
	if err != nil {
		return fmt.Errorf("store: open migration connection: %w", err)
	}
	defer sqlDB.Close()

	driver, err := pgxmigrate.WithInstance(sqlDB, &pgxmigrate.Config{})
	if err != nil {
		return fmt.Errorf("store: init migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "pgx/v5", driver)
	if err != nil {
		return fmt.Errorf("store: init migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: run migrations: %w", err)
	}
	return nil
}
