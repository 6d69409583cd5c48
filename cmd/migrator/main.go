package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

const (
	migrationUp   = "up"
	migrationDown = "down"
)

func mustMigrateUp(m *migrate.Migrate) {
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			fmt.Println("no migrations to apply")
			return
		}

		panic(err)
	}

	fmt.Println("migrations applied successfully")
}

func mustMigrateDown(m *migrate.Migrate) {
	if err := m.Down(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			fmt.Println("no migrations to revert")
			return
		}

		panic(err)
	}

	fmt.Println("migrations reverted successfully")
}

// main applies the schema in migrations/ to the Postgres store. The SQLite
// store creates its own schema on open.
func main() {
	var dsn, migrationsPath, migrationsTable, migrationType string
	flag.StringVar(&migrationType, "migration-type", migrationUp, "migration type: up or down")
	flag.StringVar(&dsn, "dsn", os.Getenv("DATABASE_URL"), "postgres connection URL")
	flag.StringVar(&migrationsPath, "migrations-path", "migrations", "path to migrations")
	flag.StringVar(&migrationsTable, "migrations-table", "schema_migrations", "name of migrations table")
	flag.Parse()

	if dsn == "" {
		panic("dsn is required (flag -dsn or DATABASE_URL)")
	}

	m, err := migrate.New(fmt.Sprintf("file://%s", migrationsPath), databaseURL(dsn, migrationsTable))
	if err != nil {
		panic(err)
	}
	defer m.Close()

	if migrationType == migrationDown {
		mustMigrateDown(m)
		return
	}

	mustMigrateUp(m)
}
