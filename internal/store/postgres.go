package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql
var postgresMigrationsFS embed.FS

// postgresMigrationsTable is golang-migrate's default version table.
const postgresMigrationsTable = "schema_migrations"

// applyPostgresMigrations runs pending migrations over a dedicated
// connection pool. The migrate driver pins a connection for its lifetime and
// closes the *sql.DB it was given, so it never shares the store's pool.
func applyPostgresMigrations(dbURL string) (err error) {
	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	sourceDriver, err := iofs.New(postgresMigrationsFS, "migrations/postgres")
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("init postgres migrations: %w", err)
	}
	databaseDriver, err := migratepgx.WithInstance(db, &migratepgx.Config{MigrationsTable: postgresMigrationsTable})
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("init postgres migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "pgx", databaseDriver)
	if err != nil {
		_ = databaseDriver.Close()
		return fmt.Errorf("init postgres migrations: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if err == nil {
			err = errors.Join(srcErr, dbErr)
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply postgres migrations: %w", err)
	}
	return nil
}

// postgresVersion reads the migration version with plain queries on db, so
// no connection is held after it returns.
func postgresVersion(db *sql.DB) (int, bool, error) {
	var exists bool
	if err := db.QueryRow(`SELECT to_regclass($1) IS NOT NULL`, postgresMigrationsTable).Scan(&exists); err != nil {
		return 0, false, err
	}
	if !exists {
		return 0, false, nil
	}

	var (
		version int64
		dirty   bool
	)
	err := db.QueryRow(`SELECT version, dirty FROM ` + postgresMigrationsTable + ` LIMIT 1`).Scan(&version, &dirty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return int(version), dirty, nil
}
