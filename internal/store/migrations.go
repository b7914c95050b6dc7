package store

import (
	"database/sql"
	"fmt"
	"sort"
	"time"
)

// Migration represents a schema migration step. SQL is the SQLite dialect;
// the Postgres equivalent of each version lives under migrations/postgres.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// MigrationStatus reports the current and available migration versions.
type MigrationStatus struct {
	Driver           Driver          `json:"driver"`
	CurrentVersion   int             `json:"current_version"`
	AvailableVersion int             `json:"available_version"`
	Dirty            bool            `json:"dirty,omitempty"`
	Pending          []MigrationInfo `json:"pending"`
}

// MigrationInfo describes a single migration.
type MigrationInfo struct {
	Version     int    `json:"version"`
	Description string `json:"description"`
}

// migrations is the ordered list of all schema migrations.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema: expenses, blob_references, attachments",
		SQL: `
CREATE TABLE IF NOT EXISTS expenses (
  id TEXT PRIMARY KEY,
  project_id TEXT,
  name TEXT NOT NULL,
  description TEXT,
  amount_cents INTEGER NOT NULL DEFAULT 0,
  currency TEXT NOT NULL,
  category TEXT,
  spent_on TEXT,
  creator_id TEXT,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS blob_references (
  id TEXT PRIMARY KEY,
  total INTEGER CHECK (total IS NULL OR total > 0),
  size_bytes INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS attachments (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  blob_id TEXT,
  name TEXT NOT NULL,
  mime_type TEXT,
  size_bytes INTEGER NOT NULL DEFAULT 0,
  metadata TEXT NOT NULL DEFAULT '{}',
  creator_id TEXT,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  CHECK ((kind = 'file' AND blob_id IS NOT NULL) OR (kind <> 'file' AND blob_id IS NULL)),
  FOREIGN KEY (owner_id) REFERENCES expenses(id) ON DELETE RESTRICT,
  FOREIGN KEY (blob_id) REFERENCES blob_references(id) ON DELETE RESTRICT
);

CREATE INDEX IF NOT EXISTS idx_expenses_project_created ON expenses(project_id, created_at);
CREATE INDEX IF NOT EXISTS idx_attachments_owner_created ON attachments(owner_id, created_at);
CREATE INDEX IF NOT EXISTS idx_attachments_blob ON attachments(blob_id);
CREATE INDEX IF NOT EXISTS idx_blob_references_orphaned ON blob_references(id) WHERE total IS NULL;
`,
	},
}

const migrationsTableSQL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at TEXT NOT NULL
);
`

// ensureMigrationsTable creates the schema_migrations table if it doesn't exist.
func ensureMigrationsTable(db *sql.DB) error {
	_, err := db.Exec(migrationsTableSQL)
	return err
}

// currentVersion returns the highest applied migration version, or 0 if none.
func currentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

func sortedMigrations() []Migration {
	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	return sorted
}

// runMigrations applies all pending SQLite migrations in order.
func runMigrations(db *sql.DB) error {
	if err := ensureMigrationsTable(db); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	current, err := currentVersion(db)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range sortedMigrations() {
		if m.Version <= current {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)", m.Version, formatTime(time.Now())); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// MigrationPlan returns the current migration status without applying anything.
func MigrationPlan(db *sql.DB, driver Driver) (*MigrationStatus, error) {
	var (
		current int
		dirty   bool
		err     error
	)
	switch driver {
	case DriverPostgres:
		current, dirty, err = postgresVersion(db)
	default:
		if err = ensureMigrationsTable(db); err == nil {
			current, err = currentVersion(db)
		}
	}
	if err != nil {
		return nil, err
	}

	sorted := sortedMigrations()
	available := 0
	if len(sorted) > 0 {
		available = sorted[len(sorted)-1].Version
	}

	var pending []MigrationInfo
	for _, m := range sorted {
		if m.Version > current {
			pending = append(pending, MigrationInfo{Version: m.Version, Description: m.Description})
		}
	}

	return &MigrationStatus{
		Driver:           driver,
		CurrentVersion:   current,
		AvailableVersion: available,
		Dirty:            dirty,
		Pending:          pending,
	}, nil
}

// InspectMigrations reports the migration status of the database at target
// without applying anything. target is a file path for SQLite and a
// connection URL for Postgres.
func InspectMigrations(driver Driver, target string) (*MigrationStatus, error) {
	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case DriverSQLite:
		dsn, dsnErr := sqliteDSN(target)
		if dsnErr != nil {
			return nil, dsnErr
		}
		db, err = sql.Open("sqlite", dsn)
	case DriverPostgres:
		db, err = sql.Open("pgx", target)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return MigrationPlan(db, driver)
}
