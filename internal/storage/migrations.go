package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/dshills/refindex/pkg/types"
)

const (
	// CurrentSchemaVersion tracks the database schema version. Bump the
	// minor version whenever key or posting encodings change: existing
	// indexes then fail the compatibility check and are rebuilt.
	CurrentSchemaVersion = "1.0.0"

	// compatibleSchemas is the range of stamps this code can read
	compatibleSchemas = "~1.0.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up(),
	},
}

// postingTable returns the SQL table name backing an index table
func postingTable(id types.TableID) string {
	return "refs_" + id.Name()
}

func migrationV1Up() string {
	var b strings.Builder
	b.WriteString(`
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Index-wide state: session marker, project root
CREATE TABLE IF NOT EXISTS index_state (
    name TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Symbol name enumerator
CREATE TABLE IF NOT EXISTS symbol_names (
    id INTEGER PRIMARY KEY,
    value TEXT NOT NULL UNIQUE
);

-- File path enumerator
CREATE TABLE IF NOT EXISTS file_paths (
    id INTEGER PRIMARY KEY,
    value TEXT NOT NULL UNIQUE
);

-- Files currently contributing to the index
CREATE TABLE IF NOT EXISTS indexed_files (
    file_id INTEGER PRIMARY KEY,
    digest INTEGER NOT NULL,
    indexed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`)
	for _, id := range types.AllTables {
		fmt.Fprintf(&b, `
-- %[2]s
CREATE TABLE IF NOT EXISTS %[1]s (
    key BLOB NOT NULL,
    file_id INTEGER NOT NULL,
    value BLOB NOT NULL,
    PRIMARY KEY (key, file_id)
) WITHOUT ROWID;

CREATE INDEX IF NOT EXISTS idx_%[1]s_file ON %[1]s(file_id);
`, postingTable(id), id.Title())
	}
	return b.String()
}

// CheckSchemaVersion verifies that a stored schema stamp can be read by
// this build
func CheckSchemaVersion(stored string) error {
	v, err := semver.NewVersion(stored)
	if err != nil {
		return fmt.Errorf("%w: unreadable schema version %q: %w", types.ErrVersionMismatch, stored, err)
	}
	c, err := semver.NewConstraint(compatibleSchemas)
	if err != nil {
		return fmt.Errorf("invalid schema constraint %s: %w", compatibleSchemas, err)
	}
	if !c.Check(v) {
		return fmt.Errorf("%w: index has schema %s, need %s", types.ErrVersionMismatch, stored, compatibleSchemas)
	}
	return nil
}

// ApplyMigrations creates the schema on a fresh database and runs pending
// migrations on a compatible one. An incompatible stamp is never migrated:
// the index is disposable and gets rebuilt instead.
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	// Check if schema_version table exists
	var tableName string
	err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)

	// Parse current version (default to 0.0.0 if no migrations applied or table doesn't exist)
	var currentVersion *semver.Version
	if err == sql.ErrNoRows {
		currentVersion = semver.MustParse("0.0.0")
	} else if err != nil {
		return fmt.Errorf("%w: failed to check schema_version table: %w", types.ErrStorageIO, err)
	} else {
		var currentVersionStr string
		err = db.QueryRowContext(ctx, "SELECT version FROM schema_version ORDER BY applied_at DESC, version DESC LIMIT 1").Scan(&currentVersionStr)
		if err == sql.ErrNoRows || (err == nil && currentVersionStr == "") {
			currentVersion = semver.MustParse("0.0.0")
		} else if err != nil {
			return fmt.Errorf("%w: failed to read schema_version: %w", types.ErrStorageIO, err)
		} else {
			if err := CheckSchemaVersion(currentVersionStr); err != nil {
				return err
			}
			currentVersion = semver.MustParse(currentVersionStr)
		}
	}

	// Run migrations in order
	for _, migration := range AllMigrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}

		if !currentVersion.LessThan(migrationVersion) {
			continue // Already applied
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("%w: failed to begin migration %s: %w", types.ErrStorageIO, migration.Version, err)
		}
		if _, err := tx.ExecContext(ctx, migration.Up); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%w: failed to apply migration %s: %w", types.ErrStorageIO, migration.Version, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", migration.Version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%w: failed to record migration %s: %w", types.ErrStorageIO, migration.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%w: failed to commit migration %s: %w", types.ErrStorageIO, migration.Version, err)
		}

		currentVersion = migrationVersion
	}

	return nil
}
