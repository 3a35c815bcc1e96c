package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/dshills/refindex/pkg/types"
)

// DB owns the SQLite database behind one index directory. Writes go through
// a lazily started transaction that Flush commits, so everything written
// before a successful Flush survives a crash and nothing after it does.
type DB struct {
	db   *sql.DB
	path string

	mu     sync.Mutex
	tx     *sql.Tx
	closed bool
	failed error
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// WAL keeps committed pages intact if the process dies mid-write
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Single connection: the write transaction and all reads share it
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return db, nil
}

// Open opens (creating if needed) the database at dbPath and checks its
// schema stamp. An incompatible stamp yields types.ErrVersionMismatch.
func Open(ctx context.Context, dbPath string) (*DB, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", types.ErrStorageIO, err)
	}

	if err := ApplyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{db: db, path: dbPath}, nil
}

// Path returns the database file path
func (d *DB) Path() string {
	return d.path
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// reader returns the querier for reads: the open write transaction if there
// is one (the only connection is held by it), the database otherwise.
func (d *DB) reader() (querier, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, types.ErrClosed
	}
	if d.tx != nil {
		return d.tx, nil
	}
	return d.db, nil
}

// writer returns the write transaction, starting it if needed
func (d *DB) writer(ctx context.Context) (querier, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, types.ErrClosed
	}
	if d.failed != nil {
		return nil, d.failed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.tx == nil {
		// The transaction outlives the context of the write that starts
		// it; ctx only bounds each statement.
		tx, err := d.db.BeginTx(context.Background(), nil)
		if err != nil {
			return nil, d.failLocked(fmt.Errorf("failed to begin transaction: %w", err))
		}
		d.tx = tx
	}
	return d.tx, nil
}

// fail records a write failure. The database refuses further writes until
// it is discarded; callers rebuild.
func (d *DB) fail(err error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failLocked(err)
}

func (d *DB) failLocked(err error) error {
	if isContextErr(err) {
		// The session is abandoned and rolled back; the database is intact
		return err
	}
	if errors.Is(err, types.ErrStorageIO) {
		if d.failed == nil {
			d.failed = err
		}
		return err
	}
	wrapped := fmt.Errorf("%w: %w", types.ErrStorageIO, err)
	if d.failed == nil {
		d.failed = wrapped
	}
	return wrapped
}

// readErr wraps a read failure without poisoning the database
func readErr(err error) error {
	if err == nil || isContextErr(err) || errors.Is(err, types.ErrClosed) || errors.Is(err, types.ErrStorageIO) {
		return err
	}
	return fmt.Errorf("%w: %w", types.ErrStorageIO, err)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Failed returns the write failure recorded on this database, if any
func (d *DB) Failed() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failed
}

// Flush commits all pending writes
func (d *DB) Flush(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return types.ErrClosed
	}
	if d.failed != nil {
		return d.failed
	}
	if d.tx == nil {
		return nil
	}
	tx := d.tx
	d.tx = nil
	if err := tx.Commit(); err != nil {
		return d.failLocked(fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

// Discard rolls back writes made since the last Flush
func (d *DB) Discard() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return types.ErrClosed
	}
	if d.tx == nil {
		return nil
	}
	tx := d.tx
	d.tx = nil
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("%w: failed to roll back: %w", types.ErrStorageIO, err)
	}
	return nil
}

// Close flushes pending writes and closes the database. Writes are
// rolled back instead when the database already failed.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return types.ErrClosed
	}
	d.closed = true

	var commitErr error
	if d.tx != nil {
		if d.failed != nil {
			_ = d.tx.Rollback()
		} else if err := d.tx.Commit(); err != nil {
			commitErr = fmt.Errorf("%w: failed to commit on close: %w", types.ErrStorageIO, err)
		}
		d.tx = nil
	}
	if err := d.db.Close(); err != nil && commitErr == nil {
		commitErr = fmt.Errorf("%w: failed to close database: %w", types.ErrStorageIO, err)
	}
	return commitErr
}

// State keys stored in index_state
const (
	stateSessionOpen = "session_open"
	stateProjectRoot = "project_root"
)

// getState reads a value from index_state
func (d *DB) getState(ctx context.Context, name string) (string, bool, error) {
	q, err := d.reader()
	if err != nil {
		return "", false, err
	}
	var value string
	err = q.QueryRowContext(ctx, `SELECT value FROM index_state WHERE name = ?`, name).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, readErr(err)
	}
	return value, true, nil
}

// setState writes a value to index_state inside the write transaction
func (d *DB) setState(ctx context.Context, name, value string) error {
	q, err := d.writer(ctx)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO index_state (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value
	`
	if _, err := q.ExecContext(ctx, query, name, value); err != nil {
		return d.fail(fmt.Errorf("failed to set %s: %w", name, err))
	}
	return nil
}

// SessionOpen reports whether an update session started and never ended
func (d *DB) SessionOpen(ctx context.Context) (bool, error) {
	v, ok, err := d.getState(ctx, stateSessionOpen)
	if err != nil {
		return false, err
	}
	return ok && v == "1", nil
}

// MarkSession persists the session marker and flushes, so a crash while
// the marker is set is detected at the next open.
func (d *DB) MarkSession(ctx context.Context, open bool) error {
	value := "0"
	if open {
		value = "1"
	}
	if err := d.setState(ctx, stateSessionOpen, value); err != nil {
		return err
	}
	return d.Flush(ctx)
}

// Built reports whether an update session ever ended on this database. A
// database that was only created holds no project state yet.
func (d *DB) Built(ctx context.Context) (bool, error) {
	v, ok, err := d.getState(ctx, stateSessionOpen)
	if err != nil {
		return false, err
	}
	return ok && v == "0", nil
}

// ProjectRoot returns the project root recorded when the index was built
func (d *DB) ProjectRoot(ctx context.Context) (string, bool, error) {
	return d.getState(ctx, stateProjectRoot)
}

// SetProjectRoot records the project root the file paths are relative to
func (d *DB) SetProjectRoot(ctx context.Context, root string) error {
	return d.setState(ctx, stateProjectRoot, root)
}

// SchemaVersion returns the schema stamp of the open database
func (d *DB) SchemaVersion(ctx context.Context) (string, error) {
	q, err := d.reader()
	if err != nil {
		return "", err
	}
	var version string
	err = q.QueryRowContext(ctx, "SELECT version FROM schema_version ORDER BY applied_at DESC, version DESC LIMIT 1").Scan(&version)
	if err != nil {
		return "", readErr(err)
	}
	return version, nil
}
