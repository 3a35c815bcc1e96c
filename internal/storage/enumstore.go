package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// Enumerator tables
const (
	SymbolNamesTable = "symbol_names"
	FilePathsTable   = "file_paths"
)

// EnumStore persists one enumerator: an append-only id <-> string table.
// Rows are inserted inside the session transaction and never updated.
type EnumStore struct {
	db    *DB
	table string
}

// NewEnumStore returns the enumerator table named table
func NewEnumStore(db *DB, table string) (*EnumStore, error) {
	switch table {
	case SymbolNamesTable, FilePathsTable:
	default:
		return nil, fmt.Errorf("unknown enumerator table %q", table)
	}
	return &EnumStore{db: db, table: table}, nil
}

// Table returns the SQL table name
func (s *EnumStore) Table() string {
	return s.table
}

// Insert appends the mapping id -> value
func (s *EnumStore) Insert(ctx context.Context, id uint32, value string) error {
	q, err := s.db.writer(ctx)
	if err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, `INSERT INTO `+s.table+` (id, value) VALUES (?, ?)`, int64(id), value); err != nil {
		return s.db.fail(fmt.Errorf("failed to append %s %d: %w", s.table, id, err))
	}
	return nil
}

// Find returns the id of value, if present
func (s *EnumStore) Find(ctx context.Context, value string) (uint32, bool, error) {
	q, err := s.db.reader()
	if err != nil {
		return 0, false, err
	}
	var id int64
	err = q.QueryRowContext(ctx, `SELECT id FROM `+s.table+` WHERE value = ?`, value).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, readErr(err)
	}
	return uint32(id), true, nil
}

// Get returns the value of id, if allocated
func (s *EnumStore) Get(ctx context.Context, id uint32) (string, bool, error) {
	q, err := s.db.reader()
	if err != nil {
		return "", false, err
	}
	var value string
	err = q.QueryRowContext(ctx, `SELECT value FROM `+s.table+` WHERE id = ?`, int64(id)).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, readErr(err)
	}
	return value, true, nil
}

// Stats returns the number of rows and the highest allocated id
func (s *EnumStore) Stats(ctx context.Context) (count int, maxID uint32, err error) {
	q, err := s.db.reader()
	if err != nil {
		return 0, 0, err
	}
	var maxVal sql.NullInt64
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*), MAX(id) FROM `+s.table).Scan(&count, &maxVal); err != nil {
		return 0, 0, readErr(err)
	}
	if maxVal.Valid {
		maxID = uint32(maxVal.Int64)
	}
	return count, maxID, nil
}

// MinID returns the lowest allocated id, or 0 for an empty table
func (s *EnumStore) MinID(ctx context.Context) (uint32, error) {
	q, err := s.db.reader()
	if err != nil {
		return 0, err
	}
	var minVal sql.NullInt64
	if err := q.QueryRowContext(ctx, `SELECT MIN(id) FROM `+s.table).Scan(&minVal); err != nil {
		return 0, readErr(err)
	}
	if !minVal.Valid {
		return 0, nil
	}
	return uint32(minVal.Int64), nil
}
