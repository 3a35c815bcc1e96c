package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/dshills/refindex/pkg/types"
)

// MultiMap is one backward reference table: key -> (fileID -> posting).
// Each (key, fileID) pair is a single row, so a put replaces that file's
// previous contribution for the key and a remove by file retracts all of
// them.
type MultiMap struct {
	db    *DB
	id    types.TableID
	table string
	shape types.ValueShape

	// serializes writes so concurrent appliers cannot interleave a
	// replace of the same (key, fileID)
	mu sync.Mutex
}

var _ Table = (*MultiMap)(nil)

// NewMultiMap returns the table id stored in db
func NewMultiMap(db *DB, id types.TableID) (*MultiMap, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("%w: unknown table %d", types.ErrInvalidKey, id)
	}
	return &MultiMap{
		db:    db,
		id:    id,
		table: postingTable(id),
		shape: id.ValueShape(),
	}, nil
}

// ID returns the table identifier
func (m *MultiMap) ID() types.TableID {
	return m.id
}

// Put replaces the posting fileID contributes to key. An empty posting
// removes the contribution.
func (m *MultiMap) Put(ctx context.Context, key types.IndexKey, fileID types.FileID, posting types.Posting) error {
	if err := m.id.ValidateKey(key); err != nil {
		return err
	}
	if err := m.id.ValidatePosting(posting); err != nil {
		return err
	}
	if m.shape == types.ValueRefs {
		posting.Refs = types.NormalizeRefs(posting.Refs)
	}
	keyBytes, err := EncodeKey(key)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	q, err := m.db.writer(ctx)
	if err != nil {
		return err
	}

	if posting.IsEmpty(m.shape) {
		query := `DELETE FROM ` + m.table + ` WHERE key = ? AND file_id = ?`
		if _, err := q.ExecContext(ctx, query, keyBytes, int64(fileID)); err != nil {
			return m.db.fail(fmt.Errorf("failed to clear %s posting: %w", m.id, err))
		}
		return nil
	}

	query := `
		INSERT INTO ` + m.table + ` (key, file_id, value) VALUES (?, ?, ?)
		ON CONFLICT(key, file_id) DO UPDATE SET value = excluded.value
	`
	if _, err := q.ExecContext(ctx, query, keyBytes, int64(fileID), EncodePosting(m.shape, posting)); err != nil {
		return m.db.fail(fmt.Errorf("failed to put %s posting: %w", m.id, err))
	}
	return nil
}

// Remove retracts every posting contributed by fileID
func (m *MultiMap) Remove(ctx context.Context, fileID types.FileID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, err := m.db.writer(ctx)
	if err != nil {
		return err
	}
	query := `DELETE FROM ` + m.table + ` WHERE file_id = ?`
	if _, err := q.ExecContext(ctx, query, int64(fileID)); err != nil {
		return m.db.fail(fmt.Errorf("failed to remove file %d from %s: %w", fileID, m.id, err))
	}
	return nil
}

// ForEachKey visits every key with at least one posting. Keys are read in
// full before the first visit, so visitors may query the index.
func (m *MultiMap) ForEachKey(ctx context.Context, visit func(key types.IndexKey) bool) error {
	q, err := m.db.reader()
	if err != nil {
		return err
	}
	rows, err := q.QueryContext(ctx, `SELECT DISTINCT key FROM `+m.table)
	if err != nil {
		return readErr(err)
	}
	defer func() { _ = rows.Close() }()

	keys := make([]types.IndexKey, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return readErr(err)
		}
		key, err := DecodeKey(raw)
		if err != nil {
			return fmt.Errorf("%w: %s key: %w", types.ErrStorageIO, m.id, err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return readErr(err)
	}
	_ = rows.Close()

	for _, key := range keys {
		if !visit(key) {
			return nil
		}
	}
	return nil
}

// ForEachValueOf visits, in file id order, each file still contributing to
// key together with its posting.
func (m *MultiMap) ForEachValueOf(ctx context.Context, key types.IndexKey, visit func(fileID types.FileID, posting types.Posting) bool) error {
	keyBytes, err := EncodeKey(key)
	if err != nil {
		return err
	}
	q, err := m.db.reader()
	if err != nil {
		return err
	}
	rows, err := q.QueryContext(ctx, `SELECT file_id, value FROM `+m.table+` WHERE key = ? ORDER BY file_id`, keyBytes)
	if err != nil {
		return readErr(err)
	}
	defer func() { _ = rows.Close() }()

	type entry struct {
		file    types.FileID
		posting types.Posting
	}
	entries := make([]entry, 0)
	for rows.Next() {
		var fileID int64
		var raw []byte
		if err := rows.Scan(&fileID, &raw); err != nil {
			return readErr(err)
		}
		posting, err := DecodePosting(m.shape, raw)
		if err != nil {
			return fmt.Errorf("%w: %s posting: %w", types.ErrStorageIO, m.id, err)
		}
		entries = append(entries, entry{file: types.FileID(fileID), posting: posting})
	}
	if err := rows.Err(); err != nil {
		return readErr(err)
	}
	_ = rows.Close()

	for _, e := range entries {
		if !visit(e.file, e.posting) {
			return nil
		}
	}
	return nil
}

// KeyCount returns the number of distinct keys
func (m *MultiMap) KeyCount(ctx context.Context) (int, error) {
	q, err := m.db.reader()
	if err != nil {
		return 0, err
	}
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(DISTINCT key) FROM `+m.table).Scan(&n); err != nil {
		return 0, readErr(err)
	}
	return n, nil
}

// HasFile reports whether fileID contributes any posting
func (m *MultiMap) HasFile(ctx context.Context, fileID types.FileID) (bool, error) {
	q, err := m.db.reader()
	if err != nil {
		return false, err
	}
	var exists bool
	err = q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM `+m.table+` WHERE file_id = ?)`, int64(fileID)).Scan(&exists)
	if err != nil {
		return false, readErr(err)
	}
	return exists, nil
}
