package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dshills/refindex/pkg/types"
)

// Files tracks which files currently contribute to the index and the
// digest of their last extraction
type Files struct {
	db *DB
}

// NewFiles returns the file registry stored in db
func NewFiles(db *DB) *Files {
	return &Files{db: db}
}

// Digest returns the recorded digest of fileID, if the file is indexed
func (f *Files) Digest(ctx context.Context, fileID types.FileID) (uint64, bool, error) {
	q, err := f.db.reader()
	if err != nil {
		return 0, false, err
	}
	var digest int64
	err = q.QueryRowContext(ctx, `SELECT digest FROM indexed_files WHERE file_id = ?`, int64(fileID)).Scan(&digest)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, readErr(err)
	}
	return uint64(digest), true, nil
}

// Record marks fileID as indexed with the given digest
func (f *Files) Record(ctx context.Context, fileID types.FileID, digest uint64) error {
	q, err := f.db.writer(ctx)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO indexed_files (file_id, digest, indexed_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(file_id) DO UPDATE SET
			digest = excluded.digest,
			indexed_at = excluded.indexed_at
	`
	if _, err := q.ExecContext(ctx, query, int64(fileID), int64(digest)); err != nil {
		return f.db.fail(fmt.Errorf("failed to record file %d: %w", fileID, err))
	}
	return nil
}

// Forget removes fileID from the registry
func (f *Files) Forget(ctx context.Context, fileID types.FileID) error {
	q, err := f.db.writer(ctx)
	if err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM indexed_files WHERE file_id = ?`, int64(fileID)); err != nil {
		return f.db.fail(fmt.Errorf("failed to forget file %d: %w", fileID, err))
	}
	return nil
}

// Count returns the number of indexed files
func (f *Files) Count(ctx context.Context) (int, error) {
	q, err := f.db.reader()
	if err != nil {
		return 0, err
	}
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM indexed_files`).Scan(&n); err != nil {
		return 0, readErr(err)
	}
	return n, nil
}

// List returns the indexed file ids in ascending order
func (f *Files) List(ctx context.Context) ([]types.FileID, error) {
	q, err := f.db.reader()
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, `SELECT file_id FROM indexed_files ORDER BY file_id`)
	if err != nil {
		return nil, readErr(err)
	}
	defer func() { _ = rows.Close() }()

	ids := make([]types.FileID, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, readErr(err)
		}
		ids = append(ids, types.FileID(id))
	}
	return ids, readErr(rows.Err())
}
