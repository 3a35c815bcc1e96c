package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/refindex/pkg/types"
)

func setupTestDB(t *testing.T) *DB {
	// Use in-memory database for testing
	db, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	require.NotNil(t, db)
	return db
}

func setupFileDB(t *testing.T) (*DB, string) {
	path := filepath.Join(t.TempDir(), "index.db")
	db, err := Open(context.Background(), path)
	require.NoError(t, err)
	return db, path
}

func TestOpen_CreatesSchema(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	version, err := db.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)

	for _, id := range types.AllTables {
		var name string
		err := db.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", postingTable(id)).Scan(&name)
		require.NoError(t, err, id.Name())
	}
}

func TestOpen_ReopenKeepsSchema(t *testing.T) {
	db, path := setupFileDB(t)
	require.NoError(t, db.Close())

	db, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer db.Close()

	version, err := db.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
}

func TestOpen_VersionMismatch(t *testing.T) {
	db, path := setupFileDB(t)
	_, err := db.db.Exec("UPDATE schema_version SET version = '2.0.0'")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Open(context.Background(), path)
	assert.ErrorIs(t, err, types.ErrVersionMismatch)
	assert.True(t, types.RequiresRebuild(err))
}

func TestCheckSchemaVersion(t *testing.T) {
	tests := []struct {
		stored  string
		wantErr bool
	}{
		{"1.0.0", false},
		{"1.0.7", false},
		{"1.1.0", true},
		{"0.9.0", true},
		{"2.0.0", true},
		{"garbage", true},
	}
	for _, tt := range tests {
		t.Run(tt.stored, func(t *testing.T) {
			err := CheckSchemaVersion(tt.stored)
			if tt.wantErr {
				assert.ErrorIs(t, err, types.ErrVersionMismatch)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFlush_DurableAfterReopen(t *testing.T) {
	ctx := context.Background()
	db, path := setupFileDB(t)

	usages, err := NewMultiMap(db, types.TableUsages)
	require.NoError(t, err)
	foo := types.ClassRef{Name: 1}
	require.NoError(t, usages.Put(ctx, foo, 7, types.Posting{Count: 2}))
	require.NoError(t, db.Flush(ctx))

	// Not flushed: must not survive
	bar := types.ClassRef{Name: 2}
	require.NoError(t, usages.Put(ctx, bar, 7, types.Posting{Count: 1}))
	require.NoError(t, db.Discard())
	require.NoError(t, db.Close())

	db, err = Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()
	usages, err = NewMultiMap(db, types.TableUsages)
	require.NoError(t, err)

	var keys []types.IndexKey
	require.NoError(t, usages.ForEachKey(ctx, func(k types.IndexKey) bool {
		keys = append(keys, k)
		return true
	}))
	assert.Equal(t, []types.IndexKey{foo}, keys)
}

func TestFlush_TransactionOutlivesFirstWriteContext(t *testing.T) {
	ctx := context.Background()
	db, path := setupFileDB(t)

	usages, err := NewMultiMap(db, types.TableUsages)
	require.NoError(t, err)

	// the first write of a session often runs on a worker context that is
	// cancelled once the workers are done
	workerCtx, cancel := context.WithCancel(ctx)
	foo := types.ClassRef{Name: 1}
	require.NoError(t, usages.Put(workerCtx, foo, 7, types.Posting{Count: 2}))
	cancel()

	bar := types.ClassRef{Name: 2}
	require.NoError(t, usages.Put(ctx, bar, 7, types.Posting{Count: 1}))
	require.NoError(t, db.Flush(ctx))
	require.NoError(t, db.Close())

	db, err = Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()
	usages, err = NewMultiMap(db, types.TableUsages)
	require.NoError(t, err)
	n, err := usages.KeyCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestClose_OperationsFail(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	usages, err := NewMultiMap(db, types.TableUsages)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	assert.ErrorIs(t, db.Close(), types.ErrClosed)
	assert.ErrorIs(t, db.Flush(ctx), types.ErrClosed)
	assert.ErrorIs(t, usages.Put(ctx, types.ClassRef{Name: 1}, 1, types.Posting{Count: 1}), types.ErrClosed)
	assert.ErrorIs(t, usages.Remove(ctx, 1), types.ErrClosed)
	err = usages.ForEachKey(ctx, func(types.IndexKey) bool { return true })
	assert.ErrorIs(t, err, types.ErrClosed)
}

func TestFailedDB_RefusesWrites(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	usages, err := NewMultiMap(db, types.TableUsages)
	require.NoError(t, err)

	failure := db.fail(errors.New("disk full"))
	assert.ErrorIs(t, failure, types.ErrStorageIO)

	err = usages.Put(ctx, types.ClassRef{Name: 1}, 1, types.Posting{Count: 1})
	assert.ErrorIs(t, err, types.ErrStorageIO)
	assert.ErrorIs(t, db.Flush(ctx), types.ErrStorageIO)
	assert.ErrorIs(t, db.Failed(), types.ErrStorageIO)
}

func TestSessionMarker(t *testing.T) {
	ctx := context.Background()
	db, path := setupFileDB(t)

	open, err := db.SessionOpen(ctx)
	require.NoError(t, err)
	assert.False(t, open)

	require.NoError(t, db.MarkSession(ctx, true))
	require.NoError(t, db.SetProjectRoot(ctx, "/work/project"))
	require.NoError(t, db.Close())

	db, err = Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()

	open, err = db.SessionOpen(ctx)
	require.NoError(t, err)
	assert.True(t, open)

	root, ok, err := db.ProjectRoot(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/work/project", root)

	require.NoError(t, db.MarkSession(ctx, false))
	open, err = db.SessionOpen(ctx)
	require.NoError(t, err)
	assert.False(t, open)
}

func TestFiles_Registry(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()
	files := NewFiles(db)

	_, ok, err := files.Digest(ctx, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, files.Record(ctx, 3, 0xfeedface))
	require.NoError(t, files.Record(ctx, 1, ^uint64(0)))
	require.NoError(t, files.Record(ctx, 3, 42))

	digest, ok, err := files.Digest(ctx, 3)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(42), digest)

	// Full 64-bit digests survive the signed column
	digest, _, err = files.Digest(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, ^uint64(0), digest)

	ids, err := files.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []types.FileID{1, 3}, ids)

	require.NoError(t, files.Forget(ctx, 1))
	n, err := files.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
