package storage

import (
	"context"

	"github.com/dshills/refindex/pkg/types"
)

// Table is the persistent multimap shared by all six index tables
type Table interface {
	// ID identifies the table
	ID() types.TableID

	// Put replaces the posting fileID contributes to key
	Put(ctx context.Context, key types.IndexKey, fileID types.FileID, posting types.Posting) error
	// Remove retracts every contribution of fileID
	Remove(ctx context.Context, fileID types.FileID) error

	// ForEachKey visits all keys in unspecified order until visit returns false
	ForEachKey(ctx context.Context, visit func(key types.IndexKey) bool) error
	// ForEachValueOf visits each file contributing to key until visit returns false
	ForEachValueOf(ctx context.Context, key types.IndexKey, visit func(fileID types.FileID, posting types.Posting) bool) error
}

// Tables opens the six tables of db, indexed by TableID
func Tables(db *DB) (map[types.TableID]*MultiMap, error) {
	tables := make(map[types.TableID]*MultiMap, len(types.AllTables))
	for _, id := range types.AllTables {
		m, err := NewMultiMap(db, id)
		if err != nil {
			return nil, err
		}
		tables[id] = m
	}
	return tables, nil
}
