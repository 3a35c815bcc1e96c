// Package storage provides SQLite-based persistence for the backward
// reference index.
//
// One database file per index directory holds:
//   - schema_version: semantic version stamp checked at open
//   - index_state: session marker and project root
//   - symbol_names, file_paths: enumerator stores (see package enumerator)
//   - indexed_files: files currently contributing, with extraction digests
//   - refs_<table>: one posting table per index table
//
// # Posting Tables
//
// Every index table has the same physical shape:
//
//	key BLOB, file_id INTEGER, value BLOB, PRIMARY KEY (key, file_id)
//
// so "replace what file F contributes to key K" is a single upsert and
// "retract everything file F contributed" is a single delete on the file_id
// index. Keys and values use a compact tag + uvarint encoding (codec.go).
//
//	db, err := storage.Open(ctx, filepath.Join(dir, "index.db"))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	usages, _ := storage.NewMultiMap(db, types.TableUsages)
//	_ = usages.Put(ctx, fooRef, fileID, types.Posting{Count: 3})
//	_ = db.Flush(ctx)
//
// # Durability
//
// Writes accumulate in one transaction; Flush commits it. A failed write or
// commit poisons the DB: every later write returns the same
// types.ErrStorageIO and the index must be rebuilt.
//
// # Versioning
//
// A database whose stamp falls outside the compatible semver range is
// reported as types.ErrVersionMismatch and never migrated in place.
package storage
