// Package enumerator interns symbol names and file paths to compact
// integer ids.
//
// Each enumerator is an append-only table in the index database with an
// LRU cache in each direction. Ids are allocated sequentially from 1 and
// are stable for the life of the index; entries are never deleted, so a
// file that disappears keeps its id and a re-added file gets it back.
//
//	names, err := enumerator.OpenNames(ctx, db, 0)
//	id, err := names.Intern(ctx, "com.example.Foo")
//	name, err := names.ValueOf(ctx, id) // "com.example.Foo"
//
// New mappings are written in the database's current transaction and
// become durable with it. Open verifies that ids are dense; a damaged
// table is reported as types.ErrEnumeratorCorruption.
package enumerator
