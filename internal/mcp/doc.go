// Package mcp serves read-only queries over a backward reference index
// using the Model Context Protocol.
//
// # Tools
//
// index_status reports the schema version, project root, the number of
// indexed files, interned symbols and paths, and the key count of each
// table.
//
// list_keys lists the keys of one table in their textual form:
//
//	{"table": "hierarchy", "prefix": "a.b.", "limit": 50}
//
// get_postings shows which files contribute one key, with the occurrence
// count (usages) or the referenced set (hierarchy, member_signatures,
// casts):
//
//	{"table": "usages", "key": "a.b.Foo#bar(2)"}
//
// Keys are parsed against names the index already holds; a key naming an
// unknown symbol is reported as not found. No tool writes to the index.
//
// # Errors
//
// Failures are returned as *MCPError with JSON-RPC style codes:
// ErrorCodeInvalidParams for bad arguments, ErrorCodeNotIndexed when no
// index is open and ErrorCodeInternalError for storage failures.
package mcp
