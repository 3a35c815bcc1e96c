//go:build sqlite_cgo
// +build sqlite_cgo

package storage

// Compiled with CGO and the sqlite_cgo tag:
//
//	CGO_ENABLED=1 go build -tags sqlite_cgo ./...
//
// Uses the C SQLite amalgamation, which is noticeably faster on large
// rebuilds where every posting row is rewritten.
//
// Driver used: github.com/mattn/go-sqlite3

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)
