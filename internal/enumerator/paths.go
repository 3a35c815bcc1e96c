package enumerator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dshills/refindex/internal/storage"
	"github.com/dshills/refindex/pkg/types"
)

// Names is the symbol name enumerator
type Names = Enumerator[types.SymbolID]

var (
	_ types.NameResolver = (*Names)(nil)
	_ types.NameInterner = (*Names)(nil)
)

// OpenNames opens the symbol name enumerator stored in db
func OpenNames(ctx context.Context, db *storage.DB, cacheSize int) (*Names, error) {
	return Open[types.SymbolID](ctx, db, storage.SymbolNamesTable, cacheSize)
}

// Paths is the file path enumerator. Paths are canonicalized before they
// are interned: made relative to the project root, cleaned and written with
// forward slashes. Case is preserved, so "Foo.java" and "foo.java" are
// different files.
type Paths struct {
	enum *Enumerator[types.FileID]
	root string
}

// OpenPaths opens the file path enumerator stored in db. root is the
// project root relative paths are resolved against; it may be empty.
func OpenPaths(ctx context.Context, db *storage.DB, root string, cacheSize int) (*Paths, error) {
	enum, err := Open[types.FileID](ctx, db, storage.FilePathsTable, cacheSize)
	if err != nil {
		return nil, err
	}
	if root != "" {
		root = filepath.Clean(root)
	}
	return &Paths{enum: enum, root: root}, nil
}

// Root returns the project root
func (p *Paths) Root() string {
	return p.root
}

// Canonical returns the form under which path is interned
func (p *Paths) Canonical(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty path", types.ErrInvalidKey)
	}
	clean := filepath.Clean(path)
	if p.root != "" && filepath.IsAbs(clean) {
		if rel, err := filepath.Rel(p.root, clean); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			clean = rel
		}
	}
	if clean == "." {
		return "", fmt.Errorf("%w: path %q names the project root", types.ErrInvalidKey, path)
	}
	return filepath.ToSlash(clean), nil
}

// Intern returns the file id of path, allocating one if needed
func (p *Paths) Intern(ctx context.Context, path string) (types.FileID, error) {
	canonical, err := p.Canonical(path)
	if err != nil {
		return 0, err
	}
	return p.enum.Intern(ctx, canonical)
}

// Lookup returns the file id of path without allocating one
func (p *Paths) Lookup(ctx context.Context, path string) (types.FileID, bool, error) {
	canonical, err := p.Canonical(path)
	if err != nil {
		return 0, false, err
	}
	return p.enum.Lookup(ctx, canonical)
}

// ValueOf returns the canonical path of id
func (p *Paths) ValueOf(ctx context.Context, id types.FileID) (string, error) {
	return p.enum.ValueOf(ctx, id)
}

// Len returns the number of allocated file ids
func (p *Paths) Len() int {
	return p.enum.Len()
}

// Reload drops cached mappings, see Enumerator.Reload
func (p *Paths) Reload(ctx context.Context) error {
	return p.enum.Reload(ctx)
}
