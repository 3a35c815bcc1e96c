package enumerator

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/refindex/internal/storage"
	"github.com/dshills/refindex/pkg/types"
)

func openDB(t *testing.T, path string) *storage.DB {
	t.Helper()
	db, err := storage.Open(context.Background(), path)
	require.NoError(t, err)
	return db
}

func TestIntern_SequentialAndStable(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, ":memory:")
	defer db.Close()

	names, err := OpenNames(ctx, db, 0)
	require.NoError(t, err)

	foo, err := names.Intern(ctx, "a.Foo")
	require.NoError(t, err)
	bar, err := names.Intern(ctx, "a.Bar")
	require.NoError(t, err)
	again, err := names.Intern(ctx, "a.Foo")
	require.NoError(t, err)

	assert.Equal(t, types.SymbolID(1), foo)
	assert.Equal(t, types.SymbolID(2), bar)
	assert.Equal(t, foo, again)
	assert.Equal(t, 2, names.Len())

	value, err := names.ValueOf(ctx, bar)
	require.NoError(t, err)
	assert.Equal(t, "a.Bar", value)
}

func TestValueOf_NeverAllocated(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, ":memory:")
	defer db.Close()

	names, err := OpenNames(ctx, db, 0)
	require.NoError(t, err)
	_, err = names.Intern(ctx, "x")
	require.NoError(t, err)

	_, err = names.ValueOf(ctx, 0)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = names.ValueOf(ctx, 2)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestLookup_DoesNotAllocate(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, ":memory:")
	defer db.Close()

	names, err := OpenNames(ctx, db, 0)
	require.NoError(t, err)

	_, ok, err := names.Lookup(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, names.Len())
}

func TestEnumerator_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")

	db := openDB(t, path)
	names, err := OpenNames(ctx, db, 2)
	require.NoError(t, err)
	for _, s := range []string{"a", "b", "c", "d"} {
		_, err := names.Intern(ctx, s)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	db = openDB(t, path)
	defer db.Close()
	// Small cache forces reads through to the store
	names, err = OpenNames(ctx, db, 2)
	require.NoError(t, err)

	id, err := names.Intern(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, types.SymbolID(3), id)

	id, err = names.Intern(ctx, "e")
	require.NoError(t, err)
	assert.Equal(t, types.SymbolID(5), id)

	value, err := names.ValueOf(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "a", value)
}

func TestEnumerator_DiscardedAllocationsAreReloaded(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, ":memory:")
	defer db.Close()

	names, err := OpenNames(ctx, db, 0)
	require.NoError(t, err)
	_, err = names.Intern(ctx, "kept")
	require.NoError(t, err)
	require.NoError(t, db.Flush(ctx))

	_, err = names.Intern(ctx, "dropped")
	require.NoError(t, err)
	require.NoError(t, db.Discard())
	require.NoError(t, names.Reload(ctx))

	assert.Equal(t, 1, names.Len())
	id, err := names.Intern(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, types.SymbolID(2), id)
}

func TestOpen_DetectsGaps(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")

	db := openDB(t, path)
	store, err := storage.NewEnumStore(db, storage.SymbolNamesTable)
	require.NoError(t, err)
	require.NoError(t, store.Insert(ctx, 1, "a"))
	require.NoError(t, store.Insert(ctx, 3, "c"))
	require.NoError(t, db.Close())

	db = openDB(t, path)
	defer db.Close()
	_, err = OpenNames(ctx, db, 0)
	assert.ErrorIs(t, err, types.ErrEnumeratorCorruption)
	assert.True(t, types.RequiresRebuild(err))
}

func TestEnumerator_Closed(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, ":memory:")
	names, err := OpenNames(ctx, db, 0)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = names.Intern(ctx, "late")
	assert.ErrorIs(t, err, types.ErrClosed)
}

func TestPaths_Canonical(t *testing.T) {
	root := filepath.FromSlash("/work/project")
	p := &Paths{root: root}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"relative", "src/Foo.java", "src/Foo.java"},
		{"dot segments", "./src/../src/Foo.java", "src/Foo.java"},
		{"under root", filepath.Join(root, "src", "Foo.java"), "src/Foo.java"},
		{"case preserved", "src/foo.java", "src/foo.java"},
		{"outside root", filepath.FromSlash("/elsewhere/Foo.java"), "/elsewhere/Foo.java"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Canonical(tt.in)
			require.NoError(t, err)
			assert.Equal(t, filepath.ToSlash(tt.want), got)
		})
	}

	_, err := p.Canonical("")
	assert.ErrorIs(t, err, types.ErrInvalidKey)
	_, err = p.Canonical(root)
	assert.ErrorIs(t, err, types.ErrInvalidKey)
}

func TestPaths_CaseOnlyRenameGetsNewID(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, ":memory:")
	defer db.Close()

	paths, err := OpenPaths(ctx, db, "", 0)
	require.NoError(t, err)

	upper, err := paths.Intern(ctx, "src/Foo.java")
	require.NoError(t, err)
	lower, err := paths.Intern(ctx, "src/foo.java")
	require.NoError(t, err)
	same, err := paths.Intern(ctx, "./src/Foo.java")
	require.NoError(t, err)

	assert.NotEqual(t, upper, lower)
	assert.Equal(t, upper, same)
}
