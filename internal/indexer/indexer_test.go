package indexer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dshills/refindex/internal/metrics"
	"github.com/dshills/refindex/pkg/logger"
	"github.com/dshills/refindex/pkg/types"
)

// lineExtractor reads a tiny line format:
//
//	def <ref>
//	extends <super> <sub>
//	use <ref> <count>
//	fail
//	rebuild
type lineExtractor struct {
	calls atomic.Int32
}

func (e *lineExtractor) Extract(ctx context.Context, path string, content []byte, names types.NameInterner) (*types.CompiledFileData, error) {
	e.calls.Add(1)
	data := &types.CompiledFileData{}
	for _, line := range strings.Split(string(content), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		refs := make([]types.CompilerRef, 0, len(fields)-1)
		for _, f := range fields[1:] {
			if _, err := strconv.Atoi(f); err == nil {
				continue
			}
			ref, err := types.ParseRef(ctx, names, f)
			if err != nil {
				return nil, err
			}
			refs = append(refs, ref)
		}
		switch fields[0] {
		case "def":
			data.AddDefinition(refs[0])
		case "extends":
			data.AddSubclass(refs[0], refs[1])
		case "use":
			n, _ := strconv.Atoi(fields[2])
			data.AddUsage(refs[0], n)
		case "fail":
			return nil, errors.New("syntax error")
		case "rebuild":
			return nil, types.ErrNeedsFullRebuild
		}
	}
	return data, nil
}

func openTestIndex(t *testing.T, dir string, ext Extractor) *Index {
	t.Helper()
	idx, err := Open(context.Background(), Options{
		Dir:       dir,
		Extractor: ext,
		Workers:   4,
		Logger:    logger.Discard(),
	})
	require.NoError(t, err)
	return idx
}

// dumpTable renders a table as key -> sorted "file=posting" entries
func dumpTable(t *testing.T, idx *Index, id types.TableID) map[string][]string {
	t.Helper()
	ctx := context.Background()
	table, err := idx.Table(id)
	require.NoError(t, err)

	out := make(map[string][]string)
	var keys []types.IndexKey
	require.NoError(t, table.ForEachKey(ctx, func(k types.IndexKey) bool {
		keys = append(keys, k)
		return true
	}))
	for _, key := range keys {
		rendered, err := types.FormatKey(ctx, idx.Names(), key)
		require.NoError(t, err)
		require.NoError(t, table.ForEachValueOf(ctx, key, func(f types.FileID, p types.Posting) bool {
			path, err := idx.Paths().ValueOf(ctx, f)
			require.NoError(t, err)
			entry := path
			switch id.ValueShape() {
			case types.ValueCount:
				entry += "=" + strconv.Itoa(p.Count)
			case types.ValueRefs:
				parts := make([]string, 0, len(p.Refs))
				for _, r := range p.Refs {
					s, err := types.FormatRef(ctx, idx.Names(), r)
					require.NoError(t, err)
					parts = append(parts, s)
				}
				sort.Strings(parts)
				entry += "=" + strings.Join(parts, ",")
			}
			out[rendered] = append(out[rendered], entry)
			return true
		}))
		sort.Strings(out[rendered])
	}
	return out
}

func applyAll(t *testing.T, idx *Index, events ...Event) *Statistics {
	t.Helper()
	ctx := context.Background()
	s, err := idx.Begin(ctx)
	require.NoError(t, err)
	_, err = s.Apply(ctx, events...)
	require.NoError(t, err)
	stats, err := s.End(ctx)
	require.NoError(t, err)
	return stats
}

func TestOpen_RequiresDir(t *testing.T) {
	_, err := Open(context.Background(), Options{})
	assert.Error(t, err)
}

func TestBegin_SecondSessionFails(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t, t.TempDir(), &lineExtractor{})
	defer idx.Close()

	s, err := idx.Begin(ctx)
	require.NoError(t, err)

	_, err = idx.Begin(ctx)
	assert.ErrorIs(t, err, types.ErrSessionActive)

	_, err = s.End(ctx)
	require.NoError(t, err)

	s2, err := idx.Begin(ctx)
	require.NoError(t, err)
	_, err = s2.End(ctx)
	require.NoError(t, err)
}

func TestApply_ChangeReplacesCounts(t *testing.T) {
	idx := openTestIndex(t, t.TempDir(), &lineExtractor{})
	defer idx.Close()

	applyAll(t, idx,
		Added("A.java", []byte("use a.Foo 2\nuse a.Foo#bar(0) 1")),
		Added("B.java", []byte("use a.Foo 1")),
	)
	assert.Equal(t, []string{"A.java=2", "B.java=1"}, dumpTable(t, idx, types.TableUsages)["a.Foo"])

	stats := applyAll(t, idx, Changed("A.java", []byte("use a.Foo 3")))
	assert.Equal(t, 1, stats.FilesChanged)
	assert.Equal(t, 1, stats.FilesRetracted)

	usages := dumpTable(t, idx, types.TableUsages)
	assert.Equal(t, []string{"A.java=3", "B.java=1"}, usages["a.Foo"])
	assert.NotContains(t, usages, "a.Foo#bar(0)")
}

func TestApply_DeleteRetractsEveryTable(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t, t.TempDir(), &lineExtractor{})
	defer idx.Close()

	applyAll(t, idx,
		Added("Foo.java", []byte("def a.Foo\nextends a.Base a.Foo\nuse a.Base 1")),
		Added("Base.java", []byte("def a.Base")),
	)
	fooID, ok, err := idx.Paths().Lookup(ctx, "Foo.java")
	require.NoError(t, err)
	require.True(t, ok)

	stats := applyAll(t, idx, Deleted("Foo.java"))
	assert.Equal(t, 1, stats.FilesDeleted)
	assert.Equal(t, 1, stats.FilesRetracted)

	for _, id := range types.AllTables {
		table, err := idx.Table(id)
		require.NoError(t, err)
		has, err := table.HasFile(ctx, fooID)
		require.NoError(t, err)
		assert.False(t, has, id.Name())
	}
	_, indexed, err := idx.Files().Digest(ctx, fooID)
	require.NoError(t, err)
	assert.False(t, indexed)

	assert.Equal(t, map[string][]string{"a.Base": {"Base.java"}}, dumpTable(t, idx, types.TableClassDefinitions))
}

func TestApply_DeleteUnknownPathDoesNotIntern(t *testing.T) {
	idx := openTestIndex(t, t.TempDir(), &lineExtractor{})
	defer idx.Close()

	stats := applyAll(t, idx, Deleted("Ghost.java"))
	assert.Equal(t, 1, stats.FilesDeleted)
	assert.Equal(t, 0, stats.FilesRetracted)
	assert.Equal(t, 0, idx.Paths().Len())
}

func TestApply_UnchangedExtractionSkipped(t *testing.T) {
	idx := openTestIndex(t, t.TempDir(), &lineExtractor{})
	defer idx.Close()

	content := []byte("def a.Foo\nuse a.Bar 4")
	first := applyAll(t, idx, Added("Foo.java", content))
	assert.Equal(t, 2, first.PostingsWritten)

	// Formatting-only edit: same contributions
	second := applyAll(t, idx, Changed("Foo.java", []byte("use a.Bar 4\n\ndef a.Foo\n")))
	assert.Equal(t, 1, second.FilesSkipped)
	assert.Equal(t, 0, second.PostingsWritten)
	assert.Equal(t, 0, second.FilesRetracted)
}

func TestApply_CaseOnlyRename(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t, t.TempDir(), &lineExtractor{})
	defer idx.Close()

	applyAll(t, idx, Added("src/Foo.java", []byte("def a.Foo\nuse a.Bar 1")))
	oldID, _, err := idx.Paths().Lookup(ctx, "src/Foo.java")
	require.NoError(t, err)

	stats := applyAll(t, idx, Renamed("src/Foo.java", "src/foo.java", []byte("def a.Foo\nuse a.Bar 1")))
	assert.Equal(t, 1, stats.FilesRenamed)
	assert.Equal(t, 1, stats.FilesRetracted)

	newID, ok, err := idx.Paths().Lookup(ctx, "src/foo.java")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, oldID, newID)

	assert.Equal(t, []string{"src/foo.java=1"}, dumpTable(t, idx, types.TableUsages)["a.Bar"])
	assert.Equal(t, []string{"src/foo.java"}, dumpTable(t, idx, types.TableClassDefinitions)["a.Foo"])

	// The old id keeps resolving: enumerator entries are never removed
	path, err := idx.Paths().ValueOf(ctx, oldID)
	require.NoError(t, err)
	assert.Equal(t, "src/Foo.java", path)
}

func TestApply_RenameToSamePathIsChange(t *testing.T) {
	idx := openTestIndex(t, t.TempDir(), &lineExtractor{})
	defer idx.Close()

	applyAll(t, idx, Added("Foo.java", []byte("use a.Bar 1")))
	stats := applyAll(t, idx, Renamed("Foo.java", "./Foo.java", []byte("use a.Bar 2")))
	assert.Equal(t, 1, stats.FilesChanged)
	assert.Equal(t, 0, stats.FilesRenamed)
	assert.Equal(t, []string{"Foo.java=2"}, dumpTable(t, idx, types.TableUsages)["a.Bar"])
}

func TestApply_ExtractionFailureRetractsFile(t *testing.T) {
	idx := openTestIndex(t, t.TempDir(), &lineExtractor{})
	defer idx.Close()

	applyAll(t, idx, Added("Foo.java", []byte("use a.Bar 1")))
	stats := applyAll(t, idx, Changed("Foo.java", []byte("fail")))

	assert.Equal(t, 1, stats.FilesFailed)
	assert.Len(t, stats.ErrorMessages, 1)
	assert.Empty(t, dumpTable(t, idx, types.TableUsages))
}

func TestApply_PrecomputedData(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t, t.TempDir(), nil)
	defer idx.Close()

	s, err := idx.Begin(ctx)
	require.NoError(t, err)

	foo, err := idx.Names().Intern(ctx, "a.Foo")
	require.NoError(t, err)
	data := &types.CompiledFileData{}
	data.AddUsage(types.ClassRef{Name: foo}, 2)

	_, err = s.Apply(ctx, Event{Kind: EventAdded, Path: "Foo.java", Data: data})
	require.NoError(t, err)
	_, err = s.End(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"Foo.java=2"}, dumpTable(t, idx, types.TableUsages)["a.Foo"])
}

func TestApply_MissingExtractor(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t, t.TempDir(), nil)
	defer idx.Close()

	s, err := idx.Begin(ctx)
	require.NoError(t, err)
	_, err = s.Apply(ctx, Added("Foo.java", []byte("use a.Bar 1")))
	assert.Error(t, err)
}

func TestApply_RebuildRequestedAbortsSession(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	idx := openTestIndex(t, dir, &lineExtractor{})

	s, err := idx.Begin(ctx)
	require.NoError(t, err)
	_, err = s.Apply(ctx, Added("Foo.java", []byte("def a.Foo")), RebuildRequested())
	assert.ErrorIs(t, err, types.ErrNeedsFullRebuild)

	// The session is over and the index cannot be updated in place any more
	_, err = s.End(ctx)
	assert.ErrorIs(t, err, types.ErrNeedsFullRebuild)
	_, err = idx.Begin(ctx)
	assert.ErrorIs(t, err, types.ErrCorrupted)
	require.NoError(t, idx.Close())

	_, err = Open(ctx, Options{Dir: dir, Logger: logger.Discard()})
	assert.ErrorIs(t, err, types.ErrCorrupted)
	assert.True(t, types.RequiresRebuild(err))
}

func TestApply_ExtractorRequestsRebuild(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t, t.TempDir(), &lineExtractor{})
	defer idx.Close()

	s, err := idx.Begin(ctx)
	require.NoError(t, err)
	_, err = s.Apply(ctx, Added("Ok.java", []byte("def a.Ok")), Added("Bad.java", []byte("rebuild")))
	assert.ErrorIs(t, err, types.ErrNeedsFullRebuild)

	// Discarded: nothing from the aborted batch is visible
	assert.Empty(t, dumpTable(t, idx, types.TableClassDefinitions))
	assert.Equal(t, 0, idx.Paths().Len())
}

func TestApply_CancelledContextAborts(t *testing.T) {
	idx := openTestIndex(t, t.TempDir(), &lineExtractor{})
	defer idx.Close()

	s, err := idx.Begin(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Apply(ctx, Added("Foo.java", []byte("def a.Foo")))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSession_EndedIndexReopens(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	idx := openTestIndex(t, dir, &lineExtractor{})
	applyAll(t, idx, Added("Foo.java", []byte("def a.Foo\nuse a.Bar 2")))
	require.NoError(t, idx.Close())

	idx = openTestIndex(t, dir, &lineExtractor{})
	defer idx.Close()

	st, err := idx.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Files)
	assert.Equal(t, 2, st.Symbols)
	assert.Equal(t, 1, st.Keys[types.TableUsages])
	assert.Equal(t, 1, st.Keys[types.TableClassDefinitions])
	assert.Equal(t, 0, st.Keys[types.TableHierarchy])
}

func TestEnd_CommitsNamesInternedDuringExtraction(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	idx := openTestIndex(t, dir, &lineExtractor{})

	s, err := idx.Begin(ctx)
	require.NoError(t, err)
	// every name is new, so the first write of the session happens on an
	// extraction worker
	_, err = s.Apply(ctx,
		Added("A.java", []byte("def p.A\nuse p.Shared 1")),
		Added("B.java", []byte("def p.B\nuse p.Shared 2")),
	)
	require.NoError(t, err)
	_, err = s.End(ctx)
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	idx = openTestIndex(t, dir, &lineExtractor{})
	defer idx.Close()
	for _, name := range []string{"p.A", "p.B", "p.Shared"} {
		_, ok, err := idx.Names().Lookup(ctx, name)
		require.NoError(t, err)
		assert.True(t, ok, name)
	}
	assert.Equal(t, []string{"A.java=1", "B.java=2"}, dumpTable(t, idx, types.TableUsages)["p.Shared"])
}

func TestApply_ExtractorLogsCarrySessionID(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)
	var buf bytes.Buffer
	logger.SetupWriter(&buf, "debug", "text")

	ctx := context.Background()
	ext := ExtractorFunc(func(ctx context.Context, path string, content []byte, names types.NameInterner) (*types.CompiledFileData, error) {
		logger.FromContext(ctx).Debug("extracting", "path", path)
		return &types.CompiledFileData{}, nil
	})
	idx := openTestIndex(t, t.TempDir(), ext)
	defer func() { _ = idx.Close() }()

	s, err := idx.Begin(ctx)
	require.NoError(t, err)
	_, err = s.Apply(ctx, Added("A.java", []byte("x")))
	require.NoError(t, err)
	_, err = s.End(ctx)
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "msg=extracting")
	assert.Contains(t, buf.String(), "session="+s.ID())
}

func TestSession_AbortKeepsMarker(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	idx := openTestIndex(t, dir, &lineExtractor{})

	s, err := idx.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Abort())
	require.NoError(t, idx.Close())

	_, err = Open(ctx, Options{Dir: dir, Logger: logger.Discard()})
	assert.ErrorIs(t, err, types.ErrCorrupted)
}

func TestApply_ConcurrentExtraction(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ext := &lineExtractor{}
	idx := openTestIndex(t, t.TempDir(), ext)

	events := make([]Event, 0, 50)
	for i := 0; i < 50; i++ {
		content := fmt.Sprintf("def p.C%d\nextends p.Base p.C%d\nuse p.Base %d", i, i, i+1)
		events = append(events, Added(filepath.Join("src", fmt.Sprintf("C%d.java", i)), []byte(content)))
	}
	stats := applyAll(t, idx, events...)

	assert.Equal(t, 50, stats.FilesAdded)
	assert.Equal(t, int32(50), ext.calls.Load())
	assert.Len(t, dumpTable(t, idx, types.TableHierarchy)["p.Base"], 50)
	assert.Len(t, dumpTable(t, idx, types.TableUsages)["p.Base"], 50)

	require.NoError(t, idx.Close())
}

func TestApply_Metrics(t *testing.T) {
	m := metrics.New(nil)
	idx, err := Open(context.Background(), Options{
		Dir:       t.TempDir(),
		Extractor: &lineExtractor{},
		Logger:    logger.Discard(),
		Metrics:   m,
	})
	require.NoError(t, err)
	defer idx.Close()

	applyAll(t, idx,
		Added("A.java", []byte("def a.A\nuse a.B 1")),
		Added("B.java", []byte("def a.B")),
	)
	applyAll(t, idx, Changed("B.java", []byte("def a.B")), Deleted("A.java"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("added")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("deleted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FilesSkippedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FilesRetractedTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PostingsWrittenTotal.WithLabelValues("class_definitions")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionsTotal.WithLabelValues("ended")))
}
