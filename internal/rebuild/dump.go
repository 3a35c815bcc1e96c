package rebuild

import (
	"bufio"
	"context"
	"io"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/dshills/refindex/internal/indexer"
	"github.com/dshills/refindex/pkg/types"
)

// Dump writes the string-resolved contents of all six tables. Two indexes
// hold the same references exactly when their dumps are equal, whatever
// ids their enumerators assigned.
//
// Each table is a section: its title, then one sorted line per key.
// Ref-set tables render the union of all files' sets
// ("<key> -> <ref>, <ref>"); the others list the contributing files
// ("<key> in <file>(<count>), <file>(<count>)" for usages,
// "<key> in <file>, <file>" otherwise). Sections are separated by a blank
// line.
func Dump(ctx context.Context, idx *indexer.Index, w io.Writer) error {
	bw := bufio.NewWriter(w)
	for i, id := range types.AllTables {
		lines, err := dumpTable(ctx, idx, id)
		if err != nil {
			return err
		}
		if i > 0 {
			_ = bw.WriteByte('\n')
		}
		_, _ = bw.WriteString(id.Title() + ":\n")
		for _, line := range lines {
			_, _ = bw.WriteString(line)
			_ = bw.WriteByte('\n')
		}
	}
	return bw.Flush()
}

// DumpString returns Dump as a string
func DumpString(ctx context.Context, idx *indexer.Index) (string, error) {
	var b strings.Builder
	if err := Dump(ctx, idx, &b); err != nil {
		return "", err
	}
	return b.String(), nil
}

func dumpTable(ctx context.Context, idx *indexer.Index, id types.TableID) ([]string, error) {
	table, err := idx.Table(id)
	if err != nil {
		return nil, err
	}
	names := idx.Names()
	shape := id.ValueShape()

	var keys []types.IndexKey
	if err := table.ForEachKey(ctx, func(k types.IndexKey) bool {
		keys = append(keys, k)
		return true
	}); err != nil {
		return nil, err
	}

	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		rendered, err := types.FormatKey(ctx, names, key)
		if err != nil {
			return nil, err
		}

		var entries []string
		var visitErr error
		err = table.ForEachValueOf(ctx, key, func(fileID types.FileID, p types.Posting) bool {
			if shape == types.ValueRefs {
				for _, ref := range p.Refs {
					s, err := types.FormatRef(ctx, names, ref)
					if err != nil {
						visitErr = err
						return false
					}
					entries = append(entries, s)
				}
				return true
			}
			path, err := idx.Paths().ValueOf(ctx, fileID)
			if err != nil {
				visitErr = err
				return false
			}
			if shape == types.ValueCount {
				path += "(" + strconv.Itoa(p.Count) + ")"
			}
			entries = append(entries, path)
			return true
		})
		if err != nil {
			return nil, err
		}
		if visitErr != nil {
			return nil, visitErr
		}

		entries = sortedUnique(entries)
		sep := " in "
		if shape == types.ValueRefs {
			sep = " -> "
		}
		lines = append(lines, rendered+sep+strings.Join(entries, ", "))
	}
	sort.Strings(lines)
	return lines, nil
}

func sortedUnique(s []string) []string {
	slices.Sort(s)
	return slices.Compact(s)
}
