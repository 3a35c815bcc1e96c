package rebuild

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/dshills/refindex/internal/indexer"
	"github.com/dshills/refindex/internal/metrics"
	"github.com/dshills/refindex/pkg/logger"
)

// ErrDiverged is returned by Verify when the index does not match a full
// rebuild of the snapshot
var ErrDiverged = errors.New("index diverged from full rebuild")

// Verify rebuilds the snapshot into a scratch directory and compares its
// dump with idx. A mismatch is reported as ErrDiverged carrying a unified
// diff from the rebuild to the index.
func Verify(ctx context.Context, idx *indexer.Index, opts indexer.Options, snapshot Snapshot) error {
	scratch, err := os.MkdirTemp("", "refindex-verify-")
	if err != nil {
		return fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(scratch) }()

	opts.Dir = scratch
	opts.ProjectRoot = idx.ProjectRoot()
	opts.Metrics = metrics.New(nil)
	opts.Logger = logger.Discard()

	fresh, _, err := Rebuild(ctx, opts, snapshot)
	if err != nil {
		return fmt.Errorf("scratch rebuild: %w", err)
	}
	defer func() { _ = fresh.Close() }()

	want, err := DumpString(ctx, fresh)
	if err != nil {
		return err
	}
	got, err := DumpString(ctx, idx)
	if err != nil {
		return err
	}
	if want == got {
		return nil
	}

	diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(want),
		B:        difflib.SplitLines(got),
		FromFile: "rebuild",
		ToFile:   "incremental",
		Context:  1,
	})
	return fmt.Errorf("%w:\n%s", ErrDiverged, diff)
}
