package rebuild

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dshills/refindex/internal/indexer"
	"github.com/dshills/refindex/internal/metrics"
	"github.com/dshills/refindex/pkg/logger"
	"github.com/dshills/refindex/pkg/types"
)

// batchSize bounds how many files are extracted per Apply call
const batchSize = 256

// reasonInitial labels the first build of a new index
const reasonInitial = "initial"

// Rebuild discards the index in opts.Dir and builds it again from the
// snapshot in one session. The snapshot is taken before anything is
// deleted, so a failing snapshot leaves the old index in place.
func Rebuild(ctx context.Context, opts indexer.Options, snapshot Snapshot) (*indexer.Index, *indexer.Statistics, error) {
	log := opts.Logger
	if log == nil {
		log = logger.WithComponent("rebuild")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	start := time.Now()

	files, err := snapshot(ctx)
	if err != nil {
		return nil, nil, err
	}

	if err := removeIndex(opts.Dir); err != nil {
		return nil, nil, err
	}

	idx, err := indexer.Open(ctx, opts)
	if err != nil {
		return nil, nil, err
	}

	stats, err := addAll(ctx, idx, files)
	if err != nil {
		_ = idx.Close()
		return nil, nil, err
	}

	opts.Metrics.RebuildDuration.Observe(time.Since(start).Seconds())
	log.Info("index rebuilt",
		"dir", opts.Dir,
		"files", len(files),
		"failed", stats.FilesFailed,
		"postings", stats.PostingsWritten,
		"duration", time.Since(start))
	return idx, stats, nil
}

func addAll(ctx context.Context, idx *indexer.Index, files []SourceFile) (*indexer.Statistics, error) {
	s, err := idx.Begin(ctx)
	if err != nil {
		return nil, err
	}
	for i := 0; i < len(files); i += batchSize {
		end := min(i+batchSize, len(files))
		events := make([]indexer.Event, 0, end-i)
		for _, f := range files[i:end] {
			events = append(events, indexer.Added(f.Path, f.Content))
		}
		if _, err := s.Apply(ctx, events...); err != nil {
			return nil, err
		}
	}
	return s.End(ctx)
}

// removeIndex deletes the database files of an index directory. Nothing
// else in the directory is touched.
func removeIndex(dir string) error {
	db := filepath.Join(dir, indexer.DBFile)
	for _, path := range []string{db, db + "-wal", db + "-shm", db + "-journal"} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: failed to remove %s: %w", types.ErrStorageIO, path, err)
		}
	}
	return nil
}

// Open opens the index in opts.Dir, building it from the snapshot when it
// was never built and rebuilding it when it is unusable: incompatible
// version, an unfinished session or a damaged enumerator.
func Open(ctx context.Context, opts indexer.Options, snapshot Snapshot) (*indexer.Index, error) {
	log := opts.Logger
	if log == nil {
		log = logger.WithComponent("rebuild")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}

	idx, err := indexer.Open(ctx, opts)
	if err == nil {
		var built bool
		built, err = idx.Built(ctx)
		if err == nil && built {
			return idx, nil
		}
		_ = idx.Close()
		if err == nil {
			log.Info("index not built yet, building", "dir", opts.Dir)
			opts.Metrics.RebuildsTotal.WithLabelValues(reasonInitial).Inc()
			idx, _, err = Rebuild(ctx, opts, snapshot)
			return idx, err
		}
	}
	if !types.RequiresRebuild(err) {
		return nil, err
	}

	reason := Reason(err)
	log.Warn("index unusable, rebuilding", "dir", opts.Dir, "reason", reason, "error", err)
	opts.Metrics.RebuildsTotal.WithLabelValues(reason).Inc()

	idx, _, err = Rebuild(ctx, opts, snapshot)
	return idx, err
}

// Reason classifies a rebuild-class error for logs and metrics
func Reason(err error) string {
	switch {
	case err == nil:
		return "requested"
	case errors.Is(err, types.ErrVersionMismatch):
		return "version_mismatch"
	case errors.Is(err, types.ErrCorrupted):
		return "corrupted"
	case errors.Is(err, types.ErrEnumeratorCorruption):
		return "enumerator_corruption"
	case errors.Is(err, types.ErrNeedsFullRebuild):
		return "requested"
	case errors.Is(err, types.ErrStorageIO):
		return "storage_io"
	default:
		return "other"
	}
}
