package rebuild

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dshills/refindex/internal/indexer"
	"github.com/dshills/refindex/internal/metrics"
	"github.com/dshills/refindex/pkg/logger"
	"github.com/dshills/refindex/pkg/types"
)

// Runner keeps an index in step with the build. Each Update is one
// session; whenever the index cannot be updated in place it is rebuilt
// from the snapshot.
type Runner struct {
	opts     indexer.Options
	snapshot Snapshot
	log      *slog.Logger

	mu  sync.Mutex
	idx *indexer.Index
}

// NewRunner opens (or rebuilds) the index in opts.Dir
func NewRunner(ctx context.Context, opts indexer.Options, snapshot Snapshot) (*Runner, error) {
	if opts.Logger == nil {
		opts.Logger = logger.WithComponent("indexer")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	idx, err := Open(ctx, opts, snapshot)
	if err != nil {
		return nil, err
	}
	return &Runner{
		opts:     opts,
		snapshot: snapshot,
		log:      logger.WithComponent("rebuild"),
		idx:      idx,
	}, nil
}

// Index returns the current index. It changes after a rebuild.
func (r *Runner) Index() *indexer.Index {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.idx
}

// Update applies one batch of build events in its own session. If the
// batch cannot be applied incrementally the index is rebuilt and the
// rebuild statistics are returned.
func (r *Runner) Update(ctx context.Context, events ...indexer.Event) (*indexer.Statistics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.idx == nil {
		return r.rebuildLocked(ctx, types.ErrCorrupted)
	}

	s, err := r.idx.Begin(ctx)
	if err != nil {
		if types.RequiresRebuild(err) {
			return r.rebuildLocked(ctx, err)
		}
		return nil, err
	}
	if _, err := s.Apply(ctx, events...); err != nil {
		if types.RequiresRebuild(err) {
			return r.rebuildLocked(ctx, err)
		}
		return nil, err
	}
	stats, err := s.End(ctx)
	if err != nil && types.RequiresRebuild(err) {
		return r.rebuildLocked(ctx, err)
	}
	return stats, err
}

// RequestRebuild discards the index and rebuilds it from the snapshot
func (r *Runner) RequestRebuild(ctx context.Context) (*indexer.Statistics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rebuildLocked(ctx, nil)
}

func (r *Runner) rebuildLocked(ctx context.Context, cause error) (*indexer.Statistics, error) {
	reason := Reason(cause)
	r.log.Warn("rebuilding index", "dir", r.opts.Dir, "reason", reason, "error", cause)
	r.opts.Metrics.RebuildsTotal.WithLabelValues(reason).Inc()

	if r.idx != nil {
		_ = r.idx.Close()
		r.idx = nil
	}
	idx, stats, err := Rebuild(ctx, r.opts, r.snapshot)
	if err != nil {
		return nil, err
	}
	r.idx = idx
	return stats, nil
}

// Close closes the index
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.idx == nil {
		return nil
	}
	err := r.idx.Close()
	r.idx = nil
	return err
}
