package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/refindex/pkg/logger"
	"github.com/dshills/refindex/pkg/types"
)

var errSessionFinished = errors.New("session already finished")

// Session is one update session: the index is in its Updating state until
// End or Abort. Apply may be called any number of times in between.
type Session struct {
	idx     *Index
	id      string
	log     *slog.Logger
	started time.Time

	mu     sync.Mutex
	totals Statistics
	done   bool
	failed error
}

func newSession(idx *Index) *Session {
	id := uuid.NewString()
	return &Session{
		idx:     idx,
		id:      id,
		log:     idx.log.With("session", id),
		started: time.Now(),
	}
}

// ID returns the session identifier used in logs
func (s *Session) ID() string {
	return s.id
}

// extraction is the result of extracting one event's file
type extraction struct {
	data *types.CompiledFileData
	err  error // per-file failure; the file contributes nothing
}

// Apply applies events in order. Extraction of event contents runs
// concurrently; table updates are applied serially. Errors that leave the
// index unable to match a full rebuild abort the session and are returned;
// per-file extraction failures are counted in Statistics instead.
func (s *Session) Apply(ctx context.Context, events ...Event) (*Statistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		if s.failed != nil {
			return nil, s.failed
		}
		return nil, errSessionFinished
	}

	start := time.Now()
	stats := &Statistics{ErrorMessages: make([]string, 0)}

	for _, ev := range events {
		if ev.Kind == EventRebuildRequested {
			s.idx.opts.Metrics.EventsTotal.WithLabelValues(ev.Kind.String()).Inc()
			return nil, s.abortLocked(fmt.Errorf("%w: requested by build", types.ErrNeedsFullRebuild))
		}
	}

	extracted, err := s.extractAll(ctx, events)
	if err != nil {
		return nil, s.abortLocked(err)
	}

	for i, ev := range events {
		if err := ctx.Err(); err != nil {
			return nil, s.abortLocked(err)
		}
		if err := s.applyEvent(ctx, ev, extracted[i], stats); err != nil {
			if isAbort(err) {
				return nil, s.abortLocked(err)
			}
			// Bad event (unknown kind, unusable path): nothing was written
			stats.FilesFailed++
			stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("%s %s: %v", ev.Kind, ev.Path, err))
			s.log.Warn("event rejected", "kind", ev.Kind.String(), "path", ev.Path, "error", err)
		}
		s.idx.opts.Metrics.EventsTotal.WithLabelValues(ev.Kind.String()).Inc()
	}

	stats.Duration = time.Since(start)
	s.totals.add(stats)
	s.log.Debug("events applied",
		"events", len(events),
		"postings", stats.PostingsWritten,
		"skipped", stats.FilesSkipped,
		"failed", stats.FilesFailed,
		"duration", stats.Duration)
	return stats, nil
}

// extractAll runs the extractor for every event that carries content but
// no data, bounded by the configured number of workers. Extractors log
// through logger.FromContext to carry the session id.
func (s *Session) extractAll(ctx context.Context, events []Event) ([]extraction, error) {
	results := make([]extraction, len(events))
	for _, ev := range events {
		if ev.needsData() && ev.Data == nil && s.idx.opts.Extractor == nil {
			return nil, fmt.Errorf("no extractor configured for %s %s", ev.Kind, ev.Path)
		}
	}

	g, gctx := errgroup.WithContext(logger.WithSession(ctx, s.id))
	g.SetLimit(s.idx.opts.Workers)

	for i, ev := range events {
		if !ev.needsData() {
			continue
		}
		if ev.Data != nil {
			results[i] = extraction{data: ev.Data, err: ev.Data.Validate()}
			continue
		}
		g.Go(func() error {
			path, err := s.idx.paths.Canonical(ev.Path)
			if err != nil {
				results[i] = extraction{err: err}
				return nil
			}
			data, err := s.idx.opts.Extractor.Extract(gctx, path, ev.Content, s.idx.names)
			if err != nil {
				if isAbort(err) {
					return err
				}
				results[i] = extraction{err: err}
				return nil
			}
			if data == nil {
				data = &types.CompiledFileData{}
			}
			results[i] = extraction{data: data, err: data.Validate()}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Session) applyEvent(ctx context.Context, ev Event, ex extraction, stats *Statistics) error {
	switch ev.Kind {
	case EventAdded:
		if err := s.replace(ctx, ev.Path, ex, stats); err != nil {
			return err
		}
		stats.FilesAdded++
	case EventChanged:
		if err := s.replace(ctx, ev.Path, ex, stats); err != nil {
			return err
		}
		stats.FilesChanged++
	case EventDeleted:
		if err := s.delete(ctx, ev.Path, stats); err != nil {
			return err
		}
		stats.FilesDeleted++
	case EventRenamed:
		oldPath, err := s.idx.paths.Canonical(ev.OldPath)
		if err != nil {
			return err
		}
		newPath, err := s.idx.paths.Canonical(ev.Path)
		if err != nil {
			return err
		}
		if oldPath == newPath {
			// Byte-identical paths: same file id, so this is a change
			if err := s.replace(ctx, ev.Path, ex, stats); err != nil {
				return err
			}
			stats.FilesChanged++
			return nil
		}
		// Case-only renames land here too: paths compare case-sensitively
		if err := s.delete(ctx, ev.OldPath, stats); err != nil {
			return err
		}
		if err := s.replace(ctx, ev.Path, ex, stats); err != nil {
			return err
		}
		stats.FilesRenamed++
	default:
		return fmt.Errorf("unknown event kind %s", ev.Kind)
	}
	return nil
}

// replace makes the tables hold exactly what the new extraction of path
// contributes: retract the file, then apply its data
func (s *Session) replace(ctx context.Context, path string, ex extraction, stats *Statistics) error {
	fileID, err := s.idx.paths.Intern(ctx, path)
	if err != nil {
		return err
	}

	if ex.err != nil {
		if isAbort(ex.err) {
			return ex.err
		}
		if err := s.retract(ctx, fileID, stats); err != nil {
			return err
		}
		stats.FilesFailed++
		stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("%s: %v", path, ex.err))
		s.log.Warn("extraction failed", "path", path, "error", ex.err)
		return nil
	}

	contributions := ex.data.Contributions()
	digest, err := contributionDigest(contributions)
	if err != nil {
		return err
	}
	if old, ok, err := s.idx.files.Digest(ctx, fileID); err != nil {
		return err
	} else if ok && old == digest {
		stats.FilesSkipped++
		s.idx.opts.Metrics.FilesSkippedTotal.Inc()
		return nil
	}

	if err := s.retract(ctx, fileID, stats); err != nil {
		return err
	}
	for _, c := range contributions {
		if err := s.idx.tables[c.Table].Put(ctx, c.Key, fileID, c.Posting); err != nil {
			return err
		}
		stats.PostingsWritten++
		s.idx.opts.Metrics.PostingsWrittenTotal.WithLabelValues(c.Table.Name()).Inc()
	}
	return s.idx.files.Record(ctx, fileID, digest)
}

// delete retracts path. A path that was never interned has nothing to
// retract and is not interned by the lookup.
func (s *Session) delete(ctx context.Context, path string, stats *Statistics) error {
	fileID, ok, err := s.idx.paths.Lookup(ctx, path)
	if err != nil {
		return err
	}
	if !ok {
		s.log.Debug("delete of unknown file ignored", "path", path)
		return nil
	}
	return s.retract(ctx, fileID, stats)
}

// retract removes every posting fileID contributed to any table
func (s *Session) retract(ctx context.Context, fileID types.FileID, stats *Statistics) error {
	_, indexed, err := s.idx.files.Digest(ctx, fileID)
	if err != nil {
		return err
	}
	for _, id := range types.AllTables {
		if err := s.idx.tables[id].Remove(ctx, fileID); err != nil {
			return err
		}
	}
	if err := s.idx.files.Forget(ctx, fileID); err != nil {
		return err
	}
	if indexed {
		stats.FilesRetracted++
		s.idx.opts.Metrics.FilesRetractedTotal.Inc()
	}
	return nil
}

// End makes the session durable, clears the session marker and returns
// the index to idle. It returns the statistics of the whole session.
func (s *Session) End(ctx context.Context) (*Statistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		if s.failed != nil {
			return nil, s.failed
		}
		return nil, errSessionFinished
	}

	if err := s.idx.db.MarkSession(ctx, false); err != nil {
		return nil, s.abortLocked(err)
	}

	s.done = true
	s.idx.lock.Release()

	totals := s.totals
	totals.Duration = time.Since(s.started)
	s.idx.opts.Metrics.SessionsTotal.WithLabelValues("ended").Inc()
	s.idx.opts.Metrics.SessionDuration.Observe(totals.Duration.Seconds())
	s.log.Info("session ended",
		"added", totals.FilesAdded,
		"changed", totals.FilesChanged,
		"deleted", totals.FilesDeleted,
		"renamed", totals.FilesRenamed,
		"skipped", totals.FilesSkipped,
		"failed", totals.FilesFailed,
		"postings", totals.PostingsWritten,
		"duration", totals.Duration)
	return &totals, nil
}

// Abort abandons the session. Unflushed writes are discarded but the
// session marker stays set: the index no longer reflects the build and
// must be rebuilt.
func (s *Session) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	_ = s.abortLocked(fmt.Errorf("%w: session aborted", types.ErrCorrupted))
	return nil
}

func (s *Session) abortLocked(cause error) error {
	s.done = true
	s.failed = cause

	if err := s.idx.db.Discard(); err != nil {
		s.log.Error("failed to discard session writes", "error", err)
	}
	// Rolled-back allocations must not linger in the caches
	ctx := context.Background()
	if err := s.idx.names.Reload(ctx); err != nil {
		s.log.Error("failed to reload names", "error", err)
	}
	if err := s.idx.paths.Reload(ctx); err != nil {
		s.log.Error("failed to reload paths", "error", err)
	}

	s.idx.markStale()
	s.idx.lock.Release()
	s.idx.opts.Metrics.SessionsTotal.WithLabelValues("aborted").Inc()
	s.log.Warn("session aborted", "error", cause)
	return cause
}
