package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/dshills/refindex/internal/enumerator"
	"github.com/dshills/refindex/internal/metrics"
	"github.com/dshills/refindex/internal/storage"
	"github.com/dshills/refindex/pkg/logger"
	"github.com/dshills/refindex/pkg/types"
)

// DBFile is the database file name inside the index directory
const DBFile = "index.db"

// Options configures an Index
type Options struct {
	Dir         string    // index directory (required)
	ProjectRoot string    // root that file paths are made relative to
	Extractor   Extractor // required for events that carry content only
	Workers     int       // concurrent extractions (default: runtime.NumCPU())
	CacheSize   int       // enumerator cache entries per direction

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

func (o *Options) setDefaults() {
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.CacheSize <= 0 {
		o.CacheSize = enumerator.DefaultCacheSize
	}
	if o.Logger == nil {
		o.Logger = logger.WithComponent("indexer")
	}
	if o.Metrics == nil {
		o.Metrics = metrics.New(nil)
	}
}

// Index is an open backward reference index: six tables plus the symbol
// and file enumerators, all stored in one database. Reads are safe between
// sessions; writes only happen inside a Session.
type Index struct {
	opts Options
	log  *slog.Logger

	db     *storage.DB
	names  *enumerator.Names
	paths  *enumerator.Paths
	files  *storage.Files
	tables map[types.TableID]*storage.MultiMap

	lock IndexLock

	mu     sync.Mutex
	stale  bool // a session was aborted; only a rebuild can recover
	closed bool
}

// Open opens the index in opts.Dir, creating it if needed. It fails with
// types.ErrVersionMismatch for an incompatible schema, types.ErrCorrupted
// when the previous session never ended and types.ErrEnumeratorCorruption
// for a damaged enumerator. All three are recovered by a rebuild.
func Open(ctx context.Context, opts Options) (*Index, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("index directory is required")
	}
	opts.setDefaults()
	if opts.ProjectRoot != "" {
		root, err := filepath.Abs(opts.ProjectRoot)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve project root: %w", err)
		}
		opts.ProjectRoot = root
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: failed to create index directory: %w", types.ErrStorageIO, err)
	}

	db, err := storage.Open(ctx, filepath.Join(opts.Dir, DBFile))
	if err != nil {
		return nil, err
	}

	idx, err := open(ctx, db, opts)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

func open(ctx context.Context, db *storage.DB, opts Options) (*Index, error) {
	unclean, err := db.SessionOpen(ctx)
	if err != nil {
		return nil, err
	}
	if unclean {
		return nil, fmt.Errorf("%w: %s", types.ErrCorrupted, db.Path())
	}

	if opts.ProjectRoot != "" {
		if stored, ok, err := db.ProjectRoot(ctx); err != nil {
			return nil, err
		} else if ok && stored != opts.ProjectRoot {
			opts.Logger.Warn("project root moved", "stored", stored, "root", opts.ProjectRoot)
		}
	}

	names, err := enumerator.OpenNames(ctx, db, opts.CacheSize)
	if err != nil {
		return nil, err
	}
	paths, err := enumerator.OpenPaths(ctx, db, opts.ProjectRoot, opts.CacheSize)
	if err != nil {
		return nil, err
	}
	tables, err := storage.Tables(db)
	if err != nil {
		return nil, err
	}

	return &Index{
		opts:   opts,
		log:    opts.Logger,
		db:     db,
		names:  names,
		paths:  paths,
		files:  storage.NewFiles(db),
		tables: tables,
	}, nil
}

// Dir returns the index directory
func (idx *Index) Dir() string {
	return idx.opts.Dir
}

// ProjectRoot returns the absolute project root, or "" if none was set
func (idx *Index) ProjectRoot() string {
	return idx.opts.ProjectRoot
}

// Table returns one of the six tables
func (idx *Index) Table(id types.TableID) (*storage.MultiMap, error) {
	t, ok := idx.tables[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown table %d", types.ErrInvalidKey, id)
	}
	return t, nil
}

// Names returns the symbol name enumerator
func (idx *Index) Names() *enumerator.Names {
	return idx.names
}

// Paths returns the file path enumerator
func (idx *Index) Paths() *enumerator.Paths {
	return idx.paths
}

// Files returns the registry of files currently contributing
func (idx *Index) Files() *storage.Files {
	return idx.files
}

// Metrics returns the collectors the index reports to
func (idx *Index) Metrics() *metrics.Metrics {
	return idx.opts.Metrics
}

// Built reports whether a session ever ended on the index. A freshly
// created index is empty whatever the project holds.
func (idx *Index) Built(ctx context.Context) (bool, error) {
	return idx.db.Built(ctx)
}

// Status summarizes the index
type Status struct {
	SchemaVersion string
	ProjectRoot   string
	Files         int
	Symbols       int
	Paths         int
	Keys          map[types.TableID]int
}

// Status reports the schema version, sizes and key count per table
func (idx *Index) Status(ctx context.Context) (*Status, error) {
	version, err := idx.db.SchemaVersion(ctx)
	if err != nil {
		return nil, err
	}
	files, err := idx.files.Count(ctx)
	if err != nil {
		return nil, err
	}
	st := &Status{
		SchemaVersion: version,
		ProjectRoot:   idx.opts.ProjectRoot,
		Files:         files,
		Symbols:       idx.names.Len(),
		Paths:         idx.paths.Len(),
		Keys:          make(map[types.TableID]int, len(types.AllTables)),
	}
	for _, id := range types.AllTables {
		n, err := idx.tables[id].KeyCount(ctx)
		if err != nil {
			return nil, err
		}
		st.Keys[id] = n
	}
	return st, nil
}

// Close closes the index. A session still in progress is abandoned with
// its marker set, so the next Open reports types.ErrCorrupted.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return types.ErrClosed
	}
	idx.closed = true
	if idx.lock.Held() {
		_ = idx.db.Discard()
	}
	return idx.db.Close()
}

func (idx *Index) markStale() {
	idx.mu.Lock()
	idx.stale = true
	idx.mu.Unlock()
}

// Begin starts the single update session. A second concurrent Begin fails
// with types.ErrSessionActive. The session marker is made durable before
// Begin returns.
func (idx *Index) Begin(ctx context.Context) (*Session, error) {
	idx.mu.Lock()
	closed, stale := idx.closed, idx.stale
	idx.mu.Unlock()
	if closed {
		return nil, types.ErrClosed
	}
	if stale {
		return nil, fmt.Errorf("%w: previous session was aborted", types.ErrCorrupted)
	}
	if !idx.lock.TryAcquire() {
		return nil, types.ErrSessionActive
	}

	if err := idx.db.Failed(); err != nil {
		idx.lock.Release()
		return nil, err
	}
	if idx.opts.ProjectRoot != "" {
		if err := idx.db.SetProjectRoot(ctx, idx.opts.ProjectRoot); err != nil {
			idx.lock.Release()
			return nil, err
		}
	}
	if err := idx.db.MarkSession(ctx, true); err != nil {
		_ = idx.db.Discard()
		idx.lock.Release()
		return nil, err
	}

	s := newSession(idx)
	s.log.Debug("session started")
	return s, nil
}

// isAbort reports whether err must end the session
func isAbort(err error) bool {
	return types.RequiresRebuild(err) ||
		errors.Is(err, types.ErrClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
