// Package indexer maintains the backward reference index incrementally as
// the build system recompiles files.
//
// # Basic Usage
//
//	idx, err := indexer.Open(ctx, indexer.Options{
//	    Dir:         ".refindex",
//	    ProjectRoot: "/path/to/project",
//	    Extractor:   parser.New(),
//	})
//
//	s, err := idx.Begin(ctx)
//	stats, err := s.Apply(ctx,
//	    indexer.Changed("src/Foo.go", content),
//	    indexer.Deleted("src/Old.go"),
//	)
//	total, err := s.End(ctx)
//
// # Sessions
//
// The index is Idle or Updating. Begin moves it to Updating and persists a
// session marker before returning; End commits every write, clears the
// marker and returns to Idle. Only one session may be active: a second
// Begin fails with types.ErrSessionActive. If the process dies, or the
// session is aborted, the marker survives and the next Open reports
// types.ErrCorrupted so the caller rebuilds.
//
// # Applying Events
//
// Every file owns its postings. An event never merges into what a file
// contributed before; it replaces it:
//
//   - Added, Changed: retract the file, then put one posting per
//     (table, key) of its fresh extraction
//   - Deleted: retract the file; unknown paths are ignored
//   - Renamed: Deleted(old) then Added(new). Paths compare byte-wise, so a
//     case-only rename gets a new file id
//   - RebuildRequested: abort with types.ErrNeedsFullRebuild
//
// Retraction removes the file id from all six tables, so stale entries can
// never survive an update. Changed events whose contributions hash
// (xxhash) to the stored digest are skipped.
//
// # Concurrent Processing
//
// Extraction of the files in one Apply call runs on an errgroup bounded by
// Options.Workers. Table updates are applied serially in event order
// afterwards.
//
// # Errors
//
// Rebuild-class failures (see types.RequiresRebuild) and context
// cancellation abort the session. A file whose extraction fails is
// retracted and counted in Statistics.FilesFailed; a full rebuild would
// give it no postings either.
package indexer
