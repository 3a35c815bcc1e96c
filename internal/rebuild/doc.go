// Package rebuild builds the backward reference index from scratch and
// checks that incremental maintenance agrees with it.
//
// The incremental updater promises that after any sequence of events the
// tables equal, key for key and file for file, what a full rebuild of the
// resulting project would produce. Dump renders an index in a canonical,
// id-independent text form and Verify compares an index against a scratch
// rebuild of a snapshot.
//
//	runner, err := rebuild.NewRunner(ctx, opts, rebuild.SnapshotDir(root, rebuild.ByExtension(".go")))
//	stats, err := runner.Update(ctx, indexer.Changed("pkg/a.go", src))
//	err = rebuild.Verify(ctx, runner.Index(), opts, snapshot)
//
// Open and Runner fall back to Rebuild whenever the index reports an error
// that only a rebuild can recover from (types.RequiresRebuild). Rebuild
// deletes only the database files of the index directory.
package rebuild
