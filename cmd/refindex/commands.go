package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/refindex/internal/indexer"
	"github.com/dshills/refindex/internal/mcp"
	"github.com/dshills/refindex/internal/rebuild"
	"github.com/dshills/refindex/internal/storage"
	"github.com/dshills/refindex/internal/watch"
	"github.com/dshills/refindex/pkg/types"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "refindex",
		Short: "Backward reference index for a project",
		Long: `refindex records, per source file, which symbols the file uses,
defines, subclasses, casts and converts to strings, and keeps that index
in step with the build one change at a time.`,
		Version:       fmt.Sprintf("%s (built %s, %s sqlite driver %q)", version, buildTime, storage.BuildMode, storage.DriverName),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	load := func() (*app, error) { return newApp(configPath) }

	root.AddCommand(
		newRebuildCmd(load),
		newStatusCmd(load),
		newDumpCmd(load),
		newVerifyCmd(load),
		newWatchCmd(load),
		newServeCmd(load),
	)
	return root
}

func newRebuildCmd(load func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Discard the index and build it from the project files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			idx, stats, err := rebuild.Rebuild(cmd.Context(), a.options(), a.snapshot())
			if err != nil {
				return err
			}
			defer func() { _ = idx.Close() }()
			printStatistics(cmd.OutOrStdout(), stats)
			return nil
		},
	}
}

func newStatusCmd(load func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the schema version, sizes and key count per table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			// status reports what is on disk; it never rebuilds
			idx, err := indexer.Open(cmd.Context(), a.options())
			if err != nil {
				if types.RequiresRebuild(err) {
					return fmt.Errorf("%w (run 'refindex rebuild')", err)
				}
				return err
			}
			defer func() { _ = idx.Close() }()

			st, err := idx.Status(cmd.Context())
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), idx.Dir(), st)
			return nil
		},
	}
}

func newDumpCmd(load func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Print every table in canonical text form",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			idx, err := rebuild.Open(cmd.Context(), a.options(), a.snapshot())
			if err != nil {
				return err
			}
			defer func() { _ = idx.Close() }()
			return rebuild.Dump(cmd.Context(), idx, cmd.OutOrStdout())
		},
	}
}

func newVerifyCmd(load func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check that the index matches a full rebuild of the project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			opts := a.options()
			idx, err := indexer.Open(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer func() { _ = idx.Close() }()

			if err := rebuild.Verify(cmd.Context(), idx, opts, a.snapshot()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "index matches a full rebuild")
			return nil
		},
	}
}

func newWatchCmd(load func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep the index current as project files change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := a.serveMetrics(ctx); err != nil {
				return err
			}
			runner, err := rebuild.NewRunner(ctx, a.options(), a.snapshot())
			if err != nil {
				return err
			}
			defer func() { _ = runner.Close() }()

			// the index may be behind the tree after a restart
			if _, err := runner.RequestRebuild(ctx); err != nil {
				return err
			}

			_, keep := a.extractor()
			w, err := watch.New(watch.Options{
				Root:     a.cfg.Index.ProjectRoot,
				Keep:     keep,
				Exclude:  a.cfg.Watch.Exclude,
				Debounce: a.cfg.Watch.Debounce(),
			}, runner)
			if err != nil {
				return err
			}
			return w.Run(ctx)
		},
	}
}

func newServeCmd(load func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve read-only index queries over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := a.serveMetrics(ctx); err != nil {
				return err
			}
			runner, err := rebuild.NewRunner(ctx, a.options(), a.snapshot())
			if err != nil {
				return err
			}
			defer func() { _ = runner.Close() }()

			a.log.Info("MCP server ready, listening on stdio", "version", version)
			err = mcp.NewServer(runner).Serve(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

func printStatistics(w io.Writer, s *indexer.Statistics) {
	fmt.Fprintf(w, "files added:      %d\n", s.FilesAdded)
	fmt.Fprintf(w, "files failed:     %d\n", s.FilesFailed)
	fmt.Fprintf(w, "postings written: %d\n", s.PostingsWritten)
	fmt.Fprintf(w, "duration:         %s\n", s.Duration)
	for _, msg := range s.ErrorMessages {
		fmt.Fprintf(w, "  %s\n", msg)
	}
}

func printStatus(w io.Writer, dir string, st *indexer.Status) {
	fmt.Fprintf(w, "index:          %s\n", dir)
	fmt.Fprintf(w, "project root:   %s\n", st.ProjectRoot)
	fmt.Fprintf(w, "schema version: %s\n", st.SchemaVersion)
	fmt.Fprintf(w, "files:          %d\n", st.Files)
	fmt.Fprintf(w, "symbols:        %d\n", st.Symbols)
	fmt.Fprintf(w, "paths:          %d\n", st.Paths)

	ids := make([]types.TableID, 0, len(st.Keys))
	for id := range st.Keys {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fmt.Fprintf(w, "  %-20s %d keys\n", id.Name(), st.Keys[id])
	}
}
