package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dshills/refindex/internal/config"
	"github.com/dshills/refindex/internal/indexer"
	"github.com/dshills/refindex/internal/manifest"
	"github.com/dshills/refindex/internal/metrics"
	"github.com/dshills/refindex/internal/parser"
	"github.com/dshills/refindex/internal/rebuild"
	"github.com/dshills/refindex/pkg/logger"
)

// app carries what every command derives from the configuration
type app struct {
	cfg     *config.Config
	reg     *prometheus.Registry
	metrics *metrics.Metrics
	log     *slog.Logger
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	reg := prometheus.NewRegistry()
	return &app{
		cfg:     cfg,
		reg:     reg,
		metrics: metrics.New(reg),
		log:     logger.WithComponent("cli"),
	}, nil
}

// extractor returns the configured extractor and the function choosing
// which project files it reads
func (a *app) extractor() (indexer.Extractor, func(rel string) (string, bool)) {
	var (
		ex   indexer.Extractor
		keep func(rel string) (string, bool)
	)
	switch a.cfg.Index.Extractor {
	case config.ExtractorManifest:
		ex, keep = manifest.New(), manifest.SourcePath
	default:
		ex, keep = parser.New(), rebuild.ByExtension(a.cfg.Index.Extensions...)
	}
	return ex, rebuild.Excluding(a.cfg.Watch.Exclude, keep)
}

func (a *app) options() indexer.Options {
	ex, _ := a.extractor()
	return indexer.Options{
		Dir:         a.cfg.Index.Dir,
		ProjectRoot: a.cfg.Index.ProjectRoot,
		Extractor:   ex,
		Workers:     a.cfg.Index.Workers,
		CacheSize:   a.cfg.Index.CacheSize,
		Logger:      logger.WithComponent("indexer"),
		Metrics:     a.metrics,
	}
}

func (a *app) snapshot() rebuild.Snapshot {
	_, keep := a.extractor()
	return rebuild.SnapshotDir(a.cfg.Index.ProjectRoot, keep)
}

// serveMetrics exposes the registry on the configured port until ctx is
// done. It does nothing when metrics are disabled.
func (a *app) serveMetrics(ctx context.Context) error {
	if !a.cfg.Metrics.Enabled {
		return nil
	}
	addr := net.JoinHostPort("", strconv.Itoa(a.cfg.Metrics.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(a.reg))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		a.log.Info("metrics listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server failed", "error", err)
		}
	}()
	return nil
}
