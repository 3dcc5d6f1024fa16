package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/securewatch/ingest/internal/logger"
	"github.com/securewatch/ingest/pkg/buffer"
	"github.com/securewatch/ingest/pkg/config"
	"github.com/securewatch/ingest/pkg/enrich"
	"github.com/securewatch/ingest/pkg/enrich/intelcache"
	"github.com/securewatch/ingest/pkg/flow"
	"github.com/securewatch/ingest/pkg/ingest"
	"github.com/securewatch/ingest/pkg/metrics"
	"github.com/securewatch/ingest/pkg/parser"
	"github.com/securewatch/ingest/pkg/parser/builtin"

	// Import prometheus metrics to register init() functions.
	_ "github.com/securewatch/ingest/pkg/metrics/prometheus"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the ingestion pipeline",
	Long: `Start the ingestion pipeline with the specified configuration.

Examples:
  # Start with the default config location
  swingest start

  # Start with a custom config file
  swingest start --config /etc/securewatch/swingest.yaml

  # Start with environment variable overrides
  SECUREWATCH_LOGGING_LEVEL=DEBUG swingest start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{Addr: cfg.Metrics.ListenAddress, Handler: mux}
		go func() {
			logger.Info("metrics endpoint listening", "address", cfg.Metrics.ListenAddress)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	pipeline, cleanup, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := pipeline.Start(ctx); err != nil {
		return err
	}
	logger.Info("swingest started", "version", Version)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Pipeline.ShutdownTimeout)
	defer shutdownCancel()

	if err := pipeline.Shutdown(shutdownCtx); err != nil {
		logger.Error("pipeline shutdown error", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}
	}
	return nil
}

// buildPipeline assembles the buffer, parser and enrichment layers from the
// configuration. The returned cleanup closes resources the pipeline does
// not own.
func buildPipeline(ctx context.Context, cfg *config.Config) (*ingest.Pipeline, func(), error) {
	noop := func() {}

	mcfg := cfg.Buffer.ManagerConfig()
	buf, err := buffer.NewManager(mcfg, buffer.Deps{
		Gate:    flow.NewGate(mcfg.FlowControl, metrics.NewGateMetrics()),
		Breaker: flow.NewBreaker("ingest-sink", mcfg.CircuitBreaker, metrics.NewBreakerMetrics()),
		Metrics: metrics.NewBufferMetrics(),
		Disk:    metrics.NewDiskMetrics(),
	})
	if err != nil {
		return nil, noop, fmt.Errorf("failed to create buffer manager: %w", err)
	}
	if err := buf.Initialize(ctx); err != nil {
		return nil, noop, fmt.Errorf("failed to initialize buffer manager: %w", err)
	}

	registry := parser.NewRegistry()
	for _, p := range []parser.Parser{
		builtin.NewSyslogParser(),
		builtin.NewCloudTrailParser(),
	} {
		if err := registry.Register(p); err != nil {
			return nil, noop, fmt.Errorf("failed to register parser: %w", err)
		}
	}

	engine := enrich.NewEngine(enrich.Config{
		Enabled:       cfg.Enrichment.Enabled,
		CacheTTL:      cfg.Enrichment.CacheTTL,
		LookupTimeout: cfg.Enrichment.LookupTimeout,
	})
	cleanup := noop
	if cfg.Enrichment.Enabled && cfg.Enrichment.CachePath != "" {
		cache, err := intelcache.Open(cfg.Enrichment.CachePath)
		if err != nil {
			logger.Warn("intel cache unavailable, running uncached",
				"path", cfg.Enrichment.CachePath, "error", err)
		} else {
			engine.SetCache(cache)
			cleanup = func() {
				if err := cache.Close(); err != nil {
					logger.Error("intel cache close error", "error", err)
				}
			}
		}
	}
	for _, rule := range enrich.DefaultRules() {
		if err := engine.AddRule(rule); err != nil {
			return nil, cleanup, fmt.Errorf("failed to install enrichment rule: %w", err)
		}
	}

	mgr := parser.NewManager(registry, parser.NewMetrics(), engine, parser.ManagerConfig{
		ChunkSize:      cfg.Parser.ChunkSize,
		MaxConcurrency: cfg.Parser.MaxConcurrency,
	})

	pipeline := ingest.NewPipeline(ingest.Config{
		Workers:       cfg.Pipeline.Workers,
		StatsInterval: cfg.Pipeline.StatsInterval,
	}, buf, mgr, ingest.NewWriterSink(os.Stdout), metrics.NewPipelineMetrics())

	return pipeline, cleanup, nil
}
