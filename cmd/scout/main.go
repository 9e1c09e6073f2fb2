package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-scrape-market/config"
	"github.com/aluiziolira/go-scrape-market/intent"
	"github.com/aluiziolira/go-scrape-market/models"
	"github.com/aluiziolira/go-scrape-market/pipeline"
	"github.com/aluiziolira/go-scrape-market/scraper"
	"github.com/aluiziolira/go-scrape-market/search"
	"github.com/aluiziolira/go-scrape-market/store"
)

var (
	cfg      *config.Config
	envFiles []string
	verbose  bool
)

var rootCmd = &cobra.Command{
	Use:           "scout",
	Short:         "Search marketplaces with a local product cache",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(envFiles...)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("verbose") {
			loaded.Verbose = verbose
		}
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		cfg = loaded

		logger, level := newLogger(cfg.Verbose)
		slog.SetDefault(logger)
		slog.SetLogLoggerLevel(level.Level())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env", nil, "dotenv files to load (default .env)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app holds the wired core shared by every command.
type app struct {
	metrics      *scraper.Metrics
	store        store.Store
	cache        *store.Cache
	orchestrator *search.Orchestrator
	router       *intent.Router

	pipeline    *pipeline.Pipeline
	cacheWriter *pipeline.CacheWriter
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	metrics := scraper.NewMetrics()

	s, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	cache := store.NewCache(s, cfg.ProductTTL, metrics)

	registry, err := scraper.DefaultRegistry(cfg, metrics)
	if err != nil {
		s.Close()
		return nil, err
	}

	a := &app{metrics: metrics, store: s, cache: cache}

	var opts []search.Option
	if cfg.AsyncCache {
		a.cacheWriter = pipeline.NewCacheWriter(cache, cfg.Timeout)
		// Detached so pending writes still drain after a shutdown signal.
		a.pipeline = pipeline.NewPipeline(context.WithoutCancel(ctx), a.cacheWriter, cfg, pipeline.WithFlushInterval(time.Second))
		a.pipeline.Start(1)
		if cfg.Verbose {
			a.pipeline.StartMetricsReporting(30 * time.Second)
		}
		opts = append(opts, search.WithAsyncCache(a.pipeline))
	}

	a.orchestrator = search.New(registry, cache, cfg, metrics, opts...)
	a.router = intent.NewRouter(a.orchestrator, models.SearchOptions{Marketplace: cfg.DefaultMarketplace})

	slog.Debug("core ready",
		slog.String("cache_driver", cfg.CacheDriver),
		slog.Bool("async_cache", cfg.AsyncCache),
		slog.Any("marketplaces", registry.Names()),
	)
	return a, nil
}

// close drains pending cache writes before the store goes away.
func (a *app) close() {
	if a.pipeline != nil {
		if err := a.pipeline.Close(); err != nil {
			slog.Error("cache pipeline shutdown failed", slog.Any("error", err))
		}
		if written, failed := a.cacheWriter.Counts(); written+failed > 0 {
			slog.Info("async cache writes",
				slog.Int64("written", written),
				slog.Int64("failed", failed),
			)
		}
	}
	if err := a.store.Close(); err != nil {
		slog.Error("close cache store", slog.Any("error", err))
	}
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	// Logs go to stderr so command output on stdout stays pipeable.
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stderr) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
