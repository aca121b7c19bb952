package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/otodombot/config"
	"github.com/aluiziolira/otodombot/enrich"
	"github.com/aluiziolira/otodombot/llm"
	"github.com/aluiziolira/otodombot/models"
	"github.com/aluiziolira/otodombot/notify"
	"github.com/aluiziolira/otodombot/photos"
	"github.com/aluiziolira/otodombot/pipeline"
	"github.com/aluiziolira/otodombot/scraper"
	"github.com/aluiziolira/otodombot/storage"
)

type renderer interface {
	pipeline.Renderer
	Close() error
}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the YAML (or JSON) configuration file")
	once := flag.Bool("once", false, "Run the pipeline once and exit")
	interval := flag.Duration("interval", 0, "Time between scheduled runs (overrides config)")
	workers := flag.Int("workers", 0, "Listings processed concurrently (overrides config)")
	maxPages := flag.Int("pages", 0, "Result pages crawled per sort strategy (overrides config)")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	rendererKind := flag.String("renderer", "", "Page renderer: browser or static (overrides config)")
	storeKind := flag.String("store", "", "Listing store: postgres or memory (overrides config)")
	reportFile := flag.String("report", "", "Append run summaries to this file (.csv or .jsonl)")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("loading configuration", slog.Any("error", err))
		os.Exit(1)
	}
	applyFlags(cfg, *interval, *workers, *maxPages, *metricsAddr, *rendererKind, *storeKind, *reportFile, *verbose)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *once); err != nil {
		slog.Error("otodombot stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func applyFlags(cfg *config.Config, interval time.Duration, workers, maxPages int, metricsAddr, rendererKind, storeKind, reportFile string, verbose bool) {
	if interval > 0 {
		cfg.Interval = interval
	}
	if workers > 0 {
		cfg.Workers = workers
	}
	if maxPages > 0 {
		cfg.MaxPages = maxPages
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}
	if rendererKind != "" {
		cfg.Renderer = strings.ToLower(rendererKind)
	}
	if storeKind != "" {
		cfg.Store = strings.ToLower(storeKind)
	}
	if reportFile != "" {
		cfg.ReportFile = reportFile
	}
	cfg.Verbose = verbose
}

func run(ctx context.Context, cfg *config.Config, once bool) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	scraperMetrics := scraper.NewMetrics(registry)
	pipelineMetrics := pipeline.NewMetrics(registry)

	r, err := newRenderer(cfg, scraperMetrics)
	if err != nil {
		return fmt.Errorf("initialising renderer: %w", err)
	}
	defer func() {
		if err := r.Close(); err != nil {
			slog.Error("close renderer", slog.Any("error", err))
		}
	}()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	collab, err := collaborators(ctx, cfg)
	if err != nil {
		return err
	}
	collab.Renderer = r
	collab.Crawler = scraper.NewAggregator(r, scraperMetrics)
	collab.Store = store

	p, err := pipeline.New(cfg, collab, pipelineMetrics)
	if err != nil {
		return fmt.Errorf("building pipeline: %w", err)
	}

	var report pipeline.ReportWriter
	if cfg.ReportFile != "" {
		report, err = pipeline.NewReportWriter(cfg.ReportFile)
		if err != nil {
			return fmt.Errorf("opening report: %w", err)
		}
		defer func() {
			if err := report.Close(); err != nil {
				slog.Error("close report", slog.Any("error", err))
			}
		}()
	}

	runOnce := func(ctx context.Context) error {
		result, err := p.Run(ctx)
		if errors.Is(err, pipeline.ErrRunInProgress) {
			slog.Warn("previous run still in progress, trigger skipped")
			return nil
		}
		if report != nil && result.RunID != "" {
			if werr := report.Write(result); werr != nil {
				slog.Error("writing run report", slog.Any("error", werr))
			}
		}
		if err != nil {
			return err
		}
		printSummary(result)
		return nil
	}

	slog.Info("starting otodombot",
		slog.String("base_url", cfg.BaseURL),
		slog.Int("pages", cfg.MaxPages),
		slog.Int("workers", cfg.Workers),
		slog.String("renderer", cfg.Renderer),
		slog.String("store", cfg.Store),
	)

	if once {
		return runOnce(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		server := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		cronLogger := slogCronLogger{}
		job := cron.NewChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)).Then(cron.FuncJob(func() {
			if err := runOnce(gctx); err != nil && gctx.Err() == nil {
				slog.Error("run failed", slog.Any("error", err))
			}
		}))

		scheduler := cron.New(cron.WithLogger(cronLogger))
		scheduler.Schedule(cron.Every(cfg.Interval), job)
		scheduler.Start()
		slog.Info("scheduler started", slog.Duration("interval", cfg.Interval))

		first := make(chan struct{})
		go func() {
			defer close(first)
			job.Run()
		}()

		<-gctx.Done()
		slog.Info("shutdown signal received, waiting for the current run to finish")
		<-scheduler.Stop().Done()
		<-first
		return nil
	})

	return g.Wait()
}

func newRenderer(cfg *config.Config, metrics *scraper.Metrics) (renderer, error) {
	if cfg.Renderer == "static" {
		return scraper.NewStaticRenderer(cfg, metrics)
	}
	return scraper.NewBrowserRenderer(cfg, metrics)
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	if cfg.Store == "postgres" {
		return storage.ConnectPostgres(ctx, cfg.DatabaseURL)
	}
	slog.Warn("using in-memory store, listings are lost on exit")
	return storage.NewMemoryStore(), nil
}

// collaborators builds the optional enrichment and delivery clients. Each
// one is left nil when its credentials are missing, which disables the stage.
func collaborators(ctx context.Context, cfg *config.Config) (pipeline.Collaborators, error) {
	var c pipeline.Collaborators

	if cfg.OpenAIKey != "" {
		client, err := llm.NewClient(cfg.OpenAIKey, cfg.OpenAIModel)
		if err != nil {
			return c, fmt.Errorf("llm client: %w", err)
		}
		c.Resolver = client
		c.Rater = client
	} else {
		slog.Info("OPENAI_API_KEY not set, address resolution and rating disabled")
	}

	if cfg.GoogleMapsKey != "" {
		maps, err := enrich.NewMapsClient(cfg.GoogleMapsKey)
		if err != nil {
			return c, fmt.Errorf("maps client: %w", err)
		}
		c.Geocoder = maps
	} else {
		slog.Info("GOOGLE_MAPS_API_KEY not set, geocoding and commutes disabled")
	}

	chatIDs := notify.ParseChatIDs(cfg.TelegramChatIDs)
	if cfg.TelegramToken != "" && len(chatIDs) > 0 {
		bot, err := notify.NewTelegram(cfg.TelegramToken)
		if err != nil {
			return c, fmt.Errorf("telegram client: %w", err)
		}
		c.Notifier = bot
		c.ChatIDs = chatIDs
		slog.Info("telegram notifications enabled", slog.String("bot", bot.Username()), slog.Int("chats", len(chatIDs)))
	} else {
		slog.Info("telegram token or chat ids not set, notifications disabled")
	}

	var photoStore photos.Store
	switch {
	case cfg.PhotoBucket != "":
		s3Store, err := photos.NewS3Store(ctx, photos.S3Options{
			Bucket:    cfg.PhotoBucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return c, fmt.Errorf("s3 photo store: %w", err)
		}
		photoStore = s3Store
	case cfg.PhotoDir != "":
		fileStore, err := photos.NewFileStore(cfg.PhotoDir)
		if err != nil {
			return c, fmt.Errorf("photo directory: %w", err)
		}
		photoStore = fileStore
	}
	if photoStore != nil {
		c.Photos = photos.NewDownloader(photoStore, nil)
	}

	return c, nil
}

// slogCronLogger routes scheduler logs through slog.
type slogCronLogger struct{}

func (slogCronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

func printSummary(result models.RunResult) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Run complete")
	fmt.Printf("  Run ID:        %s\n", result.RunID)
	fmt.Printf("  Candidates:    %d\n", result.Candidates)
	fmt.Printf("  Created:       %d\n", result.Created)
	fmt.Printf("  Updated:       %d\n", result.Updated)
	fmt.Printf("  Skipped:       %d\n", result.Skipped)
	fmt.Printf("  Dropped:       %d\n", result.Dropped)
	fmt.Printf("  Failed:        %d\n", result.Failed)
	fmt.Printf("  Notified:      %d\n", result.Notified)
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
	}
	fmt.Printf("  Duration:      %v\n", result.EndTime.Sub(result.StartTime).Round(time.Millisecond))
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
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
