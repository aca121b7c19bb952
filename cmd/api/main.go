package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aluiziolira/otodombot/api"
	"github.com/aluiziolira/otodombot/config"
	"github.com/aluiziolira/otodombot/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the YAML (or JSON) configuration file")
	addr := flag.String("addr", "", "Listen address (overrides config, default :8000)")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("loading configuration", slog.Any("error", err))
		os.Exit(1)
	}
	if *addr != "" {
		cfg.APIAddr = *addr
	}
	if cfg.Store != "postgres" || cfg.DatabaseURL == "" {
		slog.Error("the API reads from postgres, set DATABASE_URL")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("initializing database")
	store, err := storage.ConnectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("connecting to postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	if !*verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	server := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           api.NewRouter(store),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("api shutdown failed", slog.Any("error", err))
		}
	}()

	slog.Info("api listening", slog.String("addr", cfg.APIAddr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("api server failed", slog.Any("error", err))
		os.Exit(1)
	}
}
