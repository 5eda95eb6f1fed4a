package main

import (
	"context"
	_ "embed"
	"errors"
	"io"
	"log"
	"log/slog"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"lifecal/internal/config"
	"lifecal/internal/http"
	"lifecal/internal/source"
	"lifecal/internal/storage"
	"lifecal/internal/summary"
	"lifecal/internal/sync"
)

//go:embed index.html
var indexHTML string

// Default source endpoints, overridable per source in sources.yaml.
var defaultBaseURLs = map[string]string{
	"limitless": "https://api.limitless.ai",
	"omi":       "https://api.omi.me",
	"weather":   "https://archive-api.open-meteo.com",
}

func main() {
	// Load configuration first (needed for log level)
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Configure structured logging with configurable level and format
	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    20, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
		})
	}
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	slog.SetDefault(slog.New(handler))
	slog.Debug("Logging configured", "level", cfg.LogLevel.String(), "format", cfg.LogFormat)

	// Initialize database
	db, err := storage.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() {
		_ = db.Close()
	}()

	if err := storage.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	slog.Info("Database initialized", "path", cfg.DBPath)

	// Create repository instances
	recordRepo := storage.NewRecordRepo(db)
	childRepo := storage.NewChildRepo(db)
	watermarkRepo := storage.NewWatermarkRepo(db)
	rollupRepo := storage.NewRollupRepo(db)
	moodRepo := storage.NewMoodRepo(db)

	// Build the sync engine and register each enabled source
	engine := sync.NewEngine(recordRepo, childRepo, watermarkRepo, rollupRepo, slog.Default())
	scheduler := sync.NewScheduler(engine, slog.Default())

	for name, sc := range cfg.Sources {
		if !sc.Enabled {
			continue
		}
		baseURL := sc.BaseURL
		if baseURL == "" {
			baseURL = defaultBaseURLs[name]
		}

		var client source.Client
		settings := sync.Settings{PageLimit: sc.PageLimit, MaxPages: sc.MaxPages}
		switch name {
		case "limitless":
			client = source.NewLimitlessClient(baseURL, sc.APIKey)
		case "omi":
			client = source.NewOmiClient(baseURL, sc.APIKey, sc.Fetch.Facts, sc.Fetch.Todos)
		case "weather":
			client = source.NewWeatherClient(baseURL, sc.Latitude, sc.Longitude)
		case "mood":
			client = source.NewMoodClient(moodRepo)
			settings.StopOnShortPage = true
		default:
			slog.Warn("Unknown source in configuration, skipping", "source", name)
			continue
		}

		engine.Register(client, settings)
		scheduler.Add(name, sc.SyncEvery)
		slog.Info("Source registered", "source", name, "interval", sc.SyncEvery)
	}

	// Narrative generator; the model is optional
	var llm summary.LLMClient
	if cfg.LLMBaseURL != "" {
		llm = summary.NewChatClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel)
		slog.Info("Narrative model configured", "base_url", cfg.LLMBaseURL, "model", cfg.LLMModel)
	}
	narrator := summary.NewGenerator(recordRepo, rollupRepo, llm, slog.Default())

	// Create router with dependencies
	deps := &http.Deps{
		Engine:    engine,
		Records:   recordRepo,
		Children:  childRepo,
		Rollups:   rollupRepo,
		MoodInbox: moodRepo,
		Narrator:  narrator,
		DB:        db,
		IndexHTML: indexHTML,
	}
	router := http.NewRouter(deps)

	// Scheduler stops when the process is told to shut down; a run in flight
	// finishes its current page and persists what it has
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	scheduler.Start(ctx)

	addr := ":" + cfg.APIPort
	server := &nethttp.Server{Addr: addr, Handler: router}
	go func() {
		slog.Info("Starting API server", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			log.Fatalf("API server failed: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown failed", "error", err)
	}
	scheduler.Wait()
}
