package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"

	"github.com/mixelka/jobmail-ingest/internal/config"
	"github.com/mixelka/jobmail-ingest/internal/database"
	"github.com/mixelka/jobmail-ingest/internal/email"
	"github.com/mixelka/jobmail-ingest/internal/eventlog"
	"github.com/mixelka/jobmail-ingest/internal/formatter"
	"github.com/mixelka/jobmail-ingest/internal/httpapi"
	"github.com/mixelka/jobmail-ingest/internal/ingest"
	"github.com/mixelka/jobmail-ingest/internal/llm"
	"github.com/mixelka/jobmail-ingest/internal/relevance"
	"github.com/mixelka/jobmail-ingest/internal/telegram"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting job mail ingest service", "mailbox", cfg.IMAPMailbox)

	// Connect to database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run migrations
	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations completed")

	events := eventlog.New(db, eventlog.Options{
		Retention: cfg.LogRetention,
		ReplayMax: cfg.LogReplayMax,
		Buffer:    cfg.StreamBuffer,
	}, logger)

	// Resolve IMAP server from the address when it is not configured
	server := cfg.IMAPServer
	if server == "" {
		resolveCtx, cancel := context.WithTimeout(ctx, cfg.IMAPDialTimeout)
		server, err = email.ResolveIMAPServer(resolveCtx, cfg.IMAPUser)
		cancel()
		if err != nil {
			logger.Error("failed to resolve IMAP server", "email", cfg.IMAPUser, "error", err)
			os.Exit(1)
		}
		logger.Info("resolved IMAP server", "server", server)
	}

	clientCfg := email.ClientConfig{
		Email:          cfg.IMAPUser,
		Password:       cfg.IMAPPassword,
		Server:         server,
		DialTimeout:    cfg.IMAPDialTimeout,
		CommandTimeout: cfg.IMAPCommandTimeout,
	}
	dial := func() ingest.Mailbox {
		return email.NewClient(clientCfg, logger)
	}

	// Extraction is optional, emails stay pending without it
	var extractor ingest.Extractor
	if cfg.LLMEnabled() {
		extractor = llm.NewExtractor(
			llm.NewClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAITimeout),
			llm.NewPricing(llm.Rate{In: cfg.OpenAIRateIn, Out: cfg.OpenAIRateOut}),
			cfg.OpenAIModel,
			cfg.MaxBodyChars,
			logger,
		)
		logger.Info("llm extraction enabled", "model", cfg.OpenAIModel)
	} else {
		logger.Warn("OPENAI_API_KEY is not set, extraction disabled")
	}

	rel := relevance.DefaultOptions()
	rel.ModelVersion = cfg.HeuristicModelVersion
	rel.RelevantThreshold = cfg.RelevantThreshold
	rel.SkipThreshold = cfg.SkipThreshold
	rel.StoreThreshold = cfg.StoreThreshold
	rel.IncludeAlerts = cfg.IncludeAlerts
	rel.ExtraATSDomains = cfg.ExtraATSDomains
	rel.ExtraKeywords = cfg.ExtraKeywords
	rel.Weights = cfg.Weights

	service := ingest.NewService(db, events, dial, extractor, nil, ingest.Options{
		Mailbox:        cfg.IMAPMailbox,
		BatchLimit:     cfg.BatchLimit,
		MaxInitialSync: cfg.MaxInitialSync,
		IncludeAlerts:  cfg.IncludeAlerts,
		FetchRetries:   cfg.FetchRetries,
		FetchBackoff:   cfg.FetchBackoff,
		ParseWorkers:   cfg.ParseWorkers,
		Relevance:      rel,
	}, logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Create bot (optional)
	if cfg.TelegramEnabled() {
		bot, err := telegram.NewBot(telegram.BotDeps{
			Token:     cfg.TelegramToken,
			ChatID:    cfg.TelegramChatID,
			DB:        db,
			Ingester:  service,
			Formatter: formatter.NewTelegramFormatter(),
			Logger:    logger,
		})
		if err != nil {
			logger.Error("failed to create bot", "error", err)
			os.Exit(1)
		}
		service.SetNotifier(bot)
		go bot.Start(ctx)
	}

	service.StartScheduler(cfg.Interval)

	if cfg.LogFormat == "json" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(httpapi.NewHandler(db, events, service, logger)),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			cancel()
		}
	}()

	// Wait for a signal or a fatal server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
	}
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Runs reach run_end before streams are closed
	if err := service.Shutdown(shutdownCtx); err != nil {
		logger.Warn("ingest runs did not finish in time", "error", err)
	}

	// Cancelling the base context ends open streams and stops the bot
	cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", "error", err)
	}

	logger.Info("service stopped")
}

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler
	logLevel := parseLevel(level)

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})
	} else {
		// Pretty colored output for console
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.DateTime,
		})
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
