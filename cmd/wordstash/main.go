package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/wordstash/wordstash/internal/httpapi"
	"github.com/wordstash/wordstash/internal/importer"
	"github.com/wordstash/wordstash/internal/wordstash"
)

func main() {
	_ = godotenv.Load()

	logger, err := buildLogger()
	if err != nil {
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	addr := os.Getenv("WORDSTASH_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	retry := wordstash.RetryPolicy{
		MaxAttempts: intEnv(logger, "WORDSTASH_MAX_ATTEMPTS", 3),
		BaseDelay:   durationEnv(logger, "WORDSTASH_RETRY_BASE_DELAY", time.Second),
	}

	gateway := wordstash.NewHTTPNotionGateway(wordstash.NotionGatewayOptions{
		BaseURL:          os.Getenv("NOTION_BASE_URL"),
		Token:            os.Getenv("NOTION_TOKEN"),
		DatabaseID:       os.Getenv("NOTION_DATABASE_ID"),
		APIVersion:       os.Getenv("NOTION_VERSION"),
		Retry:            retry,
		FallbackScanSize: intEnv(logger, "WORDSTASH_FALLBACK_SCAN_SIZE", 0),
		ListPageSize:     intEnv(logger, "WORDSTASH_LIST_PAGE_SIZE", 0),
		Logger:           logger,
	})

	analyzer, err := wordstash.NewHTTPAnalysisClient(wordstash.OpenAIClientOptions{
		BaseURL: os.Getenv("OPENAI_BASE_URL"),
		APIKey:  os.Getenv("OPENAI_API_KEY"),
		Model:   os.Getenv("OPENAI_MODEL"),
		Retry:   retry,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal("failed to initialize analysis client", zap.Error(err))
	}

	journal, err := wordstash.OpenJournal(os.Getenv("WORDSTASH_JOURNAL_DSN"))
	if err != nil {
		logger.Fatal("failed to initialize journal backend", zap.Error(err))
	}
	defer func() { _ = journal.Close() }()

	events := wordstash.NewEventHub()
	engine := wordstash.NewEngine(wordstash.EngineOptions{
		Analyzer: analyzer,
		Store:    gateway,
		Journal:  journal,
		Events:   events,
		Logger:   logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if importDir := os.Getenv("WORDSTASH_IMPORT_DIR"); importDir != "" {
		defaultHint, _ := wordstash.ParseLanguage(os.Getenv("WORDSTASH_IMPORT_HINT"))
		watcher, err := importer.New(importer.Options{
			Dir:         importDir,
			Engine:      engine,
			DefaultHint: defaultHint,
			Logger:      logger,
		})
		if err != nil {
			logger.Fatal("failed to initialize import watcher", zap.Error(err))
		}
		go func() {
			if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("import watcher stopped", zap.Error(err))
			}
		}()
	}

	server := httpapi.NewServer(engine, gateway, journal, events, httpapi.ServerConfig{
		APIToken:     os.Getenv("WORDSTASH_API_TOKEN"),
		MaxBodyBytes: int64Env(logger, "WORDSTASH_MAX_BODY_BYTES", 0),
	}, logger)

	httpServer := &http.Server{Addr: addr, Handler: server}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("wordstash listening", zap.String("addr", addr))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func buildLogger() (*zap.Logger, error) {
	if os.Getenv("WORDSTASH_DEV_LOG") != "" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func intEnv(logger *zap.Logger, name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		logger.Warn("invalid env value, using fallback", zap.String("name", name), zap.String("value", raw), zap.Int("fallback", fallback))
		return fallback
	}
	return value
}

func int64Env(logger *zap.Logger, name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		logger.Warn("invalid env value, using fallback", zap.String("name", name), zap.String("value", raw), zap.Int64("fallback", fallback))
		return fallback
	}
	return value
}

func durationEnv(logger *zap.Logger, name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		logger.Warn("invalid env value, using fallback", zap.String("name", name), zap.String("value", raw), zap.Duration("fallback", fallback))
		return fallback
	}
	return value
}
