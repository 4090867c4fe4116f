package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BuzzLyutic/shortlink/internal/config"
	"github.com/BuzzLyutic/shortlink/internal/handler"
	"github.com/BuzzLyutic/shortlink/internal/service"
	"github.com/BuzzLyutic/shortlink/internal/storage"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		slog.Error("application error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(args []string) error {
	// Загрузка конфигурации
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}

	// Установка логгера
	logger := setupLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting URL shortener",
		slog.String("address", cfg.ServerAddress),
		slog.String("storage", cfg.StorageType),
		slog.String("base_url", cfg.BaseURL),
		slog.Bool("cache", cfg.RedisURL != ""),
	)

	// Инициализация хранилища
	store, err := initStorage(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("closing storage", slog.Any("error", err))
		}
	}()

	// Инициализация сервиса
	svc := service.New(store, service.Config{
		BaseURL:      cfg.BaseURL,
		CodeLength:   cfg.CodeLength,
		HistoryLimit: cfg.HistoryLimit,
		MaxTTL:       cfg.MaxTTL,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Фоновая очистка истекших ссылок
	if cfg.PurgeInterval > 0 {
		sweeper := service.NewSweeper(store, nil, cfg.PurgeInterval, cfg.PurgeRetention, logger)
		go sweeper.Run(ctx)
		logger.Info("expired link sweeper started",
			slog.Duration("interval", cfg.PurgeInterval),
			slog.Duration("retention", cfg.PurgeRetention),
		)
	}

	// Инициализация хэндлера
	h := handler.New(svc, logger)

	// Установка HTTP сервера
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	// Применить middleware
	var httpHandler http.Handler = mux
	httpHandler = handler.Recovery(logger)(httpHandler)
	httpHandler = handler.Logging(logger)(httpHandler)
	httpHandler = handler.CORS(cfg.CORSOrigins)(httpHandler)

	server := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      httpHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	return runServer(ctx, server, logger)
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: logLevel}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	var (
		store storage.Storage
		err   error
	)

	switch cfg.StorageType {
	case config.StoragePostgres:
		logger.Info("connecting to PostgreSQL", slog.String("url", maskDSN(cfg.DatabaseURL)))
		pgCfg := storage.DefaultPostgresConfig(cfg.DatabaseURL)
		pgCfg.Timeout = cfg.StoreTimeout
		store, err = storage.NewPostgresStorage(pgCfg)
	case config.StorageSQLite:
		logger.Info("opening SQLite database", slog.String("path", cfg.SQLitePath))
		sqliteCfg := storage.DefaultSQLiteConfig(cfg.SQLitePath)
		sqliteCfg.Timeout = cfg.StoreTimeout
		store, err = storage.NewSQLiteStorage(sqliteCfg)
	case config.StorageMemory:
		logger.Info("using in-memory storage")
		store = storage.NewMemoryStorage()
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.StorageType)
	}
	if err != nil {
		return nil, err
	}

	if cfg.RedisURL == "" {
		return store, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.StoreTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		// Кэш не обязателен: без Redis запросы идут прямо в хранилище
		logger.Warn("redis is not reachable, cache will be bypassed until it recovers",
			slog.String("url", maskDSN(cfg.RedisURL)),
			slog.Any("error", err),
		)
	} else {
		logger.Info("link cache enabled", slog.String("url", maskDSN(cfg.RedisURL)))
	}

	return storage.NewCached(store, client, nil, cfg.CacheTTL, logger), nil
}

func runServer(ctx context.Context, server *http.Server, logger *slog.Logger) error {
	// Канал для получения ошибок сервера
	serverErr := make(chan error, 1)

	// Старт сервера
	go func() {
		logger.Info("server listening", slog.String("address", server.Addr))
		serverErr <- server.ListenAndServe()
	}()

	// Ожидание завершения работы или ошибки
	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")

		// Ожидание дополнительно 10 секунд для завершения обрабатываемых запросов
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			// Насильное завершение работы
			server.Close()
			return err
		}
	}
	logger.Info("server stopped")
	return nil
}

// maskDSN скрывает пароль в строке подключения
func maskDSN(dsn string) string {
	if dsn == "" {
		return "(empty)"
	}
	u, err := url.Parse(dsn)
	if err != nil || u.Host == "" {
		return "(set)"
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
