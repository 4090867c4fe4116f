// Пакет config предоставляет конфигурацию для приложения.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Типы хранилищ
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
)

const (
	minCodeLength = 4
	maxCodeLength = 32
)

// Config содержит конфиг приложения
type Config struct {
	// Настройки сервера
	ServerAddress string   `yaml:"server_address"`
	BaseURL       string   `yaml:"base_url"`
	CORSOrigins   []string `yaml:"cors_origins"`

	// Настройки хранилища
	StorageType  string        `yaml:"storage"` // memory, postgres или sqlite
	DatabaseURL  string        `yaml:"database_url"`
	SQLitePath   string        `yaml:"sqlite_path"`
	StoreTimeout time.Duration `yaml:"store_timeout"`

	// Кэш, пустой RedisURL - без кэша
	RedisURL string        `yaml:"redis_url"`
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// Настройки ссылок
	CodeLength   int           `yaml:"code_length"`
	HistoryLimit int           `yaml:"history_limit"`
	MaxTTL       time.Duration `yaml:"max_ttl"` // 0 - без ограничения

	// Очистка истекших ссылок, 0 - выключена
	PurgeInterval  time.Duration `yaml:"purge_interval"`
	PurgeRetention time.Duration `yaml:"purge_retention"`

	// Логирование
	LogLevel string `yaml:"log_level"`
}

// Default возвращает конфиг по умолчанию
func Default() *Config {
	return &Config{
		ServerAddress: ":5000",
		BaseURL:       "http://localhost:5000",
		CORSOrigins:   []string{"http://localhost:3000"},
		StorageType:   StorageMemory,
		SQLitePath:    "shortlink.db",
		StoreTimeout:  5 * time.Second,
		CacheTTL:      time.Hour,
		CodeLength:    7,
		HistoryLimit:  100,
		LogLevel:      "info",
	}
}

// Load загружает конфиг: значения по умолчанию, затем YAML-файл
// (-config или CONFIG_FILE), затем флаги и переменные окружения.
func Load(args []string) (*Config, error) {
	cfg := Default()

	// Первый проход нужен только чтобы узнать путь к файлу
	var path string
	probe := newFlagSet(Default(), &path)
	probe.SetOutput(io.Discard)
	if err := probe.Parse(args); err != nil {
		return nil, err
	}
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	// Значения из файла становятся значениями флагов по умолчанию
	if err := newFlagSet(cfg, &path).Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	// Валидация
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func newFlagSet(cfg *Config, path *string) *flag.FlagSet {
	fs := flag.NewFlagSet("shortener", flag.ContinueOnError)

	fs.StringVar(path, "config", *path, "Path to YAML config file")
	fs.StringVar(&cfg.ServerAddress, "address", cfg.ServerAddress, "Server address (HOST:PORT)")
	fs.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "Base URL for short links")
	fs.Var((*listValue)(&cfg.CORSOrigins), "cors-origins", "Comma-separated list of allowed CORS origins")
	fs.StringVar(&cfg.StorageType, "storage", cfg.StorageType, "Storage type: memory, postgres or sqlite")
	fs.StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "PostgreSQL connection string")
	fs.StringVar(&cfg.SQLitePath, "sqlite-path", cfg.SQLitePath, "SQLite database file")
	fs.DurationVar(&cfg.StoreTimeout, "store-timeout", cfg.StoreTimeout, "Timeout for a single storage call")
	fs.StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "Redis URL for the link cache (empty = no cache)")
	fs.DurationVar(&cfg.CacheTTL, "cache-ttl", cfg.CacheTTL, "Max TTL of a cached link")
	fs.IntVar(&cfg.CodeLength, "code-length", cfg.CodeLength, "Length of generated short codes")
	fs.IntVar(&cfg.HistoryLimit, "history-limit", cfg.HistoryLimit, "Max number of links returned by history")
	fs.DurationVar(&cfg.MaxTTL, "max-ttl", cfg.MaxTTL, "Max link lifetime (0 = unlimited)")
	fs.DurationVar(&cfg.PurgeInterval, "purge-interval", cfg.PurgeInterval, "How often expired links are deleted (0 = never)")
	fs.DurationVar(&cfg.PurgeRetention, "purge-retention", cfg.PurgeRetention, "How long expired links are kept before deletion")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")

	return fs
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// Переопределение переменными окружения
func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"SERVER_ADDRESS": &c.ServerAddress,
		"BASE_URL":       &c.BaseURL,
		"STORAGE_TYPE":   &c.StorageType,
		"DATABASE_URL":   &c.DatabaseURL,
		"SQLITE_PATH":    &c.SQLitePath,
		"REDIS_URL":      &c.RedisURL,
		"LOG_LEVEL":      &c.LogLevel,
	}
	for name, dst := range strs {
		if env := os.Getenv(name); env != "" {
			*dst = env
		}
	}

	durations := map[string]*time.Duration{
		"STORE_TIMEOUT":   &c.StoreTimeout,
		"CACHE_TTL":       &c.CacheTTL,
		"MAX_TTL":         &c.MaxTTL,
		"PURGE_INTERVAL":  &c.PurgeInterval,
		"PURGE_RETENTION": &c.PurgeRetention,
	}
	for name, dst := range durations {
		if env := os.Getenv(name); env != "" {
			d, err := time.ParseDuration(env)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", name, err)
			}
			*dst = d
		}
	}

	ints := map[string]*int{
		"CODE_LENGTH":   &c.CodeLength,
		"HISTORY_LIMIT": &c.HistoryLimit,
	}
	for name, dst := range ints {
		if env := os.Getenv(name); env != "" {
			n, err := strconv.Atoi(env)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", name, err)
			}
			*dst = n
		}
	}

	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		c.CORSOrigins = splitList(env)
	}

	return nil
}

// Validate проверяет корректность конфигурации
func (c *Config) Validate() error {
	var errs []error

	switch c.StorageType {
	case StorageMemory:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("database-url is required when storage=postgres"))
		}
	case StorageSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("sqlite-path is required when storage=sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid storage type: %s (must be 'memory', 'postgres' or 'sqlite')", c.StorageType))
	}

	if u, err := url.Parse(c.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("invalid base-url: %q", c.BaseURL))
	}

	if c.CodeLength < minCodeLength || c.CodeLength > maxCodeLength {
		errs = append(errs, fmt.Errorf("code-length must be between %d and %d", minCodeLength, maxCodeLength))
	}
	if c.HistoryLimit <= 0 {
		errs = append(errs, errors.New("history-limit must be positive"))
	}
	if c.StoreTimeout <= 0 {
		errs = append(errs, errors.New("store-timeout must be positive"))
	}
	if c.RedisURL != "" && c.CacheTTL <= 0 {
		errs = append(errs, errors.New("cache-ttl must be positive when redis-url is set"))
	}
	for name, d := range map[string]time.Duration{
		"max-ttl":         c.MaxTTL,
		"purge-interval":  c.PurgeInterval,
		"purge-retention": c.PurgeRetention,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log level: %s", c.LogLevel))
	}

	return errors.Join(errs...)
}

// listValue - flag.Value для списка через запятую
type listValue []string

func (l *listValue) String() string {
	if l == nil {
		return ""
	}
	return strings.Join(*l, ",")
}

func (l *listValue) Set(s string) error {
	*l = splitList(s)
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
