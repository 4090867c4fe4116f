package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/BuzzLyutic/shortlink/internal/storage/migrations"
)

// Код ошибки PostgreSQL unique_violation
const pgUniqueViolation = "23505"

// PostgreSQL реализация хранилища
type PostgresStorage struct {
	db      *sql.DB
	timeout time.Duration
}

// Конфигурация подключения для PostgreSQL
type PostgresConfig struct {
	DSN             string        // Строка подключения
	MaxOpenConns    int           // Макс. открытых соединений
	MaxIdleConns    int           // Макс. незанятых соединений
	ConnMaxLifetime time.Duration // Макс. время жизни соединения
	ConnMaxIdleTime time.Duration // Макс. время жизни незанятого соединения
	Timeout         time.Duration // Таймаут одного запроса
	Migrate         bool          // Применить миграции при подключении
}

// Конфиг Postgres по умолчанию
func DefaultPostgresConfig(dsn string) PostgresConfig {
	return PostgresConfig{
		DSN:             dsn,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
		Timeout:         DefaultTimeout,
		Migrate:         true,
	}
}

func NewPostgresStorage(cfg PostgresConfig) (*PostgresStorage, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.Migrate {
		if err := migrations.Up(migrations.Postgres, cfg.DSN); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Конфиг пулов соединений
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Подтверждение соединения
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &PostgresStorage{db: db, timeout: cfg.Timeout}, nil
}

// Save вставляет ссылку одним запросом. Истекшая ссылка с тем же кодом
// перезаписывается, активная оставляет запрос без изменений.
func (s *PostgresStorage) Save(ctx context.Context, link Link) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		INSERT INTO links (code, target_url, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (code) DO UPDATE SET
			target_url = EXCLUDED.target_url,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at,
			seq        = nextval(pg_get_serial_sequence('links', 'seq'))
		WHERE links.expires_at <= EXCLUDED.created_at
	`

	result, err := s.db.ExecContext(ctx, query,
		link.Code,
		link.TargetURL,
		link.CreatedAt.UTC(),
		link.ExpiresAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateCode
		}
		return unavailable("inserting link", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return unavailable("getting rows affected", err)
	}
	if rowsAffected == 0 {
		return ErrDuplicateCode
	}

	return nil
}

// Get возвращает ссылку по коду
func (s *PostgresStorage) Get(ctx context.Context, code string) (*Link, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT code, target_url, created_at, expires_at
		FROM links
		WHERE code = $1
	`

	var link Link
	err := s.db.QueryRowContext(ctx, query, code).Scan(
		&link.Code,
		&link.TargetURL,
		&link.CreatedAt,
		&link.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("querying link by code", err)
	}

	link.CreatedAt = link.CreatedAt.UTC()
	link.ExpiresAt = link.ExpiresAt.UTC()
	return &link, nil
}

// List возвращает ссылки от новых к старым
func (s *PostgresStorage) List(ctx context.Context, limit int) ([]Link, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT code, target_url, created_at, expires_at
		FROM links
		ORDER BY created_at DESC, seq DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("listing links", err)
	}
	defer rows.Close()

	links := []Link{}
	for rows.Next() {
		var link Link
		if err := rows.Scan(&link.Code, &link.TargetURL, &link.CreatedAt, &link.ExpiresAt); err != nil {
			return nil, unavailable("scanning link", err)
		}
		link.CreatedAt = link.CreatedAt.UTC()
		link.ExpiresAt = link.ExpiresAt.UTC()
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating links", err)
	}

	return links, nil
}

// DeleteExpired удаляет ссылки, истекшие к моменту before
func (s *PostgresStorage) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `DELETE FROM links WHERE expires_at <= $1`, before.UTC())
	if err != nil {
		return 0, unavailable("deleting expired links", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, unavailable("getting rows affected", err)
	}
	return deleted, nil
}

// Ping проверяет соединение с БД
func (s *PostgresStorage) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("pinging database", err)
	}
	return nil
}

// Close закрывает соединение с БД
func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

// isUniqueViolation проверяет наличие нарушения ограничения уникальности
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
}
