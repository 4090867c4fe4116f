package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite без CGO

	"github.com/BuzzLyutic/shortlink/internal/storage/migrations"
)

// SQLite реализация хранилища. Время хранится в наносекундах unix (UTC).
type SQLiteStorage struct {
	db      *sql.DB
	timeout time.Duration
}

// Конфигурация SQLite
type SQLiteConfig struct {
	Path        string        // Путь к файлу БД
	BusyTimeout time.Duration // Сколько ждать блокировку файла
	Timeout     time.Duration // Таймаут одного запроса
}

// Конфиг SQLite по умолчанию
func DefaultSQLiteConfig(path string) SQLiteConfig {
	return SQLiteConfig{
		Path:        path,
		BusyTimeout: 5 * time.Second,
		Timeout:     DefaultTimeout,
	}
}

func (c SQLiteConfig) dsn() string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)",
		c.Path, c.BusyTimeout.Milliseconds())
}

func NewSQLiteStorage(cfg SQLiteConfig) (*SQLiteStorage, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if err := migrations.Up(migrations.SQLite, cfg.dsn()); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite допускает одного писателя, запросы выстраиваются в очередь
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &SQLiteStorage{db: db, timeout: cfg.Timeout}, nil
}

// Save вставляет ссылку или перезаписывает истекшую с тем же кодом
func (s *SQLiteStorage) Save(ctx context.Context, link Link) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		INSERT INTO links (code, target_url, created_at, expires_at, seq)
		VALUES (?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM links))
		ON CONFLICT (code) DO UPDATE SET
			target_url = excluded.target_url,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			seq        = excluded.seq
		WHERE links.expires_at <= excluded.created_at
	`

	result, err := s.db.ExecContext(ctx, query,
		link.Code,
		link.TargetURL,
		link.CreatedAt.UnixNano(),
		link.ExpiresAt.UnixNano(),
	)
	if err != nil {
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
func (s *SQLiteStorage) Get(ctx context.Context, code string) (*Link, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `SELECT code, target_url, created_at, expires_at FROM links WHERE code = ?`

	var (
		link               Link
		created, expiresAt int64
	)
	err := s.db.QueryRowContext(ctx, query, code).Scan(&link.Code, &link.TargetURL, &created, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("querying link by code", err)
	}

	link.CreatedAt = time.Unix(0, created).UTC()
	link.ExpiresAt = time.Unix(0, expiresAt).UTC()
	return &link, nil
}

// List возвращает ссылки от новых к старым
func (s *SQLiteStorage) List(ctx context.Context, limit int) ([]Link, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// LIMIT -1 в SQLite означает отсутствие ограничения
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT code, target_url, created_at, expires_at
		FROM links
		ORDER BY created_at DESC, seq DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, unavailable("listing links", err)
	}
	defer rows.Close()

	links := []Link{}
	for rows.Next() {
		var (
			link               Link
			created, expiresAt int64
		)
		if err := rows.Scan(&link.Code, &link.TargetURL, &created, &expiresAt); err != nil {
			return nil, unavailable("scanning link", err)
		}
		link.CreatedAt = time.Unix(0, created).UTC()
		link.ExpiresAt = time.Unix(0, expiresAt).UTC()
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating links", err)
	}

	return links, nil
}

// DeleteExpired удаляет ссылки, истекшие к моменту before
func (s *SQLiteStorage) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `DELETE FROM links WHERE expires_at <= ?`, before.UnixNano())
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
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("pinging database", err)
	}
	return nil
}

// Close закрывает соединение с БД
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
