package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BuzzLyutic/shortlink/internal/clock"
)

// DefaultCacheTTL - время жизни записи в кэше по умолчанию
const DefaultCacheTTL = time.Hour

// RedisClient - подмножество команд go-redis, нужное кэшу
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Cached оборачивает хранилище кэшем Redis для чтения по коду.
// Save пишет в хранилище, затем в кэш. Запись в кэше не живет дольше ссылки,
// поэтому повторно выданный код не отдаст старую цель.
// Ошибки Redis только логируются: источник истины - backend.
type Cached struct {
	backend   Storage
	client    RedisClient
	clock     clock.Clock
	ttl       time.Duration
	keyPrefix string
	logger    *slog.Logger
}

// NewCached создает кэширующее хранилище (ttl <= 0 - DefaultCacheTTL, clk nil - системные часы)
func NewCached(backend Storage, client RedisClient, clk clock.Clock, ttl time.Duration, logger *slog.Logger) *Cached {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Cached{
		backend:   backend,
		client:    client,
		clock:     clk,
		ttl:       ttl,
		keyPrefix: "link:",
		logger:    logger,
	}
}

func (c *Cached) Save(ctx context.Context, link Link) error {
	if err := c.backend.Save(ctx, link); err != nil {
		return err
	}
	c.store(ctx, &link)
	return nil
}

func (c *Cached) Get(ctx context.Context, code string) (*Link, error) {
	data, err := c.client.Get(ctx, c.keyPrefix+code).Bytes()
	switch {
	case err == nil:
		var link Link
		if err := json.Unmarshal(data, &link); err == nil {
			return &link, nil
		}
		c.logger.Warn("corrupted cache entry", slog.String("code", code))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("cache read failed", slog.String("code", code), slog.Any("error", err))
	}

	link, err := c.backend.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	c.store(ctx, link)
	return link, nil
}

// store кладет ссылку в кэш до min(ttl, ExpiresAt)
func (c *Cached) store(ctx context.Context, link *Link) {
	ttl := link.ExpiresAt.Sub(c.clock.Now())
	if ttl <= 0 {
		return
	}
	if ttl > c.ttl {
		ttl = c.ttl
	}

	data, err := json.Marshal(link)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.keyPrefix+link.Code, data, ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", slog.String("code", link.Code), slog.Any("error", err))
	}
}

func (c *Cached) List(ctx context.Context, limit int) ([]Link, error) {
	return c.backend.List(ctx, limit)
}

// DeleteExpired не трогает кэш: истекшие записи в нем уже не живут
func (c *Cached) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return c.backend.DeleteExpired(ctx, before)
}

func (c *Cached) Ping(ctx context.Context) error {
	return c.backend.Ping(ctx)
}

// Close закрывает backend и клиент Redis, если он закрываем
func (c *Cached) Close() error {
	err := c.backend.Close()
	if closer, ok := c.client.(io.Closer); ok {
		err = errors.Join(err, closer.Close())
	}
	return err
}
