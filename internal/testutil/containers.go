// Пакет testutil поднимает PostgreSQL и Redis для интеграционных тестов.
//
// Если задан DATABASE_URL / REDIS_URL, используется готовый сервер.
// Иначе запускается контейнер testcontainers. Тесты пропускаются
// при -short или если Docker недоступен.
package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresDSN возвращает строку подключения к пустой тестовой БД
func PostgresDSN(t *testing.T) string {
	t.Helper()

	if dsn := firstEnv("TEST_DATABASE_URL", "DATABASE_URL"); dsn != "" {
		return dsn
	}
	skipWithoutDocker(t)

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("shortlink"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		tc.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}
	return dsn
}

// RedisClient возвращает клиента к тестовому Redis
func RedisClient(t *testing.T) *redis.Client {
	t.Helper()

	url := firstEnv("TEST_REDIS_URL", "REDIS_URL")
	if url == "" {
		skipWithoutDocker(t)

		ctx := context.Background()
		container, err := tcredis.Run(ctx, "redis:7-alpine")
		if err != nil {
			t.Fatalf("failed to start redis container: %v", err)
		}
		t.Cleanup(func() {
			_ = container.Terminate(context.Background())
		})

		url, err = container.ConnectionString(ctx)
		if err != nil {
			t.Fatalf("failed to get redis endpoint: %v", err)
		}
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("failed to parse redis url: %v", err)
	}
	client := redis.NewClient(opts)
	t.Cleanup(func() {
		_ = client.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("failed to ping redis: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("failed to flush redis: %v", err)
	}
	return client
}

func skipWithoutDocker(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in -short mode")
	}
	tc.SkipIfProviderIsNotHealthy(t)
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
