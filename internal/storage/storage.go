// Пакет storage хранит короткие ссылки.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Кастомные ошибки для реализаций хранилищ
var (
	ErrNotFound      = errors.New("link not found")
	ErrDuplicateCode = errors.New("short code already exists")
	ErrUnavailable   = errors.New("storage unavailable")
)

// DefaultTimeout ограничивает время одного обращения к хранилищу
const DefaultTimeout = 5 * time.Second

// Link представляет собой сохраненную короткую ссылку
type Link struct {
	Code      string    `json:"code"`
	TargetURL string    `json:"target_url"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired проверяет, истек ли срок жизни ссылки на момент now.
// Ссылка истекает ровно в ExpiresAt.
func (l *Link) IsExpired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// Storage определяет интерфейс хранилища ссылок
type Storage interface {
	// Save атомарно вставляет ссылку, если код свободен или занят истекшей
	// на момент link.CreatedAt ссылкой. Иначе возвращает ErrDuplicateCode.
	Save(ctx context.Context, link Link) error
	// Get возвращает ссылку по коду независимо от срока жизни.
	Get(ctx context.Context, code string) (*Link, error)
	// List возвращает ссылки от новых к старым; limit <= 0 - без ограничения.
	List(ctx context.Context, limit int) ([]Link, error)
	// DeleteExpired удаляет ссылки с ExpiresAt <= before.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// unavailable оборачивает ошибку драйвера в ErrUnavailable
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
