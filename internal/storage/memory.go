package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryEntry struct {
	link Link
	seq  uint64 // порядок вставки, для сортировки ссылок с одинаковым CreatedAt
}

// MemoryStorage реализация хранилища в памяти
type MemoryStorage struct {
	mu     sync.RWMutex
	byCode map[string]memoryEntry
	seq    uint64
}

// NewMemoryStorage создает новое хранилище в памяти
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		byCode: make(map[string]memoryEntry),
	}
}

// Save хранит новую ссылку. Проверка и вставка идут под одной блокировкой.
func (s *MemoryStorage) Save(_ context.Context, link Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byCode[link.Code]; ok && !existing.link.IsExpired(link.CreatedAt) {
		return ErrDuplicateCode
	}

	s.seq++
	s.byCode[link.Code] = memoryEntry{link: link, seq: s.seq}
	return nil
}

// Get возвращает ссылку по коду
func (s *MemoryStorage) Get(_ context.Context, code string) (*Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.byCode[code]
	if !ok {
		return nil, ErrNotFound
	}

	// возвращается копия, чтобы избежать внешних изменений
	link := entry.link
	return &link, nil
}

// List возвращает ссылки от новых к старым
func (s *MemoryStorage) List(_ context.Context, limit int) ([]Link, error) {
	s.mu.RLock()
	entries := make([]memoryEntry, 0, len(s.byCode))
	for _, e := range s.byCode {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.link.CreatedAt.Equal(b.link.CreatedAt) {
			return a.link.CreatedAt.After(b.link.CreatedAt)
		}
		return a.seq > b.seq
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	links := make([]Link, len(entries))
	for i, e := range entries {
		links[i] = e.link
	}
	return links, nil
}

// DeleteExpired удаляет ссылки, истекшие к моменту before
func (s *MemoryStorage) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for code, e := range s.byCode {
		if !e.link.ExpiresAt.After(before) {
			delete(s.byCode, code)
			deleted++
		}
	}
	return deleted, nil
}

// Ping всегда успешен для хранилища в памяти
func (s *MemoryStorage) Ping(context.Context) error {
	return nil
}

// Close закрывает хранилище. Для хранения данных в памяти это не требуется
func (s *MemoryStorage) Close() error {
	return nil
}

// Len возвращает кол-во сохраненных ссылок (для тестов)
func (s *MemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byCode)
}
