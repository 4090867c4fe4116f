// Пакет clock абстрагирует текущее время, чтобы тесты управляли им явно.
package clock

import (
	"sync"
	"time"
)

// Clock возвращает текущее время
type Clock interface {
	Now() time.Time
}

// Real использует системные часы
type Real struct{}

// Now возвращает time.Now() в UTC
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// Fake - часы, которые двигаются только вручную
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake создает часы, остановленные на момент t
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

// Now возвращает текущее показание часов
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance сдвигает часы вперед на d
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set переставляет часы на момент t
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}
