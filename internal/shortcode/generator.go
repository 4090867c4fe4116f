// Пакет shortcode предоставляет генерацию и валидацию коротких кодов
package shortcode

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
)

const (
	// DefaultLength - длина случайного кода по умолчанию.
	// 62^7 ≈ 3.5e12 комбинаций, коллизии редки даже при миллионах активных ссылок.
	DefaultLength = 7

	// MaxAttempts - сколько раз перегенерировать код при коллизии
	MaxAttempts = 5

	// Ограничения на длину кода, предложенного пользователем
	MinPreferredLength = 3
	MaxPreferredLength = 32
)

// Алфавит случайных кодов (base62)
const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var alphabetLen = big.NewInt(int64(len(alphabet)))

// Ошибки генератора
var (
	ErrInvalidCode         = errors.New("invalid short code")
	ErrCodeConflict        = errors.New("short code already in use")
	ErrGenerationExhausted = errors.New("failed to generate unique code after max attempts")
)

// InUseFunc сообщает, занят ли код активной (не истекшей) ссылкой
type InUseFunc func(ctx context.Context, code string) (bool, error)

// Generator выдает коды: либо предложенный пользователем, либо случайный
type Generator struct {
	length int
	random io.Reader
	inUse  InUseFunc
}

// NewGenerator создает генератор с кодами длины length (DefaultLength если <= 0)
func NewGenerator(length int, inUse InUseFunc) *Generator {
	if length <= 0 {
		length = DefaultLength
	}
	return &Generator{
		length: length,
		random: rand.Reader,
		inUse:  inUse,
	}
}

// Length возвращает длину случайных кодов
func (g *Generator) Length() int {
	return g.length
}

// Generate возвращает код для новой ссылки.
// Непустой preferred проверяется на формат и занятость и возвращается без изменений.
// Иначе тянется случайный код, до MaxAttempts попыток.
func (g *Generator) Generate(ctx context.Context, preferred string) (string, error) {
	if preferred != "" {
		if err := ValidatePreferred(preferred); err != nil {
			return "", err
		}
		taken, err := g.taken(ctx, preferred)
		if err != nil {
			return "", err
		}
		if taken {
			return "", ErrCodeConflict
		}
		return preferred, nil
	}

	for attempt := 0; attempt < MaxAttempts; attempt++ {
		code, err := g.Random()
		if err != nil {
			return "", err
		}
		taken, err := g.taken(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}

	return "", ErrGenerationExhausted
}

// Random тянет случайный код без проверки занятости
func (g *Generator) Random() (string, error) {
	result := make([]byte, g.length)
	for i := range result {
		n, err := rand.Int(g.random, alphabetLen)
		if err != nil {
			return "", fmt.Errorf("reading random source: %w", err)
		}
		result[i] = alphabet[n.Int64()]
	}
	return string(result), nil
}

func (g *Generator) taken(ctx context.Context, code string) (bool, error) {
	if g.inUse == nil {
		return false, nil
	}
	taken, err := g.inUse(ctx, code)
	if err != nil {
		return false, fmt.Errorf("checking code %q: %w", code, err)
	}
	return taken, nil
}

// ValidatePreferred проверяет код, предложенный пользователем
func ValidatePreferred(code string) error {
	if len(code) < MinPreferredLength || len(code) > MaxPreferredLength {
		return fmt.Errorf("%w: length must be between %d and %d", ErrInvalidCode, MinPreferredLength, MaxPreferredLength)
	}
	for _, c := range code {
		if !isValidChar(c) {
			return fmt.Errorf("%w: only letters, digits, '-' and '_' are allowed", ErrInvalidCode)
		}
	}
	return nil
}

// IsValid проверяет, может ли строка вообще быть коротким кодом
func IsValid(code string) bool {
	return ValidatePreferred(code) == nil
}

// isValidChar проверяет наличие символа в допустимом наборе
func isValidChar(c rune) bool {
	return (c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') ||
		c == '_' || c == '-'
}
