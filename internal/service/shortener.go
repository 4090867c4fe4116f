// Пакет service реализует бизнес-логику для укорачивания ссылок.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/BuzzLyutic/shortlink/internal/clock"
	"github.com/BuzzLyutic/shortlink/internal/shortcode"
	"github.com/BuzzLyutic/shortlink/internal/storage"
)

// Кастомные ошибки, возвращаемые сервисом
var (
	ErrEmptyURL      = errors.New("URL cannot be empty")
	ErrInvalidURL    = errors.New("invalid URL")
	ErrInvalidExpiry = errors.New("expiresInMinutes must be a positive number")
	ErrLinkExpired   = errors.New("link has expired")

	ErrInvalidCode         = shortcode.ErrInvalidCode
	ErrCodeConflict        = shortcode.ErrCodeConflict
	ErrGenerationExhausted = shortcode.ErrGenerationExhausted

	ErrNotFound      = storage.ErrNotFound
	ErrDuplicateCode = storage.ErrDuplicateCode
	ErrUnavailable   = storage.ErrUnavailable
)

const (
	maxURLLength = 2048
	saveAttempts = 2 // первая запись и один повтор при гонке за код

	DefaultHistoryLimit = 100
)

// Config содержит конфиг сервиса
type Config struct {
	BaseURL      string        // Базовый URL для коротких ссылок
	CodeLength   int           // Длина случайного кода
	HistoryLimit int           // Макс. кол-во ссылок в истории
	MaxTTL       time.Duration // Макс. срок жизни ссылки, 0 - без ограничения
	Clock        clock.Clock   // nil - системные часы
}

// Shortener предоставляет операции для укорачивания ссылок
type Shortener struct {
	storage   storage.Storage
	generator *shortcode.Generator
	clock     clock.Clock
	config    Config
}

// New создает новый сервис Shortener
func New(store storage.Storage, config Config) *Shortener {
	if config.Clock == nil {
		config.Clock = clock.Real{}
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = DefaultHistoryLimit
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	s := &Shortener{
		storage: store,
		clock:   config.Clock,
		config:  config,
	}
	s.generator = shortcode.NewGenerator(config.CodeLength, s.codeInUse)
	return s
}

// ShortenRequest - входные данные для Shorten
type ShortenRequest struct {
	URL              string
	ExpiresInMinutes float64
	PreferredCode    string // пусто - сгенерировать код
}

// Link - ссылка в том виде, в каком ее видит клиент
type Link struct {
	Code      string
	ShortURL  string
	TargetURL string
	CreatedAt time.Time
	ExpiresAt time.Time
	Expired   bool
}

// Shorten создает короткую ссылку со сроком жизни req.ExpiresInMinutes
func (s *Shortener) Shorten(ctx context.Context, req ShortenRequest) (*Link, error) {
	target := strings.TrimSpace(req.URL)
	if err := validateURL(target); err != nil {
		return nil, err
	}

	ttl, err := s.validateExpiry(req.ExpiresInMinutes)
	if err != nil {
		return nil, err
	}

	preferred := strings.TrimSpace(req.PreferredCode)

	// Генерация кода и запись не под одной блокировкой: между ними код может
	// занять другой запрос. Хранилище ловит это атомарно, здесь - повтор.
	for attempt := 0; attempt < saveAttempts; attempt++ {
		code, err := s.generator.Generate(ctx, preferred)
		if err != nil {
			return nil, err
		}

		// PostgreSQL хранит время с точностью до микросекунд
		now := s.clock.Now().Truncate(time.Microsecond)
		link := storage.Link{
			Code:      code,
			TargetURL: target,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		}

		err = s.storage.Save(ctx, link)
		if err == nil {
			return s.toLink(link, now), nil
		}
		if !errors.Is(err, storage.ErrDuplicateCode) {
			return nil, fmt.Errorf("saving link: %w", err)
		}
	}

	if preferred != "" {
		return nil, ErrCodeConflict
	}
	return nil, ErrDuplicateCode
}

// Resolve возвращает целевой URL по коду активной ссылки
func (s *Shortener) Resolve(ctx context.Context, code string) (string, error) {
	if !shortcode.IsValid(code) {
		return "", ErrNotFound
	}

	link, err := s.storage.Get(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("getting link: %w", err)
	}

	if link.IsExpired(s.clock.Now()) {
		return "", ErrLinkExpired
	}

	return link.TargetURL, nil
}

// History возвращает ссылки от новых к старым, включая истекшие.
// limit <= 0 или больше HistoryLimit приводится к HistoryLimit.
func (s *Shortener) History(ctx context.Context, limit int) ([]Link, error) {
	if limit <= 0 || limit > s.config.HistoryLimit {
		limit = s.config.HistoryLimit
	}

	stored, err := s.storage.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing links: %w", err)
	}

	now := s.clock.Now()
	links := make([]Link, len(stored))
	for i, l := range stored {
		links[i] = *s.toLink(l, now)
	}
	return links, nil
}

// Ping проверяет доступность хранилища
func (s *Shortener) Ping(ctx context.Context) error {
	return s.storage.Ping(ctx)
}

// codeInUse сообщает генератору, занят ли код активной ссылкой
func (s *Shortener) codeInUse(ctx context.Context, code string) (bool, error) {
	link, err := s.storage.Get(ctx, code)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !link.IsExpired(s.clock.Now()), nil
}

// validateExpiry переводит минуты в time.Duration
func (s *Shortener) validateExpiry(minutes float64) (time.Duration, error) {
	if math.IsNaN(minutes) || math.IsInf(minutes, 0) || minutes <= 0 {
		return 0, ErrInvalidExpiry
	}

	ns := minutes * float64(time.Minute)
	if ns >= math.MaxInt64 {
		return 0, fmt.Errorf("%w: value is too large", ErrInvalidExpiry)
	}

	ttl := time.Duration(ns)
	if ttl <= 0 {
		return 0, ErrInvalidExpiry
	}
	if s.config.MaxTTL > 0 && ttl > s.config.MaxTTL {
		return 0, fmt.Errorf("%w: must not exceed %g minutes", ErrInvalidExpiry, s.config.MaxTTL.Minutes())
	}
	return ttl, nil
}

// validateURL проверяет, что URL абсолютный http(s) с хостом
func validateURL(rawURL string) error {
	if rawURL == "" {
		return ErrEmptyURL
	}
	if len(rawURL) > maxURLLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidURL, maxURLLength)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ErrInvalidURL
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return ErrInvalidURL
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ErrInvalidURL
	}

	return nil
}

func (s *Shortener) toLink(l storage.Link, now time.Time) *Link {
	return &Link{
		Code:      l.Code,
		ShortURL:  s.buildShortURL(l.Code),
		TargetURL: l.TargetURL,
		CreatedAt: l.CreatedAt,
		ExpiresAt: l.ExpiresAt,
		Expired:   l.IsExpired(now),
	}
}

// buildShortURL собирает полную укороченную строку
func (s *Shortener) buildShortURL(code string) string {
	if s.config.BaseURL == "" {
		return code
	}
	return s.config.BaseURL + "/" + code
}
