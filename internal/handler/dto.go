// Пакет handler предоставляет хэндлеры для API укорачивания ссылок
package handler

import (
	"time"

	"github.com/BuzzLyutic/shortlink/internal/service"
)

// Тело запроса POST /api/shorten
type ShortenRequest struct {
	URL              string  `json:"url"`
	ExpiresInMinutes float64 `json:"expiresInMinutes"`
	PreferredCode    string  `json:"preferredCode,omitempty"`
}

// LinkResponse - ссылка в ответах shorten и history
type LinkResponse struct {
	Code      string    `json:"code"`
	ShortURL  string    `json:"shortUrl"`
	TargetURL string    `json:"targetUrl"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Expired   bool      `json:"expired"`
}

// Ответ ошибки
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func newLinkResponse(l *service.Link) LinkResponse {
	return LinkResponse{
		Code:      l.Code,
		ShortURL:  l.ShortURL,
		TargetURL: l.TargetURL,
		CreatedAt: l.CreatedAt.UTC(),
		ExpiresAt: l.ExpiresAt.UTC(),
		Expired:   l.Expired,
	}
}
