package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BuzzLyutic/shortlink/internal/clock"
	"github.com/BuzzLyutic/shortlink/internal/service"
	"github.com/BuzzLyutic/shortlink/internal/storage"
)

var startTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestHandler(t *testing.T, store storage.Storage) (*http.ServeMux, *clock.Fake) {
	t.Helper()
	if store == nil {
		store = storage.NewMemoryStorage()
	}
	clk := clock.NewFake(startTime)
	svc := service.New(store, service.Config{
		BaseURL: "http://localhost:5000",
		Clock:   clk,
	})

	h := New(svc, discardLogger())
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	return mux, clk
}

func doRequest(mux http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func shorten(t *testing.T, mux http.Handler, body string) LinkResponse {
	t.Helper()
	rec := doRequest(mux, http.MethodPost, "/api/shorten", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp LinkResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestHandler_Shorten(t *testing.T) {
	mux, _ := setupTestHandler(t, nil)

	t.Run("successful shorten", func(t *testing.T) {
		resp := shorten(t, mux, `{"url": "https://example.com/test", "expiresInMinutes": 60}`)

		assert.Len(t, resp.Code, 7)
		assert.Equal(t, "http://localhost:5000/"+resp.Code, resp.ShortURL)
		assert.Equal(t, "https://example.com/test", resp.TargetURL)
		assert.True(t, startTime.Equal(resp.CreatedAt))
		assert.True(t, startTime.Add(time.Hour).Equal(resp.ExpiresAt))
		assert.False(t, resp.Expired)
	})

	t.Run("timestamps are RFC 3339 UTC", func(t *testing.T) {
		rec := doRequest(mux, http.MethodPost, "/api/shorten", `{"url": "https://example.com/ts", "expiresInMinutes": 1.5}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var raw map[string]any
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&raw))
		assert.Equal(t, "2024-05-01T12:00:00Z", raw["createdAt"])
		assert.Equal(t, "2024-05-01T12:01:30Z", raw["expiresAt"])
		assert.Equal(t, false, raw["expired"])
	})

	t.Run("preferred code", func(t *testing.T) {
		resp := shorten(t, mux, `{"url": "https://example.com/mine", "expiresInMinutes": 5, "preferredCode": "mine"}`)
		assert.Equal(t, "mine", resp.Code)
		assert.Equal(t, "http://localhost:5000/mine", resp.ShortURL)
	})

	t.Run("unknown fields are ignored", func(t *testing.T) {
		shorten(t, mux, `{"url": "https://example.com/extra", "expiresInMinutes": 5, "extra": true}`)
	})

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantErr  string
	}{
		{name: "invalid JSON", body: `{invalid}`, wantCode: http.StatusBadRequest, wantErr: "invalid_json"},
		{name: "empty URL", body: `{"url": "", "expiresInMinutes": 60}`, wantCode: http.StatusBadRequest, wantErr: "empty_url"},
		{name: "invalid URL format", body: `{"url": "not-a-url", "expiresInMinutes": 60}`, wantCode: http.StatusBadRequest, wantErr: "invalid_url"},
		{name: "missing expiry", body: `{"url": "https://example.com"}`, wantCode: http.StatusBadRequest, wantErr: "invalid_expiry"},
		{name: "negative expiry", body: `{"url": "https://example.com", "expiresInMinutes": -1}`, wantCode: http.StatusBadRequest, wantErr: "invalid_expiry"},
		{name: "invalid preferred code", body: `{"url": "https://example.com", "expiresInMinutes": 5, "preferredCode": "a/b"}`, wantCode: http.StatusBadRequest, wantErr: "invalid_code"},
		{name: "taken preferred code", body: `{"url": "https://example.com", "expiresInMinutes": 5, "preferredCode": "mine"}`, wantCode: http.StatusConflict, wantErr: "code_conflict"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(mux, http.MethodPost, "/api/shorten", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			resp := decodeError(t, rec)
			assert.Equal(t, tt.wantErr, resp.Code)
			assert.NotEmpty(t, resp.Error)
		})
	}

	t.Run("invalid URL message", func(t *testing.T) {
		rec := doRequest(mux, http.MethodPost, "/api/shorten", `{"url": "not-a-url", "expiresInMinutes": 60}`)
		resp := decodeError(t, rec)
		assert.Contains(t, resp.Error, "invalid URL")
	})

	t.Run("body too large", func(t *testing.T) {
		body := `{"url": "https://example.com/` + strings.Repeat("a", maxBodyBytes) + `", "expiresInMinutes": 5}`
		rec := doRequest(mux, http.MethodPost, "/api/shorten", body)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Equal(t, "body_too_large", decodeError(t, rec).Code)
	})
}

func TestHandler_Redirect(t *testing.T) {
	mux, clk := setupTestHandler(t, nil)
	link := shorten(t, mux, `{"url": "https://example.com/redirect-test", "expiresInMinutes": 1}`)

	t.Run("successful redirect", func(t *testing.T) {
		rec := doRequest(mux, http.MethodGet, "/"+link.Code, "")
		assert.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "https://example.com/redirect-test", rec.Header().Get("Location"))
	})

	t.Run("not found", func(t *testing.T) {
		rec := doRequest(mux, http.MethodGet, "/nonexist12", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "not_found", decodeError(t, rec).Code)
	})

	t.Run("invalid code format", func(t *testing.T) {
		rec := doRequest(mux, http.MethodGet, "/favicon.ico", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("expired link", func(t *testing.T) {
		clk.Advance(time.Minute)
		rec := doRequest(mux, http.MethodGet, "/"+link.Code, "")
		assert.Equal(t, http.StatusGone, rec.Code)
		assert.Equal(t, "link_expired", decodeError(t, rec).Code)
	})
}

func TestHandler_History(t *testing.T) {
	mux, clk := setupTestHandler(t, nil)

	t.Run("empty history is an array", func(t *testing.T) {
		rec := doRequest(mux, http.MethodGet, "/api/history", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, rec.Body.String())
	})

	var codes []string
	for i := 1; i <= 3; i++ {
		l := shorten(t, mux, fmt.Sprintf(`{"url": "https://example.com/%d", "expiresInMinutes": 3}`, i))
		codes = append(codes, l.Code)
		clk.Advance(time.Minute)
	}

	t.Run("newest first with expired flag", func(t *testing.T) {
		rec := doRequest(mux, http.MethodGet, "/api/history", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp []LinkResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		require.Len(t, resp, 3)

		assert.Equal(t, codes[2], resp[0].Code)
		assert.Equal(t, codes[1], resp[1].Code)
		assert.Equal(t, codes[0], resp[2].Code)

		// Сейчас t0+3м: первая ссылка истекла ровно сейчас
		assert.False(t, resp[0].Expired)
		assert.False(t, resp[1].Expired)
		assert.True(t, resp[2].Expired)
	})

	t.Run("limit", func(t *testing.T) {
		rec := doRequest(mux, http.MethodGet, "/api/history?limit=2", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp []LinkResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		require.Len(t, resp, 2)
		assert.Equal(t, codes[2], resp[0].Code)
	})

	t.Run("invalid limit", func(t *testing.T) {
		rec := doRequest(mux, http.MethodGet, "/api/history?limit=abc", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_limit", decodeError(t, rec).Code)
	})
}

// brokenStorage имитирует недоступное хранилище
type brokenStorage struct {
	storage.Storage
}

func (brokenStorage) unavailable() error {
	return fmt.Errorf("test: %w: connection refused", storage.ErrUnavailable)
}

func (b brokenStorage) Save(context.Context, storage.Link) error { return b.unavailable() }

func (b brokenStorage) Get(context.Context, string) (*storage.Link, error) {
	return nil, b.unavailable()
}

func (b brokenStorage) List(context.Context, int) ([]storage.Link, error) {
	return nil, b.unavailable()
}

func (b brokenStorage) Ping(context.Context) error { return b.unavailable() }

func TestHandler_StorageUnavailable(t *testing.T) {
	mux, _ := setupTestHandler(t, brokenStorage{})

	tests := []struct {
		name   string
		method string
		target string
		body   string
	}{
		{name: "shorten", method: http.MethodPost, target: "/api/shorten", body: `{"url": "https://example.com", "expiresInMinutes": 5}`},
		{name: "redirect", method: http.MethodGet, target: "/abcdefg"},
		{name: "history", method: http.MethodGet, target: "/api/history"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(mux, tt.method, tt.target, tt.body)
			assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
			assert.Equal(t, "unavailable", decodeError(t, rec).Code)
		})
	}
}

func TestHandler_Health(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		mux, _ := setupTestHandler(t, nil)
		rec := doRequest(mux, http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status": "ok"}`, rec.Body.String())
	})

	t.Run("storage down", func(t *testing.T) {
		mux, _ := setupTestHandler(t, brokenStorage{})
		rec := doRequest(mux, http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestHandler_UnknownRoutes(t *testing.T) {
	mux, _ := setupTestHandler(t, nil)

	tests := []struct {
		name      string
		method    string
		target    string
		wantCode  int
		wantErr   string
		wantAllow string
	}{
		{name: "root", method: http.MethodGet, target: "/", wantCode: http.StatusNotFound, wantErr: "not_found"},
		{name: "nested path", method: http.MethodGet, target: "/api/unknown", wantCode: http.StatusNotFound, wantErr: "not_found"},
		{name: "GET shorten", method: http.MethodGet, target: "/api/shorten", wantCode: http.StatusMethodNotAllowed, wantErr: "method_not_allowed", wantAllow: "POST"},
		{name: "POST history", method: http.MethodPost, target: "/api/history", wantCode: http.StatusMethodNotAllowed, wantErr: "method_not_allowed", wantAllow: "GET, HEAD"},
		{name: "DELETE shorten", method: http.MethodDelete, target: "/api/shorten", wantCode: http.StatusMethodNotAllowed, wantErr: "method_not_allowed", wantAllow: "POST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(mux, tt.method, tt.target, "")
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Equal(t, tt.wantAllow, rec.Header().Get("Allow"))

			resp := decodeError(t, rec)
			assert.Equal(t, tt.wantErr, resp.Code)
			assert.NotEmpty(t, resp.Error)
		})
	}

	t.Run("known routes still win", func(t *testing.T) {
		rec := doRequest(mux, http.MethodPost, "/api/shorten", `{"url": "https://example.com", "expiresInMinutes": 5}`)
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = doRequest(mux, http.MethodGet, "/api/history", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestMiddleware_Logging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	var seenID string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = RequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	})

	wrapped := Logging(logger)(handler)

	t.Run("generates request id", func(t *testing.T) {
		buf.Reset()
		rec := doRequest(wrapped, http.MethodGet, "/test", "")

		id := rec.Header().Get(RequestIDHeader)
		assert.NotEmpty(t, id)
		assert.Equal(t, id, seenID)

		out := buf.String()
		assert.Contains(t, out, "http request")
		assert.Contains(t, out, "method=GET")
		assert.Contains(t, out, "status=418")
		assert.Contains(t, out, "request_id="+id)
	})

	t.Run("keeps incoming request id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(RequestIDHeader, "req-42")
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)

		assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
		assert.Equal(t, "req-42", seenID)
	})
}

func TestMiddleware_Recovery(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	wrapped := Recovery(discardLogger())(handler)

	// Не должен запаниковать
	rec := doRequest(wrapped, http.MethodGet, "/test", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", decodeError(t, rec).Code)
}

func TestMiddleware_CORS(t *testing.T) {
	mux, _ := setupTestHandler(t, nil)
	wrapped := CORS([]string{"http://localhost:3000"})(mux)

	t.Run("preflight from allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/shorten", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "Content-Type")
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("other origin is not allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "http://evil.example")
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

// Бенчмарки

func BenchmarkHandler_Shorten(b *testing.B) {
	svc := service.New(storage.NewMemoryStorage(), service.Config{BaseURL: "http://localhost:5000"})
	mux := http.NewServeMux()
	New(svc, discardLogger()).RegisterRoutes(mux)
	body := []byte(`{"url": "https://example.com/bench", "expiresInMinutes": 60}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/shorten", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
	}
}

func BenchmarkHandler_Redirect(b *testing.B) {
	svc := service.New(storage.NewMemoryStorage(), service.Config{BaseURL: "http://localhost:5000"})
	mux := http.NewServeMux()
	New(svc, discardLogger()).RegisterRoutes(mux)

	link, err := svc.Shorten(context.Background(), service.ShortenRequest{URL: "https://example.com/bench", ExpiresInMinutes: 60})
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodGet, "/"+link.Code, nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
	}
}
