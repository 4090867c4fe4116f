package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/BuzzLyutic/shortlink/internal/service"
)

// maxBodyBytes ограничивает размер тела POST /api/shorten
const maxBodyBytes = 1 << 20

type Handler struct {
	service *service.Shortener
	logger  *slog.Logger
}

func New(svc *service.Shortener, logger *slog.Logger) *Handler {
	return &Handler{
		service: svc,
		logger:  logger,
	}
}

// Метод регистрирует все пути к данному мультиплексеру
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// API эндпоинты
	mux.HandleFunc("POST /api/shorten", h.Shorten)
	mux.HandleFunc("GET /api/history", h.History)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /{code}", h.Redirect)

	// Ответы самого мультиплексера тоже в JSON
	mux.HandleFunc("/api/shorten", h.methodNotAllowed(http.MethodPost))
	mux.HandleFunc("/api/history", h.methodNotAllowed(http.MethodGet, http.MethodHead))
	mux.HandleFunc("/", h.NotFound)
}

// NotFound отвечает на пути без маршрута
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, http.StatusNotFound, "not_found", "Route not found")
}

func (h *Handler) methodNotAllowed(allowed ...string) http.HandlerFunc {
	allow := strings.Join(allowed, ", ")
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", allow)
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method "+r.Method+" is not allowed")
	}
}

// Обрабатывает запросы POST /api/shorten
func (h *Handler) Shorten(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req ShortenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "Request body is too large")
			return
		}
		h.writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body")
		return
	}

	link, err := h.service.Shorten(r.Context(), service.ShortenRequest{
		URL:              req.URL,
		ExpiresInMinutes: req.ExpiresInMinutes,
		PreferredCode:    req.PreferredCode,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newLinkResponse(link))
}

// Обрабатывает запросы GET /api/history
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	links, err := h.service.History(r.Context(), limit)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	resp := make([]LinkResponse, 0, len(links))
	for i := range links {
		resp = append(resp, newLinkResponse(&links[i]))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Обрабатывает запросы GET /{code}
func (h *Handler) Redirect(w http.ResponseWriter, r *http.Request) {
	target, err := h.service.Resolve(r.Context(), r.PathValue("code"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// Обрабатывает GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ping(r.Context()); err != nil {
		h.logger.Error("health check failed",
			slog.String("request_id", RequestID(r.Context())),
			slog.Any("error", err),
		)
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Данный метод отображает ошибки сервиса на HTTP ответы
func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrEmptyURL):
		h.writeError(w, http.StatusBadRequest, "empty_url", "URL cannot be empty")
	case errors.Is(err, service.ErrInvalidURL):
		h.writeError(w, http.StatusBadRequest, "invalid_url", err.Error())
	case errors.Is(err, service.ErrInvalidExpiry):
		h.writeError(w, http.StatusBadRequest, "invalid_expiry", err.Error())
	case errors.Is(err, service.ErrInvalidCode):
		h.writeError(w, http.StatusBadRequest, "invalid_code", err.Error())
	case errors.Is(err, service.ErrCodeConflict):
		h.writeError(w, http.StatusConflict, "code_conflict", "Short code is already in use")
	case errors.Is(err, service.ErrDuplicateCode):
		h.writeError(w, http.StatusConflict, "duplicate_code", "Short code collided, please retry")
	case errors.Is(err, service.ErrGenerationExhausted):
		h.writeError(w, http.StatusConflict, "generation_exhausted", "Failed to generate a free short code")
	case errors.Is(err, service.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Short URL not found")
	case errors.Is(err, service.ErrLinkExpired):
		h.writeError(w, http.StatusGone, "link_expired", "Short URL has expired")
	case errors.Is(err, service.ErrUnavailable):
		h.logger.Error("storage unavailable",
			slog.String("request_id", RequestID(r.Context())),
			slog.Any("error", err),
		)
		h.writeError(w, http.StatusServiceUnavailable, "unavailable", "Storage is temporarily unavailable")
	default:
		h.logger.Error("unexpected error",
			slog.String("request_id", RequestID(r.Context())),
			slog.Any("error", err),
		)
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

// Метод записывает JSON ответ
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", slog.Any("error", err))
	}
}

// Метод, записывающий сообщение об ошибке
func (h *Handler) writeError(w http.ResponseWriter, status int, errCode, message string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  errCode,
	})
}
