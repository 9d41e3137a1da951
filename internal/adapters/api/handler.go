// Package api реализует серверную сторону HTTP-контракта отзывов.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"feedback-sync/internal/adapters/wire"
	"feedback-sync/internal/domain"
	"feedback-sync/internal/usecase/feedback"
)

// MaxBodyBytes ограничивает размер тела одиночного запроса.
const MaxBodyBytes = 1 << 20

// DefaultBatchBodyBytes ограничивает тело пакетного запроса по умолчанию.
const DefaultBatchBodyBytes = 16 << 20

const (
	msgInternal      = "Internal server error"
	msgInvalidBody   = "Invalid request body"
	msgInvalidBatch  = `Invalid request body. Expected {"feedbacks": [...]}`
	msgInvalidItem   = "Invalid feedback data"
	msgNotFound      = "Feedback not found"
	msgInvalidDays   = "Invalid days parameter"
	msgMissingFields = "Missing required fields: messageId, feedbackType"
)

// Service описывает серверное хранилище, которым пользуется обработчик.
type Service interface {
	Upsert(ctx context.Context, record domain.Record, origin domain.Origin) (int64, error)
	UpsertBatch(ctx context.Context, records []domain.Record) domain.BatchResult
	Get(ctx context.Context, messageID string) (domain.Record, error)
	AggregateStats(ctx context.Context, windowDays int, sessionID string) (domain.Stats, error)
	Health() domain.Health
	Ready(ctx context.Context) domain.Health
}

var _ Service = (*feedback.Service)(nil)

// Handler обслуживает эндпоинты /api/feedback и /api/health.
type Handler struct {
	svc Service
	log zerolog.Logger

	batchBodyBytes int64
}

// Option настраивает Handler.
type Option func(*Handler)

// WithBatchBodyLimit задаёт предел тела POST /api/feedback/batch; n <= 0 оставляет значение по умолчанию.
func WithBatchBodyLimit(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.batchBodyBytes = n
		}
	}
}

// NewHandler создаёт обработчик.
func NewHandler(svc Service, logger zerolog.Logger, opts ...Option) *Handler {
	h := &Handler{svc: svc, log: logger, batchBodyBytes: DefaultBatchBodyBytes}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes монтирует маршруты на роутер.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/feedback", h.submit)
		r.Post("/feedback/batch", h.submitBatch)
		r.Get("/feedback/stats", h.stats)
		r.Get("/feedback/{messageId}", h.get)
		r.Get("/health", h.health)
		r.Get("/health/ready", h.ready)
	})
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	defer r.Body.Close()

	var req wire.Feedback
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	if strings.TrimSpace(req.MessageID) == "" || strings.TrimSpace(req.FeedbackType) == "" {
		writeError(w, http.StatusBadRequest, msgMissingFields)
		return
	}
	record, err := req.ToRecord()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := h.svc.Upsert(r.Context(), record, domain.Origin{
		UserAgent: r.UserAgent(),
		IPAddress: remoteIP(r),
	})
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error().Err(err).Str("message_id", record.MessageID).Msg("api: ошибка сохранения отзыва")
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	writeJSONStatus(w, http.StatusCreated, wire.SubmitResponse{Success: true, FeedbackID: id, MessageID: record.MessageID})
}

type batchEnvelope struct {
	Feedbacks *[]json.RawMessage `json:"feedbacks"`
}

func (h *Handler) submitBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.batchBodyBytes)
	defer r.Body.Close()

	var env batchEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil || env.Feedbacks == nil {
		writeError(w, http.StatusBadRequest, msgInvalidBatch)
		return
	}
	items := *env.Feedbacks

	// индексы исходного пакета для записей, прошедших разбор
	var (
		records   []domain.Record
		positions []int
		itemErrs  []domain.ItemError
	)
	for i, raw := range items {
		var item wire.Feedback
		if err := json.Unmarshal(raw, &item); err != nil {
			itemErrs = append(itemErrs, domain.ItemError{Index: i, Error: msgInvalidItem})
			continue
		}
		record, err := item.ToRecord()
		if err != nil {
			itemErrs = append(itemErrs, domain.ItemError{Index: i, Error: err.Error()})
			continue
		}
		records = append(records, record)
		positions = append(positions, i)
	}

	res := h.svc.UpsertBatch(r.Context(), records)
	for _, e := range res.Errors {
		itemErrs = append(itemErrs, domain.ItemError{Index: positions[e.Index], Error: e.Error})
	}
	sort.Slice(itemErrs, func(a, b int) bool { return itemErrs[a].Index < itemErrs[b].Index })

	result := domain.BatchResult{Saved: res.Saved, Total: len(items), Errors: itemErrs}
	if len(itemErrs) > 0 {
		h.log.Info().Int("saved", result.Saved).Int("total", result.Total).Int("errors", len(itemErrs)).Msg("api: пакет сохранён частично")
	}
	writeJSONStatus(w, http.StatusOK, wire.FromBatchResult(result))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageId")
	if r.URL.RawPath != "" {
		// chi сопоставляет экранированный путь
		if unescaped, err := url.PathUnescape(messageID); err == nil {
			messageID = unescaped
		}
	}
	record, err := h.svc.Get(r.Context(), messageID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, msgNotFound)
		case errors.Is(err, domain.ErrValidation):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.log.Error().Err(err).Str("message_id", messageID).Msg("api: ошибка чтения отзыва")
			writeError(w, http.StatusInternalServerError, msgInternal)
		}
		return
	}
	writeJSONStatus(w, http.StatusOK, wire.GetResponse{Success: true, Feedback: wire.FromRecord(record)})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	days := domain.DefaultStatsWindowDays
	if raw := strings.TrimSpace(r.URL.Query().Get("days")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, msgInvalidDays)
			return
		}
		days = parsed
	}
	st, err := h.svc.AggregateStats(r.Context(), days, r.URL.Query().Get("sessionId"))
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			writeError(w, http.StatusBadRequest, msgInvalidDays)
			return
		}
		h.log.Error().Err(err).Msg("api: ошибка подсчёта статистики")
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	writeJSONStatus(w, http.StatusOK, wire.StatsResponse{Success: true, Stats: wire.FromStats(st)})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSONStatus(w, http.StatusOK, wire.FromHealth(h.svc.Health()))
}

func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	status := h.svc.Ready(r.Context())
	code := http.StatusOK
	if status.Status != feedback.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSONStatus(w, code, wire.FromHealth(status))
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSONStatus(w, status, wire.ErrorResponse{Success: false, Error: msg})
}
