// Package wire описывает JSON-формы HTTP-контракта обмена отзывами.
package wire

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"feedback-sync/internal/domain"
)

// Feedback описывает запись отзыва в теле запроса и ответа.
type Feedback struct {
	MessageID    string         `json:"messageId"`
	FeedbackType string         `json:"feedbackType"`
	SessionID    string         `json:"sessionId,omitempty"`
	Timestamp    string         `json:"timestamp,omitempty"`
	Metadata     map[string]any `json:"metadata"`
}

// BatchRequest описывает тело POST /api/feedback/batch.
type BatchRequest struct {
	Feedbacks []Feedback `json:"feedbacks"`
}

// SubmitResponse описывает ответ POST /api/feedback.
type SubmitResponse struct {
	Success    bool   `json:"success"`
	FeedbackID int64  `json:"feedbackId"`
	MessageID  string `json:"messageId"`
}

// ItemError описывает ошибку одного элемента пакета.
type ItemError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// BatchResponse описывает ответ POST /api/feedback/batch.
type BatchResponse struct {
	Success    bool        `json:"success"`
	SavedCount int         `json:"savedCount"`
	TotalCount int         `json:"totalCount"`
	Errors     []ItemError `json:"errors"`
}

// GetResponse описывает ответ GET /api/feedback/{messageId}.
type GetResponse struct {
	Success  bool     `json:"success"`
	Feedback Feedback `json:"feedback"`
}

// Stats содержит агрегированные счётчики.
type Stats struct {
	Total    int64 `json:"total"`
	Positive int64 `json:"positive"`
	Negative int64 `json:"negative"`
	Days     int   `json:"days"`
}

// StatsResponse описывает ответ GET /api/feedback/stats.
type StatsResponse struct {
	Success bool  `json:"success"`
	Stats   Stats `json:"stats"`
}

// Health описывает ответ GET /api/health.
type Health struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ErrorResponse описывает тело любого неуспешного ответа.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// naive ISO 8601 без зоны трактуется как UTC
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

var errBadTimestamp = errors.New("invalid timestamp")

// FormatTime переводит время в RFC 3339 с наносекундами.
func FormatTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339Nano)
}

// ParseTime разбирает временную метку; пустая строка даёт нулевое время.
func ParseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %w: %q", domain.ErrValidation, errBadTimestamp, raw)
}

// ToRecord проверяет и переводит тело запроса в доменную запись.
// messageId сохраняется без изменений.
func (f Feedback) ToRecord() (domain.Record, error) {
	if strings.TrimSpace(f.MessageID) == "" {
		return domain.Record{}, domain.ErrMissingMessageID
	}
	kind, err := domain.ParseKind(f.FeedbackType)
	if err != nil {
		return domain.Record{}, err
	}
	ts, err := ParseTime(f.Timestamp)
	if err != nil {
		return domain.Record{}, err
	}
	return domain.Record{
		MessageID: f.MessageID,
		Kind:      kind,
		Timestamp: ts,
		SessionID: f.SessionID,
		Metadata:  domain.CloneMetadata(f.Metadata),
	}, nil
}

// FromRecord строит тело из доменной записи. nil-метаданные передаются пустым объектом.
func FromRecord(r domain.Record) Feedback {
	md := domain.CloneMetadata(r.Metadata)
	if md == nil {
		md = map[string]any{}
	}
	return Feedback{
		MessageID:    r.MessageID,
		FeedbackType: string(r.Kind),
		SessionID:    r.SessionID,
		Timestamp:    FormatTime(r.Timestamp),
		Metadata:     md,
	}
}

// FromBatchResult строит ответ пакетной отправки.
func FromBatchResult(res domain.BatchResult) BatchResponse {
	out := BatchResponse{
		Success:    true,
		SavedCount: res.Saved,
		TotalCount: res.Total,
		Errors:     make([]ItemError, 0, len(res.Errors)),
	}
	for _, e := range res.Errors {
		out.Errors = append(out.Errors, ItemError{Index: e.Index, Error: e.Error})
	}
	return out
}

// ToBatchResult переводит ответ пакетной отправки в доменный результат.
func (b BatchResponse) ToBatchResult() domain.BatchResult {
	res := domain.BatchResult{Saved: b.SavedCount, Total: b.TotalCount}
	for _, e := range b.Errors {
		res.Errors = append(res.Errors, domain.ItemError{Index: e.Index, Error: e.Error})
	}
	return res
}

// FromStats строит тело статистики.
func FromStats(st domain.Stats) Stats {
	return Stats{Total: st.Total, Positive: st.Positive, Negative: st.Negative, Days: st.WindowDays}
}

// ToStats переводит тело статистики в доменную форму.
func (s Stats) ToStats() domain.Stats {
	return domain.Stats{Total: s.Total, Positive: s.Positive, Negative: s.Negative, WindowDays: s.Days}
}

// FromHealth строит тело проверки состояния.
func FromHealth(h domain.Health) Health {
	return Health{Status: h.Status, Timestamp: FormatTime(h.Timestamp)}
}

// ToHealth переводит тело проверки состояния в доменную форму.
func (h Health) ToHealth() (domain.Health, error) {
	ts, err := ParseTime(h.Timestamp)
	if err != nil {
		return domain.Health{}, err
	}
	return domain.Health{Status: h.Status, Timestamp: ts}, nil
}
