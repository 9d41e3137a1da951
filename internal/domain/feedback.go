package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind описывает оценку пользователя.
type Kind string

const (
	KindPositive Kind = "positive"
	KindNegative Kind = "negative"
)

// DefaultStatsWindowDays используется, когда окно статистики не задано.
const DefaultStatsWindowDays = 30

var (
	// ErrValidation объединяет все ошибки валидации входных данных.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidKind возвращается для оценки вне допустимого набора.
	ErrInvalidKind = fmt.Errorf("%w: invalid feedbackType, must be %q or %q", ErrValidation, KindPositive, KindNegative)

	// ErrMissingMessageID возвращается, если не передан идентификатор сообщения.
	ErrMissingMessageID = fmt.Errorf("%w: messageId is required", ErrValidation)

	// ErrNotFound возвращается, когда отзыв для сообщения отсутствует.
	ErrNotFound = errors.New("feedback not found")
)

// ParseKind проверяет строковое значение оценки. Допустимы только точные значения.
func ParseKind(raw string) (Kind, error) {
	switch Kind(raw) {
	case KindPositive:
		return KindPositive, nil
	case KindNegative:
		return KindNegative, nil
	default:
		return "", ErrInvalidKind
	}
}

// Valid сообщает, входит ли оценка в допустимый набор.
func (k Kind) Valid() bool {
	return k == KindPositive || k == KindNegative
}

// Record представляет отзыв пользователя на одно сообщение.
type Record struct {
	MessageID string
	Kind      Kind
	Timestamp time.Time
	SessionID string
	Metadata  map[string]any
}

// Validate проверяет идентификатор и оценку.
func (r Record) Validate() error {
	if strings.TrimSpace(r.MessageID) == "" {
		return ErrMissingMessageID
	}
	if !r.Kind.Valid() {
		return ErrInvalidKind
	}
	return nil
}

// Origin хранит сведения о клиенте, отправившем отзыв.
type Origin struct {
	UserAgent string
	IPAddress string
}

// Stats содержит агрегированные счётчики за окно.
type Stats struct {
	Total      int64
	Positive   int64
	Negative   int64
	WindowDays int
}

// ItemError описывает ошибку одного элемента пакета.
type ItemError struct {
	Index int
	Error string
}

// BatchResult описывает результат пакетного сохранения.
type BatchResult struct {
	Saved  int
	Total  int
	Errors []ItemError
}

// Health описывает состояние сервиса.
type Health struct {
	Status    string
	Timestamp time.Time
}

// FeedbackEvent публикуется после сохранения отзыва.
type FeedbackEvent struct {
	FeedbackID int64     `json:"feedback_id"`
	MessageID  string    `json:"message_id"`
	Kind       Kind      `json:"feedback_type"`
	SessionID  string    `json:"session_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// CloneMetadata возвращает копию метаданных.
func CloneMetadata(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = cloneValue(v)
	}
	return dst
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return CloneMetadata(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
