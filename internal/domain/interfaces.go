package domain

import (
	"context"
	"time"
)

// FeedbackRepo хранит отзывы на стороне сервера.
// Уникальность message_id обеспечивается ограничением хранилища.
type FeedbackRepo interface {
	Upsert(ctx context.Context, record Record, origin Origin) (int64, error)
	Get(ctx context.Context, messageID string) (Record, error)
	Stats(ctx context.Context, since time.Time, sessionID string) (Stats, error)
	Ping(ctx context.Context) error
	Close() error
}

// EventPublisher отправляет события во внешнюю аналитику.
type EventPublisher interface {
	Publish(ctx context.Context, event FeedbackEvent) error
}

// Transport описывает клиентскую сторону HTTP-контракта.
type Transport interface {
	Submit(ctx context.Context, record Record) (int64, error)
	SubmitBatch(ctx context.Context, records []Record) (BatchResult, error)
	Fetch(ctx context.Context, messageID string) (Record, error)
	Stats(ctx context.Context, days int, sessionID string) (Stats, error)
	Health(ctx context.Context) (Health, error)
}
