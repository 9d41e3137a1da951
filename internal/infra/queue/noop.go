package queue

import (
	"context"

	"feedback-sync/internal/domain"
)

// Noop отбрасывает события.
type Noop struct{}

var _ domain.EventPublisher = Noop{}

// Publish ничего не делает.
func (Noop) Publish(context.Context, domain.FeedbackEvent) error { return nil }
