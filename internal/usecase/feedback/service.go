package feedback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"feedback-sync/internal/domain"
	"feedback-sync/internal/infra/metrics"
)

const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// ErrInvalidWindow возвращается для отрицательного окна статистики.
var ErrInvalidWindow = fmt.Errorf("%w: days must not be negative", domain.ErrValidation)

// Service реализует серверное хранилище отзывов поверх репозитория.
type Service struct {
	repo      domain.FeedbackRepo
	publisher domain.EventPublisher
	logger    zerolog.Logger
	now       func() time.Time
}

// Option настраивает сервис.
type Option func(*Service)

// WithPublisher задаёт издателя аналитических событий.
func WithPublisher(p domain.EventPublisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService создаёт сервис отзывов.
func NewService(repo domain.FeedbackRepo, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upsert сохраняет запись; при повторном message_id запись заменяется.
func (s *Service) Upsert(ctx context.Context, record domain.Record, origin domain.Origin) (int64, error) {
	id, err := s.upsert(ctx, record, origin)
	if err != nil {
		return 0, err
	}
	s.publish(ctx, id, record)
	return id, nil
}

func (s *Service) upsert(ctx context.Context, record domain.Record, origin domain.Origin) (int64, error) {
	if err := record.Validate(); err != nil {
		return 0, err
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = s.now()
	}
	id, err := s.repo.Upsert(ctx, record, origin)
	if err != nil {
		return 0, err
	}
	metrics.FeedbackSaved.WithLabelValues(string(record.Kind)).Inc()
	return id, nil
}

func (s *Service) publish(ctx context.Context, id int64, record domain.Record) {
	if s.publisher == nil {
		return
	}
	occurred := record.Timestamp
	if occurred.IsZero() {
		occurred = s.now()
	}
	event := domain.FeedbackEvent{
		FeedbackID: id,
		MessageID:  record.MessageID,
		Kind:       record.Kind,
		SessionID:  record.SessionID,
		OccurredAt: occurred.UTC(),
	}
	if err := s.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Warn().Err(err).Str("message_id", record.MessageID).Msg("feedback: не удалось опубликовать событие")
	}
}

// UpsertBatch сохраняет каждую запись независимо и собирает ошибки по индексам.
func (s *Service) UpsertBatch(ctx context.Context, records []domain.Record) domain.BatchResult {
	result := domain.BatchResult{Total: len(records)}
	for i, record := range records {
		if _, err := s.upsert(ctx, record, domain.Origin{}); err != nil {
			metrics.BatchItemErrors.Inc()
			result.Errors = append(result.Errors, domain.ItemError{Index: i, Error: itemErrorText(err)})
			if !errors.Is(err, domain.ErrValidation) {
				s.logger.Error().Err(err).Int("index", i).Msg("feedback: ошибка сохранения элемента пакета")
			}
			continue
		}
		result.Saved++
	}
	return result
}

func itemErrorText(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidKind):
		return domain.ErrInvalidKind.Error()
	case errors.Is(err, domain.ErrMissingMessageID):
		return domain.ErrMissingMessageID.Error()
	case errors.Is(err, domain.ErrValidation):
		return err.Error()
	default:
		return "Internal server error"
	}
}

// Get возвращает запись или domain.ErrNotFound.
func (s *Service) Get(ctx context.Context, messageID string) (domain.Record, error) {
	if messageID == "" {
		return domain.Record{}, domain.ErrMissingMessageID
	}
	return s.repo.Get(ctx, messageID)
}

// AggregateStats считает отзывы за последние windowDays дней.
// Ноль означает окно по умолчанию.
func (s *Service) AggregateStats(ctx context.Context, windowDays int, sessionID string) (domain.Stats, error) {
	if windowDays < 0 {
		return domain.Stats{}, ErrInvalidWindow
	}
	if windowDays == 0 {
		windowDays = domain.DefaultStatsWindowDays
	}
	since := s.now().Add(-time.Duration(windowDays) * 24 * time.Hour)
	st, err := s.repo.Stats(ctx, since, sessionID)
	if err != nil {
		return domain.Stats{}, err
	}
	st.WindowDays = windowDays
	return st, nil
}

// Health отвечает на проверку живости.
func (s *Service) Health() domain.Health {
	return domain.Health{Status: StatusHealthy, Timestamp: s.now()}
}

// Ready дополнительно проверяет доступность хранилища.
func (s *Service) Ready(ctx context.Context) domain.Health {
	h := s.Health()
	if err := s.repo.Ping(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("feedback: хранилище недоступно")
		h.Status = StatusDegraded
	}
	return h
}
