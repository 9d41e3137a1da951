package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"feedback-sync/internal/domain"
	"feedback-sync/internal/infra/db"
	"feedback-sync/internal/infra/metrics"
)

// Postgres реализует domain.FeedbackRepo на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ domain.FeedbackRepo = (*Postgres)(nil)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// MigratePostgres применяет миграции через database/sql обёртку над пулом.
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool, logger zerolog.Logger) error {
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()
	return db.Migrate(ctx, sqlDB, goose.DialectPostgres, migrationsFor("postgres"), logger)
}

// Upsert вставляет запись или перезаписывает существующую с тем же message_id.
// При перезаписи строка получает новый id из последовательности.
func (p *Postgres) Upsert(ctx context.Context, record domain.Record, origin domain.Origin) (int64, error) {
	ctx, cancel := connCtx(ctx)
	defer cancel()

	metadata, err := encodeMetadata(record.Metadata)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	var id int64
	err = p.pool.QueryRow(ctx, `
INSERT INTO feedback (message_id, feedback_type, session_id, "timestamp", user_agent, ip_address, metadata, created_at)
VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), NULLIF($6, ''), $7::jsonb, now())
ON CONFLICT (message_id) DO UPDATE SET
    id = nextval(pg_get_serial_sequence('feedback', 'id')),
    feedback_type = EXCLUDED.feedback_type,
    session_id = EXCLUDED.session_id,
    "timestamp" = EXCLUDED."timestamp",
    user_agent = EXCLUDED.user_agent,
    ip_address = EXCLUDED.ip_address,
    metadata = EXCLUDED.metadata,
    created_at = now()
RETURNING id`,
		record.MessageID,
		string(record.Kind),
		record.SessionID,
		record.Timestamp.UTC(),
		origin.UserAgent,
		origin.IPAddress,
		metadata,
	).Scan(&id)
	metrics.ObserveNetworkRequest("postgres", "feedback_upsert", "feedback", start, err)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23514" {
			return 0, fmt.Errorf("upsert feedback: %w", domain.ErrInvalidKind)
		}
		return 0, fmt.Errorf("upsert feedback: %w", err)
	}
	return id, nil
}

// Get возвращает запись по идентификатору сообщения.
func (p *Postgres) Get(ctx context.Context, messageID string) (domain.Record, error) {
	ctx, cancel := connCtx(ctx)
	defer cancel()

	var (
		record    domain.Record
		kind      string
		sessionID *string
		metadata  []byte
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT message_id, feedback_type, session_id, "timestamp", metadata
FROM feedback
WHERE message_id = $1`, messageID).Scan(&record.MessageID, &kind, &sessionID, &record.Timestamp, &metadata)
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.ObserveNetworkRequest("postgres", "feedback_get", "feedback", start, nil)
		return domain.Record{}, domain.ErrNotFound
	}
	metrics.ObserveNetworkRequest("postgres", "feedback_get", "feedback", start, err)
	if err != nil {
		return domain.Record{}, fmt.Errorf("select feedback: %w", err)
	}
	record.Kind = domain.Kind(kind)
	if sessionID != nil {
		record.SessionID = *sessionID
	}
	record.Timestamp = record.Timestamp.UTC()
	if record.Metadata, err = decodeMetadata(metadata); err != nil {
		return domain.Record{}, err
	}
	return record, nil
}

// Stats считает записи с timestamp >= since, при необходимости по одной сессии.
func (p *Postgres) Stats(ctx context.Context, since time.Time, sessionID string) (domain.Stats, error) {
	ctx, cancel := connCtx(ctx)
	defer cancel()

	var st domain.Stats
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT
    COUNT(*),
    COUNT(*) FILTER (WHERE feedback_type = 'positive'),
    COUNT(*) FILTER (WHERE feedback_type = 'negative')
FROM feedback
WHERE "timestamp" >= $1
  AND ($2 = '' OR session_id = $2)`, since.UTC(), sessionID).Scan(&st.Total, &st.Positive, &st.Negative)
	metrics.ObserveNetworkRequest("postgres", "feedback_stats", "feedback", start, err)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("select stats: %w", err)
	}
	return st, nil
}

// Ping проверяет доступность базы.
func (p *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := connCtx(ctx)
	defer cancel()
	return p.pool.Ping(ctx)
}

// Close закрывает пул.
func (p *Postgres) Close() error {
	if p != nil && p.pool != nil {
		p.pool.Close()
	}
	return nil
}
