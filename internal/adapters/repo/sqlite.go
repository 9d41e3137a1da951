package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"feedback-sync/internal/domain"
	"feedback-sync/internal/infra/db"
	"feedback-sync/internal/infra/metrics"
)

// SQLite реализует domain.FeedbackRepo поверх файла SQLite.
type SQLite struct {
	db *sql.DB
}

var _ domain.FeedbackRepo = (*SQLite)(nil)

// OpenSQLite открывает базу и применяет миграции.
func OpenSQLite(ctx context.Context, path string, logger zerolog.Logger) (*SQLite, error) {
	sqlDB, err := db.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, sqlDB, goose.DialectSQLite3, migrationsFor("sqlite"), logger); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLite{db: sqlDB}, nil
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// Upsert вставляет или заменяет запись. Замена получает новый, больший id.
func (s *SQLite) Upsert(ctx context.Context, record domain.Record, origin domain.Origin) (int64, error) {
	ctx, cancel := connCtx(ctx)
	defer cancel()

	metadata, err := encodeMetadata(record.Metadata)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	var id int64
	err = s.db.QueryRowContext(ctx, `
INSERT OR REPLACE INTO feedback
    (message_id, feedback_type, session_id, timestamp, user_agent, ip_address, metadata, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id`,
		record.MessageID,
		string(record.Kind),
		nullString(record.SessionID),
		toMillis(record.Timestamp),
		nullString(origin.UserAgent),
		nullString(origin.IPAddress),
		metadata,
		toMillis(time.Now()),
	).Scan(&id)
	metrics.ObserveNetworkRequest("sqlite", "feedback_upsert", "feedback", start, err)
	if err != nil {
		return 0, mapSQLiteError(err)
	}
	return id, nil
}

// Get возвращает запись по идентификатору сообщения.
func (s *SQLite) Get(ctx context.Context, messageID string) (domain.Record, error) {
	ctx, cancel := connCtx(ctx)
	defer cancel()

	var (
		record    domain.Record
		kind      string
		sessionID sql.NullString
		ts        int64
		metadata  sql.NullString
	)
	start := time.Now()
	err := s.db.QueryRowContext(ctx, `
SELECT message_id, feedback_type, session_id, timestamp, metadata
FROM feedback
WHERE message_id = ?`, messageID).Scan(&record.MessageID, &kind, &sessionID, &ts, &metadata)
	metrics.ObserveNetworkRequest("sqlite", "feedback_get", "feedback", start, ignoreNoRows(err))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Record{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Record{}, fmt.Errorf("select feedback: %w", err)
	}
	record.Kind = domain.Kind(kind)
	record.SessionID = sessionID.String
	record.Timestamp = fromMillis(ts)
	if record.Metadata, err = decodeMetadata([]byte(metadata.String)); err != nil {
		return domain.Record{}, err
	}
	return record, nil
}

// Stats считает записи с timestamp >= since, при необходимости по одной сессии.
func (s *SQLite) Stats(ctx context.Context, since time.Time, sessionID string) (domain.Stats, error) {
	ctx, cancel := connCtx(ctx)
	defer cancel()

	query := `
SELECT
    COUNT(*),
    COALESCE(SUM(CASE WHEN feedback_type = 'positive' THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN feedback_type = 'negative' THEN 1 ELSE 0 END), 0)
FROM feedback
WHERE timestamp >= ?`
	args := []any{toMillis(since)}
	if sessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, sessionID)
	}
	var st domain.Stats
	start := time.Now()
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&st.Total, &st.Positive, &st.Negative)
	metrics.ObserveNetworkRequest("sqlite", "feedback_stats", "feedback", start, err)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("select stats: %w", err)
	}
	return st, nil
}

// Ping проверяет доступность базы.
func (s *SQLite) Ping(ctx context.Context) error {
	ctx, cancel := connCtx(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close закрывает базу.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func mapSQLiteError(err error) error {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_CHECK {
		return fmt.Errorf("upsert feedback: %w", domain.ErrInvalidKind)
	}
	return fmt.Errorf("upsert feedback: %w", err)
}

func encodeMetadata(md map[string]any) (any, error) {
	if len(md) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return string(data), nil
}

func decodeMetadata(raw []byte) (map[string]any, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, nil
	}
	var md map[string]any
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return md, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func ignoreNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	return err
}
