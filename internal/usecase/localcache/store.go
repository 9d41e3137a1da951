package localcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"feedback-sync/internal/domain"
	"feedback-sync/internal/infra/cache"
	"feedback-sync/internal/infra/metrics"
)

const (
	// StorageKey хранит сериализованный снимок записей.
	StorageKey = "feedback"
	// VersionKey хранит версию схемы для миграций.
	VersionKey = "feedback_version"
	// SchemaVersion текущая версия схемы хранения.
	SchemaVersion = 2
	// DefaultRetention срок хранения записей при нехватке места.
	DefaultRetention = 30 * 24 * time.Hour

	defaultTimeout = 5 * time.Second
)

// Entry представляет локальную запись отзыва.
type Entry struct {
	MessageID string
	Kind      domain.Kind
	Timestamp time.Time
	SessionID string
	Metadata  map[string]any
	Synced    bool

	rev uint64
}

// Record преобразует запись в доменную модель.
func (e Entry) Record() domain.Record {
	return domain.Record{
		MessageID: e.MessageID,
		Kind:      e.Kind,
		Timestamp: e.Timestamp,
		SessionID: e.SessionID,
		Metadata:  domain.CloneMetadata(e.Metadata),
	}
}

// Stats содержит счётчики локального кэша.
type Stats struct {
	Positive int
	Negative int
	Total    int
	Synced   int
}

// Option настраивает Store.
type Option func(*Store)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRetention задаёт окно хранения для очистки по возрасту.
func WithRetention(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithTimeout ограничивает каждое обращение к хранилищу.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// PutOption дополняет записываемую запись.
type PutOption func(*Entry)

// WithSession привязывает запись к сессии.
func WithSession(sessionID string) PutOption {
	return func(e *Entry) { e.SessionID = sessionID }
}

// WithMetadata добавляет непрозрачные метаданные.
func WithMetadata(md map[string]any) PutOption {
	return func(e *Entry) { e.Metadata = domain.CloneMetadata(md) }
}

// Store хранит отзывы локально и сохраняет их целиком в Backend.
// Все операции сериализуются одним мьютексом, включая цикл записи в хранилище.
type Store struct {
	mu        sync.Mutex
	backend   cache.Backend
	durable   bool
	entries   map[string]Entry
	seq       uint64
	now       func() time.Time
	retention time.Duration
	timeout   time.Duration
	log       zerolog.Logger
}

// New создаёт кэш. Недоступное хранилище переводит кэш в режим памяти до конца жизни процесса.
func New(backend cache.Backend, logger zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		backend:   backend,
		entries:   make(map[string]Entry),
		now:       func() time.Time { return time.Now().UTC() },
		retention: DefaultRetention,
		timeout:   defaultTimeout,
		log:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if backend == nil {
		s.log.Warn().Msg("localcache: хранилище не задано, работаем в памяти")
		return s
	}
	ctx, cancel := s.ctx()
	err := backend.Probe(ctx)
	cancel()
	if err != nil {
		s.log.Warn().Err(err).Msg("localcache: хранилище недоступно, работаем в памяти")
		return s
	}
	s.durable = true
	s.migrate()
	s.load()
	return s
}

func (s *Store) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

// Durable сообщает, сохраняются ли изменения в хранилище.
func (s *Store) Durable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.durable
}

// Put создаёт или заменяет запись. Ошибки хранилища не возвращаются.
func (s *Store) Put(messageID string, kind domain.Kind, opts ...PutOption) error {
	if strings.TrimSpace(messageID) == "" {
		return domain.ErrMissingMessageID
	}
	if !kind.Valid() {
		return domain.ErrInvalidKind
	}
	entry := Entry{MessageID: messageID, Kind: kind}
	for _, opt := range opts {
		opt(&entry)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry.Timestamp = s.now().UTC()
	entry.Synced = false
	s.seq++
	entry.rev = s.seq
	s.entries[messageID] = entry
	s.persistLocked()
	return nil
}

// Get возвращает запись по идентификатору сообщения.
func (s *Store) Get(messageID string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[messageID]
	if !ok {
		return Entry{}, false
	}
	e.Metadata = domain.CloneMetadata(e.Metadata)
	return e, true
}

// All возвращает копию всех записей.
func (s *Store) All() map[string]Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Entry, len(s.entries))
	for id, e := range s.entries {
		e.Metadata = domain.CloneMetadata(e.Metadata)
		out[id] = e
	}
	return out
}

// Unsynced возвращает несинхронизированные записи в порядке создания.
func (s *Store) Unsynced() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, e := range s.entries {
		if e.Synced {
			continue
		}
		e.Metadata = domain.CloneMetadata(e.Metadata)
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].MessageID < out[j].MessageID
	})
	return out
}

// MarkSynced отмечает запись синхронизированной; отсутствующая запись игнорируется.
func (s *Store) MarkSynced(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[messageID]
	if !ok || e.Synced {
		return
	}
	e.Synced = true
	s.entries[messageID] = e
	s.persistLocked()
}

// MarkSyncedIfUnchanged отмечает запись, только если с момента чтения её не заменили.
func (s *Store) MarkSyncedIfUnchanged(submitted Entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[submitted.MessageID]
	if !ok || e.rev != submitted.rev {
		return false
	}
	if e.Synced {
		return true
	}
	e.Synced = true
	s.entries[submitted.MessageID] = e
	s.persistLocked()
	return true
}

// Remove удаляет запись.
func (s *Store) Remove(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[messageID]; !ok {
		return
	}
	delete(s.entries, messageID)
	s.persistLocked()
}

// Clear удаляет все записи вместе с содержимым хранилища.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]Entry)
	if !s.durable {
		return
	}
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.backend.Delete(ctx, StorageKey); err != nil {
		s.log.Error().Err(err).Msg("localcache: не удалось очистить хранилище")
	}
}

// Stats возвращает счётчики по оценкам и синхронизации.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st Stats
	for _, e := range s.entries {
		switch e.Kind {
		case domain.KindPositive:
			st.Positive++
		case domain.KindNegative:
			st.Negative++
		}
		if e.Synced {
			st.Synced++
		}
		st.Total++
	}
	return st
}

// Reap удаляет записи старше окна хранения и возвращает их количество.
func (s *Store) Reap() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.reapLocked()
	if removed > 0 {
		s.persistLocked()
	}
	return removed
}

func (s *Store) reapLocked() int {
	cutoff := s.now().Add(-s.retention)
	removed := 0
	for id, e := range s.entries {
		if e.Timestamp.Before(cutoff) {
			delete(s.entries, id)
			removed++
		}
	}
	if removed > 0 {
		metrics.CacheEvicted.Add(float64(removed))
	}
	return removed
}

func (s *Store) persistLocked() {
	if !s.durable {
		return
	}
	err := s.writeLocked()
	if err == nil {
		return
	}
	if !errors.Is(err, cache.ErrQuotaExceeded) {
		metrics.CachePersistFailures.WithLabelValues("error").Inc()
		s.log.Error().Err(err).Msg("localcache: ошибка сохранения, данные только в памяти")
		return
	}
	metrics.CachePersistFailures.WithLabelValues("quota").Inc()
	removed := s.reapLocked()
	s.log.Warn().Int("evicted", removed).Msg("localcache: квота исчерпана, удалили старые записи")
	if err := s.writeLocked(); err != nil {
		metrics.CachePersistFailures.WithLabelValues("retry").Inc()
		s.log.Error().Err(err).Msg("localcache: не удалось сохранить после очистки, данные только в памяти")
	}
}

func (s *Store) writeLocked() error {
	data, err := json.Marshal(persistedBlob{Version: SchemaVersion, Entries: toStored(s.entries)})
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}
	ctx, cancel := s.ctx()
	defer cancel()
	return s.backend.Set(ctx, StorageKey, data)
}

func (s *Store) load() {
	ctx, cancel := s.ctx()
	defer cancel()
	data, err := s.backend.Get(ctx, StorageKey)
	if errors.Is(err, cache.ErrNotFound) {
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("localcache: не удалось прочитать хранилище")
		return
	}
	var blob persistedBlob
	if err := json.Unmarshal(data, &blob); err != nil || blob.Version != SchemaVersion {
		s.log.Error().Err(err).Int("version", blob.Version).Msg("localcache: повреждённые данные, начинаем с пустого кэша")
		return
	}
	entries, skipped := s.fromStored(blob.Entries, false)
	if skipped > 0 {
		s.log.Warn().Int("skipped", skipped).Msg("localcache: пропущены некорректные записи")
	}
	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()
}

// fromStored проверяет записи; strict прерывает разбор на первой некорректной.
func (s *Store) fromStored(stored map[string]storedEntry, strict bool) (map[string]Entry, int) {
	out := make(map[string]Entry, len(stored))
	skipped := 0
	for id, se := range stored {
		if strings.TrimSpace(id) == "" || !se.Kind.Valid() || se.Timestamp.IsZero() {
			if strict {
				return nil, 1
			}
			skipped++
			continue
		}
		s.seq++
		out[id] = Entry{
			MessageID: id,
			Kind:      se.Kind,
			Timestamp: se.Timestamp.UTC(),
			SessionID: se.SessionID,
			Metadata:  se.Metadata,
			Synced:    se.Synced,
			rev:       s.seq,
		}
	}
	return out, skipped
}
