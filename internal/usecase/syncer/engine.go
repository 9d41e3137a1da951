// Package syncer сверяет локальный кэш отзывов с серверным хранилищем.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"feedback-sync/internal/domain"
	"feedback-sync/internal/infra/metrics"
	"feedback-sync/internal/usecase/localcache"
)

// State описывает состояние движка.
type State int32

const (
	StateIdle State = iota
	StateSyncing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSyncing:
		return "syncing"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const (
	DefaultInterval    = 60 * time.Second
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 2 * time.Second

	DefaultBatchSize     = 500
	DefaultBatchMaxBytes = 512 << 10
)

// Config задаёт расписание и политику повторов.
type Config struct {
	Interval    time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
	// AttemptTimeout ограничивает одну попытку; ноль оставляет ограничение HTTP-клиенту.
	AttemptTimeout time.Duration
	// BatchSize и BatchMaxBytes ограничивают один пакетный запрос.
	// Запись крупнее BatchMaxBytes уходит отдельным пакетом.
	BatchSize     int
	BatchMaxBytes int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	if c.BatchSize < 1 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchMaxBytes < 1 {
		c.BatchMaxBytes = DefaultBatchMaxBytes
	}
	return c
}

// LocalCache описывает часть локального кэша, нужную движку.
type LocalCache interface {
	Get(messageID string) (localcache.Entry, bool)
	Unsynced() []localcache.Entry
	MarkSyncedIfUnchanged(entry localcache.Entry) bool
}

// RejectedItem описывает запись, отклонённую сервером при пакетной отправке.
type RejectedItem struct {
	MessageID string
	Error     string
}

// Result описывает один запуск синхронизации.
type Result struct {
	Skipped  bool
	Batches  int
	Pushed   int
	Saved    int
	Marked   int
	Rejected []RejectedItem
}

// Engine периодически отправляет несинхронизированные записи пакетом.
type Engine struct {
	cache     LocalCache
	transport domain.Transport
	cfg       Config
	log       zerolog.Logger

	syncing atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

// New создаёт движок синхронизации.
func New(cache LocalCache, transport domain.Transport, cfg Config, logger zerolog.Logger) *Engine {
	return &Engine{
		cache:     cache,
		transport: transport,
		cfg:       cfg.withDefaults(),
		log:       logger,
	}
}

// State возвращает текущее состояние.
func (e *Engine) State() State {
	if e.syncing.Load() {
		return StateSyncing
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return StateStopped
	}
	return StateIdle
}

// Start запускает периодическую синхронизацию. Повторный вызов ничего не делает.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.log.Warn().Msg("syncer: уже запущен")
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.stopped = false
	go e.loop(loopCtx, e.done)
	e.log.Info().Dur("interval", e.cfg.Interval).Msg("syncer: запущен")
}

// Stop останавливает таймер и ждёт завершения текущей синхронизации.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.stopped = true
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	e.log.Info().Msg("syncer: остановлен")
}

func (e *Engine) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// отмена таймера не прерывает уже начатую отправку
			res, err := e.RunSync(context.WithoutCancel(ctx))
			if err != nil {
				e.log.Warn().Err(err).Msg("syncer: синхронизация по таймеру не удалась")
				continue
			}
			if res.Skipped {
				e.log.Debug().Msg("syncer: тик пропущен, синхронизация уже идёт")
			}
		}
	}
}

// ForceSync запускает синхронизацию немедленно.
func (e *Engine) ForceSync(ctx context.Context) (Result, error) {
	res, err := e.RunSync(ctx)
	if res.Skipped {
		e.log.Info().Msg("syncer: принудительная синхронизация пропущена, уже идёт другая")
	}
	return res, err
}

// RunSync выполняет один запуск. Пока идёт другой запуск, возвращает Result{Skipped: true}.
func (e *Engine) RunSync(ctx context.Context) (Result, error) {
	if !e.syncing.CompareAndSwap(false, true) {
		return Result{Skipped: true}, nil
	}
	defer e.syncing.Store(false)

	start := time.Now()
	entries := e.cache.Unsynced()
	metrics.UnsyncedRecords.Set(float64(len(entries)))
	if len(entries) == 0 {
		metrics.ObserveSync("empty", start)
		return Result{}, nil
	}

	var res Result
	for _, chunk := range e.split(entries) {
		err := e.push(ctx, chunk, &res)
		if err != nil {
			metrics.UnsyncedRecords.Set(float64(len(e.cache.Unsynced())))
			metrics.ObserveSync("failure", start)
			e.log.Error().Err(err).
				Int("records", len(chunk)).
				Int("marked", res.Marked).
				Msg("syncer: пакет не отправлен, записи остаются несинхронизированными")
			return res, err
		}
	}
	metrics.UnsyncedRecords.Set(float64(len(e.cache.Unsynced())))
	metrics.ObserveSync("success", start)
	e.log.Info().
		Int("batches", res.Batches).
		Int("pushed", res.Pushed).
		Int("saved", res.Saved).
		Int("rejected", len(res.Rejected)).
		Dur("took", time.Since(start)).
		Msg("syncer: синхронизация завершена")
	return res, nil
}

// push отправляет один пакет и отмечает его записи после подтверждения сервера.
func (e *Engine) push(ctx context.Context, entries []localcache.Entry, res *Result) error {
	records := make([]domain.Record, len(entries))
	for i, entry := range entries {
		records[i] = entry.Record()
	}

	var batch domain.BatchResult
	err := e.retry(ctx, "push", func(ctx context.Context) error {
		var err error
		batch, err = e.transport.SubmitBatch(ctx, records)
		return err
	})
	res.Batches++
	res.Pushed += len(entries)
	if err != nil {
		return err
	}
	res.Saved += batch.Saved

	for _, itemErr := range batch.Errors {
		if itemErr.Index < 0 || itemErr.Index >= len(entries) {
			e.log.Warn().Int("index", itemErr.Index).Msg("syncer: сервер вернул ошибку с неизвестным индексом")
			continue
		}
		rejected := RejectedItem{MessageID: entries[itemErr.Index].MessageID, Error: itemErr.Error}
		res.Rejected = append(res.Rejected, rejected)
		e.log.Warn().Str("message_id", rejected.MessageID).Str("error", rejected.Error).Msg("syncer: сервер отклонил запись")
	}
	for _, entry := range entries {
		if e.cache.MarkSyncedIfUnchanged(entry) {
			res.Marked++
		}
	}
	return nil
}

// split делит записи на пакеты не длиннее BatchSize и примерно не крупнее BatchMaxBytes.
func (e *Engine) split(entries []localcache.Entry) [][]localcache.Entry {
	var (
		chunks [][]localcache.Entry
		cur    []localcache.Entry
		size   int
	)
	for _, entry := range entries {
		n := recordSize(entry.Record())
		if len(cur) > 0 && (len(cur) >= e.cfg.BatchSize || size+n > e.cfg.BatchMaxBytes) {
			chunks = append(chunks, cur)
			cur, size = nil, 0
		}
		cur = append(cur, entry)
		size += n
	}
	if len(cur) > 0 {
		chunks = append(chunks, cur)
	}
	return chunks
}

// recordSize оценивает размер записи в теле запроса.
func recordSize(r domain.Record) int {
	const overhead = 128
	n := overhead + len(r.MessageID) + len(r.SessionID)
	if len(r.Metadata) > 0 {
		if raw, err := json.Marshal(r.Metadata); err == nil {
			n += len(raw)
		}
	}
	return n
}

// Send отправляет одну запись и отмечает её синхронизированной.
// Отказ сервера по валидации тоже отмечает запись, чтобы не повторять тот же запрос.
func (e *Engine) Send(ctx context.Context, messageID string) (int64, error) {
	entry, ok := e.cache.Get(messageID)
	if !ok {
		return 0, domain.ErrNotFound
	}
	var id int64
	err := e.retry(ctx, "send", func(ctx context.Context) error {
		var err error
		id, err = e.transport.Submit(ctx, entry.Record())
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			e.cache.MarkSyncedIfUnchanged(entry)
			e.log.Warn().Err(err).Str("message_id", messageID).Msg("syncer: сервер отклонил запись")
		}
		return 0, err
	}
	e.cache.MarkSyncedIfUnchanged(entry)
	return id, nil
}

// Fetch читает запись с сервера с повторами; отсутствие записи не повторяется.
func (e *Engine) Fetch(ctx context.Context, messageID string) (domain.Record, error) {
	var rec domain.Record
	err := e.retry(ctx, "fetch", func(ctx context.Context) error {
		var err error
		rec, err = e.transport.Fetch(ctx, messageID)
		return err
	})
	return rec, err
}

// RemoteStats запрашивает серверную статистику с повторами.
func (e *Engine) RemoteStats(ctx context.Context, days int, sessionID string) (domain.Stats, error) {
	var st domain.Stats
	err := e.retry(ctx, "stats", func(ctx context.Context) error {
		var err error
		st, err = e.transport.Stats(ctx, days, sessionID)
		return err
	})
	return st, err
}

// retry выполняет fn не более MaxAttempts раз с фиксированной паузой и возвращает последнюю ошибку.
func (e *Engine) retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(e.cfg.RetryDelay), uint64(e.cfg.MaxAttempts-1)),
		ctx,
	)
	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if e.cfg.AttemptTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, e.cfg.AttemptTimeout)
		}
		defer cancel()
		err := fn(callCtx)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrValidation) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		e.log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Dur("retry_in", wait).Msg("syncer: попытка не удалась")
	})
}
