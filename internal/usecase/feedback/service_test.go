package feedback

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"feedback-sync/internal/adapters/repo"
	"feedback-sync/internal/domain"
)

type stubRepo struct {
	mu      sync.Mutex
	nextID  int64
	rows    map[string]domain.Record
	failIDs map[string]bool
	pingErr error
	since   time.Time
}

func newStubRepo() *stubRepo {
	return &stubRepo{rows: map[string]domain.Record{}, failIDs: map[string]bool{}}
}

func (r *stubRepo) Upsert(_ context.Context, record domain.Record, _ domain.Origin) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failIDs[record.MessageID] {
		return 0, errors.New("disk I/O error")
	}
	r.nextID++
	r.rows[record.MessageID] = record
	return r.nextID, nil
}

func (r *stubRepo) Get(_ context.Context, id string) (domain.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[id]
	if !ok {
		return domain.Record{}, domain.ErrNotFound
	}
	return rec, nil
}

func (r *stubRepo) Stats(_ context.Context, since time.Time, _ string) (domain.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.since = since
	return domain.Stats{}, nil
}

func (r *stubRepo) Ping(context.Context) error { return r.pingErr }
func (r *stubRepo) Close() error               { return nil }

type stubPublisher struct {
	mu     sync.Mutex
	events []domain.FeedbackEvent
	err    error
}

func (p *stubPublisher) Publish(_ context.Context, event domain.FeedbackEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func TestUpsertDefaultsTimestampAndPublishes(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := newStubRepo()
	pub := &stubPublisher{}
	svc := NewService(r, zerolog.Nop(), WithPublisher(pub), WithClock(fixedClock(now)))

	id, err := svc.Upsert(context.Background(), domain.Record{MessageID: "m1", Kind: domain.KindPositive}, domain.Origin{})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if id != 1 {
		t.Fatalf("ожидали id=1, получили %d", id)
	}
	if got := r.rows["m1"].Timestamp; !got.Equal(now) {
		t.Fatalf("timestamp не проставлен: %v", got)
	}
	if len(pub.events) != 1 || pub.events[0].FeedbackID != 1 || pub.events[0].MessageID != "m1" {
		t.Fatalf("событие не опубликовано: %+v", pub.events)
	}
}

func TestUpsertPublisherFailureIsIgnored(t *testing.T) {
	svc := NewService(newStubRepo(), zerolog.Nop(), WithPublisher(&stubPublisher{err: errors.New("broker down")}))
	if _, err := svc.Upsert(context.Background(), domain.Record{MessageID: "m1", Kind: domain.KindNegative}, domain.Origin{}); err != nil {
		t.Fatalf("ошибка издателя не должна всплывать: %v", err)
	}
}

func TestUpsertRejectsInvalidRecord(t *testing.T) {
	pub := &stubPublisher{}
	svc := NewService(newStubRepo(), zerolog.Nop(), WithPublisher(pub))
	cases := []domain.Record{
		{MessageID: "m1", Kind: "meh"},
		{MessageID: "  ", Kind: domain.KindPositive},
	}
	for _, rec := range cases {
		if _, err := svc.Upsert(context.Background(), rec, domain.Origin{}); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("ожидали ошибку валидации для %+v, получили %v", rec, err)
		}
	}
	if len(pub.events) != 0 {
		t.Fatalf("события для невалидных записей: %+v", pub.events)
	}
}

func TestUpsertBatchPartialSuccess(t *testing.T) {
	svc := NewService(newStubRepo(), zerolog.Nop())
	res := svc.UpsertBatch(context.Background(), []domain.Record{
		{MessageID: "a", Kind: domain.KindPositive},
		{MessageID: "b", Kind: "neutral"},
		{MessageID: "c", Kind: domain.KindNegative},
	})
	if res.Saved != 2 || res.Total != 3 {
		t.Fatalf("ожидали saved=2 total=3, получили %+v", res)
	}
	if len(res.Errors) != 1 || res.Errors[0].Index != 1 {
		t.Fatalf("ожидали одну ошибку с индексом 1: %+v", res.Errors)
	}
	if res.Errors[0].Error != domain.ErrInvalidKind.Error() {
		t.Fatalf("неожиданный текст ошибки: %q", res.Errors[0].Error)
	}
}

func TestUpsertBatchStorageFailureHidesDetails(t *testing.T) {
	r := newStubRepo()
	r.failIDs["b"] = true
	svc := NewService(r, zerolog.Nop())
	res := svc.UpsertBatch(context.Background(), []domain.Record{
		{MessageID: "a", Kind: domain.KindPositive},
		{MessageID: "b", Kind: domain.KindPositive},
	})
	if res.Saved != 1 || len(res.Errors) != 1 {
		t.Fatalf("неожиданный результат: %+v", res)
	}
	if res.Errors[0].Error != "Internal server error" {
		t.Fatalf("внутренняя ошибка не должна утекать: %q", res.Errors[0].Error)
	}
}

func TestUpsertBatchEmpty(t *testing.T) {
	svc := NewService(newStubRepo(), zerolog.Nop())
	res := svc.UpsertBatch(context.Background(), nil)
	if res.Saved != 0 || res.Total != 0 || len(res.Errors) != 0 {
		t.Fatalf("пустой пакет: %+v", res)
	}
}

func TestAggregateStatsWindow(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := newStubRepo()
	svc := NewService(r, zerolog.Nop(), WithClock(fixedClock(now)))

	st, err := svc.AggregateStats(context.Background(), 0, "")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.WindowDays != domain.DefaultStatsWindowDays {
		t.Fatalf("ожидали окно по умолчанию, получили %d", st.WindowDays)
	}
	if want := now.AddDate(0, 0, -30); !r.since.Equal(want) {
		t.Fatalf("неверная граница окна: %v, ожидали %v", r.since, want)
	}
	if _, err := svc.AggregateStats(context.Background(), -1, ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("ожидали ошибку для отрицательного окна, получили %v", err)
	}
}

func TestAggregateStatsExcludesOldRecords(t *testing.T) {
	store, err := repo.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "feedback.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	svc := NewService(store, zerolog.Nop())
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := svc.Upsert(ctx, domain.Record{MessageID: "old", Kind: domain.KindPositive, Timestamp: now.AddDate(0, 0, -40)}, domain.Origin{}); err != nil {
		t.Fatalf("upsert old: %v", err)
	}
	if _, err := svc.Upsert(ctx, domain.Record{MessageID: "today", Kind: domain.KindPositive, Timestamp: now}, domain.Origin{}); err != nil {
		t.Fatalf("upsert today: %v", err)
	}
	st, err := svc.AggregateStats(ctx, 30, "")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Total != 1 || st.Positive != 1 || st.Negative != 0 || st.WindowDays != 30 {
		t.Fatalf("ожидали total=1: %+v", st)
	}
}

func TestIdempotentUpsertKeepsSecondSubmission(t *testing.T) {
	store, err := repo.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "feedback.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	svc := NewService(store, zerolog.Nop())
	ctx := context.Background()
	second := time.Now().UTC().Add(time.Minute).Truncate(time.Millisecond)

	if _, err := svc.Upsert(ctx, domain.Record{MessageID: "m1", Kind: domain.KindPositive}, domain.Origin{}); err != nil {
		t.Fatalf("первый upsert: %v", err)
	}
	if _, err := svc.Upsert(ctx, domain.Record{MessageID: "m1", Kind: domain.KindNegative, Timestamp: second}, domain.Origin{}); err != nil {
		t.Fatalf("второй upsert: %v", err)
	}
	got, err := svc.Get(ctx, "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Kind != domain.KindNegative || !got.Timestamp.Equal(second) {
		t.Fatalf("ожидали вторую запись: %+v", got)
	}
	st, err := svc.AggregateStats(ctx, 30, "")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Total != 1 {
		t.Fatalf("ожидали одну строку, получили %d", st.Total)
	}
}

func TestReadyReportsDegraded(t *testing.T) {
	r := newStubRepo()
	svc := NewService(r, zerolog.Nop())
	if h := svc.Ready(context.Background()); h.Status != StatusHealthy {
		t.Fatalf("ожидали healthy, получили %s", h.Status)
	}
	r.pingErr = errors.New("closed")
	if h := svc.Ready(context.Background()); h.Status != StatusDegraded {
		t.Fatalf("ожидали degraded, получили %s", h.Status)
	}
	if h := svc.Health(); h.Status != StatusHealthy {
		t.Fatalf("health всегда healthy, получили %s", h.Status)
	}
}
