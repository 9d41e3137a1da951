package localcache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"feedback-sync/internal/domain"
	"feedback-sync/internal/infra/cache"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func newTestStore(t *testing.T, backend cache.Backend) (*Store, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2025, 10, 7, 10, 0, 0, 0, time.UTC)}
	return New(backend, zerolog.Nop(), WithClock(clock.Now)), clock
}

func TestPutReplacesExisting(t *testing.T) {
	store, clock := newTestStore(t, cache.NewMemory(0))
	if err := store.Put("m1", domain.KindPositive, WithSession("s1")); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	clock.now = clock.now.Add(time.Minute)
	if err := store.Put("m1", domain.KindNegative); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	all := store.All()
	if len(all) != 1 {
		t.Fatalf("ожидали одну запись, получили %d", len(all))
	}
	got, ok := store.Get("m1")
	if !ok {
		t.Fatalf("запись не найдена")
	}
	if got.Kind != domain.KindNegative || got.SessionID != "" || !got.Timestamp.Equal(clock.now) || got.Synced {
		t.Fatalf("ожидали полную замену записи, получили %+v", got)
	}
}

func TestPutRejectsInvalidInput(t *testing.T) {
	store, _ := newTestStore(t, cache.NewMemory(0))
	if err := store.Put("m1", domain.Kind("meh")); !errors.Is(err, domain.ErrInvalidKind) {
		t.Fatalf("ожидали ErrInvalidKind, получили %v", err)
	}
	if err := store.Put(" ", domain.KindPositive); !errors.Is(err, domain.ErrMissingMessageID) {
		t.Fatalf("ожидали ErrMissingMessageID, получили %v", err)
	}
	if store.Stats().Total != 0 {
		t.Fatalf("некорректные записи не должны сохраняться")
	}
}

func TestAllReturnsCopy(t *testing.T) {
	store, _ := newTestStore(t, cache.NewMemory(0))
	_ = store.Put("m1", domain.KindPositive, WithMetadata(map[string]any{"model": "a"}))
	all := store.All()
	delete(all, "m1")
	if _, ok := store.Get("m1"); !ok {
		t.Fatalf("изменение копии затронуло внутреннее состояние")
	}
	got, _ := store.Get("m1")
	got.Metadata["model"] = "b"
	again, _ := store.Get("m1")
	if again.Metadata["model"] != "a" {
		t.Fatalf("метаданные должны копироваться")
	}
}

func TestUnsyncedExcludesMarked(t *testing.T) {
	store, clock := newTestStore(t, cache.NewMemory(0))
	_ = store.Put("m1", domain.KindPositive)
	clock.now = clock.now.Add(time.Second)
	_ = store.Put("m2", domain.KindNegative)

	unsynced := store.Unsynced()
	if len(unsynced) != 2 || unsynced[0].MessageID != "m1" {
		t.Fatalf("ожидали m1, m2 по порядку, получили %+v", unsynced)
	}
	store.MarkSynced("m1")
	for _, e := range store.Unsynced() {
		if e.MessageID == "m1" {
			t.Fatalf("m1 не должен быть в несинхронизированных")
		}
	}
	_ = store.Put("m1", domain.KindNegative)
	found := false
	for _, e := range store.Unsynced() {
		if e.MessageID == "m1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("после новой записи m1 снова должен ждать синхронизации")
	}
}

func TestMarkSyncedMissingIsNoop(t *testing.T) {
	store, _ := newTestStore(t, cache.NewMemory(0))
	store.MarkSynced("ghost")
	if _, ok := store.Get("ghost"); ok {
		t.Fatalf("MarkSynced не должен создавать записи")
	}
	_ = store.Put("m1", domain.KindPositive)
	store.Remove("m1")
	store.MarkSynced("m1")
	if store.Stats().Total != 0 {
		t.Fatalf("удалённая запись не должна появиться")
	}
}

func TestMarkSyncedIfUnchanged(t *testing.T) {
	store, _ := newTestStore(t, cache.NewMemory(0))
	_ = store.Put("m1", domain.KindPositive)
	submitted := store.Unsynced()[0]

	_ = store.Put("m1", domain.KindNegative)
	if store.MarkSyncedIfUnchanged(submitted) {
		t.Fatalf("заменённая запись не должна отмечаться")
	}
	if got, _ := store.Get("m1"); got.Synced {
		t.Fatalf("новая версия осталась бы несинхронизированной навсегда")
	}

	current := store.Unsynced()[0]
	if !store.MarkSyncedIfUnchanged(current) {
		t.Fatalf("ожидали отметку для неизменённой записи")
	}
	if got, _ := store.Get("m1"); !got.Synced {
		t.Fatalf("запись должна быть синхронизирована")
	}
}

func TestStatsCounts(t *testing.T) {
	store, _ := newTestStore(t, cache.NewMemory(0))
	_ = store.Put("m1", domain.KindPositive)
	_ = store.Put("m2", domain.KindPositive)
	_ = store.Put("m3", domain.KindNegative)
	store.MarkSynced("m2")
	st := store.Stats()
	if st != (Stats{Positive: 2, Negative: 1, Total: 3, Synced: 1}) {
		t.Fatalf("неожиданная статистика: %+v", st)
	}
}

func TestPersistAndReload(t *testing.T) {
	backend := cache.NewMemory(0)
	store, _ := newTestStore(t, backend)
	_ = store.Put("m1", domain.KindPositive, WithSession("s1"), WithMetadata(map[string]any{"k": "v"}))
	_ = store.Put("m2", domain.KindNegative)
	store.MarkSynced("m2")

	reloaded, _ := newTestStore(t, backend)
	if !reloaded.Durable() {
		t.Fatalf("ожидали durable режим")
	}
	got, ok := reloaded.Get("m1")
	if !ok || got.SessionID != "s1" || got.Metadata["k"] != "v" || got.Synced {
		t.Fatalf("запись не восстановилась: %+v", got)
	}
	if got, _ := reloaded.Get("m2"); !got.Synced {
		t.Fatalf("флаг synced не восстановился")
	}
}

func TestClearDropsBackingStore(t *testing.T) {
	backend := cache.NewMemory(0)
	store, _ := newTestStore(t, backend)
	_ = store.Put("m1", domain.KindPositive)
	store.Clear()
	if store.Stats().Total != 0 {
		t.Fatalf("кэш не очищен")
	}
	if _, err := backend.Get(context.Background(), StorageKey); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("ожидали удаление из хранилища, получили %v", err)
	}
}

func TestUnavailableBackendFallsBackToMemory(t *testing.T) {
	backend := cache.NewMemory(0)
	backend.SetUnavailable(true)
	store, _ := newTestStore(t, backend)
	if store.Durable() {
		t.Fatalf("ожидали режим памяти")
	}
	if err := store.Put("m1", domain.KindPositive); err != nil {
		t.Fatalf("Put не должен возвращать ошибку хранилища: %v", err)
	}
	backend.SetUnavailable(false)
	if _, ok := store.Get("m1"); !ok {
		t.Fatalf("запись должна быть в памяти")
	}
	if _, err := backend.Get(context.Background(), StorageKey); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("в режиме памяти хранилище не трогаем, получили %v", err)
	}
}

func TestQuotaEvictsOldAndRetries(t *testing.T) {
	backend := cache.NewMemory(0)
	store, clock := newTestStore(t, backend)
	start := clock.now
	clock.now = start.Add(-40 * 24 * time.Hour)
	_ = store.Put("old", domain.KindPositive)
	clock.now = start.Add(-10 * 24 * time.Hour)
	_ = store.Put("recent", domain.KindNegative)
	clock.now = start

	backend.FailNextSets(1)
	if err := store.Put("fresh", domain.KindPositive); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, ok := store.Get("old"); ok {
		t.Fatalf("старая запись должна быть удалена")
	}
	for _, id := range []string{"recent", "fresh"} {
		if _, ok := store.Get(id); !ok {
			t.Fatalf("запись %s должна остаться", id)
		}
	}
	data, err := backend.Get(context.Background(), StorageKey)
	if err != nil {
		t.Fatalf("повторная запись должна пройти: %v", err)
	}
	var blob persistedBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := blob.Entries["fresh"]; !ok || len(blob.Entries) != 2 {
		t.Fatalf("в хранилище ожидали recent и fresh, получили %v", blob.Entries)
	}
}

func TestQuotaSecondFailureKeepsMemory(t *testing.T) {
	backend := cache.NewMemory(0)
	store, _ := newTestStore(t, backend)
	backend.FailNextSets(2)
	if err := store.Put("m1", domain.KindPositive); err != nil {
		t.Fatalf("Put не должен возвращать ошибку квоты: %v", err)
	}
	if _, ok := store.Get("m1"); !ok {
		t.Fatalf("запись должна остаться в памяти")
	}
	if _, err := backend.Get(context.Background(), StorageKey); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("ожидали, что ничего не записалось, получили %v", err)
	}
	_ = store.Put("m2", domain.KindPositive)
	if _, err := backend.Get(context.Background(), StorageKey); err != nil {
		t.Fatalf("следующая успешная запись должна сохранить всё: %v", err)
	}
}

func TestReapUsesRetention(t *testing.T) {
	store, clock := newTestStore(t, cache.NewMemory(0))
	start := clock.now
	clock.now = start.Add(-31 * 24 * time.Hour)
	_ = store.Put("old", domain.KindPositive)
	clock.now = start.Add(-29 * 24 * time.Hour)
	_ = store.Put("young", domain.KindPositive)
	clock.now = start
	_ = store.Put("now", domain.KindPositive)

	if removed := store.Reap(); removed != 1 {
		t.Fatalf("ожидали удаление одной записи, получили %d", removed)
	}
	if _, ok := store.Get("old"); ok {
		t.Fatalf("old должна быть удалена")
	}
	if _, ok := store.Get("young"); !ok {
		t.Fatalf("young должна остаться")
	}
	if _, ok := store.Get("now"); !ok {
		t.Fatalf("запись текущего цикла должна остаться")
	}
}

func TestCorruptBlobStartsEmpty(t *testing.T) {
	backend := cache.NewMemory(0)
	ctx := context.Background()
	_ = backend.Set(ctx, VersionKey, []byte("2"))
	_ = backend.Set(ctx, StorageKey, []byte("{not json"))
	store, _ := newTestStore(t, backend)
	if store.Stats().Total != 0 {
		t.Fatalf("ожидали пустой кэш")
	}
	if err := store.Put("m1", domain.KindPositive); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	reloaded, _ := newTestStore(t, backend)
	if _, ok := reloaded.Get("m1"); !ok {
		t.Fatalf("после записи данные должны восстановиться")
	}
}
