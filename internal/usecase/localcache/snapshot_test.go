package localcache

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"feedback-sync/internal/domain"
	"feedback-sync/internal/infra/cache"
)

func TestExportImportRoundTrip(t *testing.T) {
	src, _ := newTestStore(t, cache.NewMemory(0))
	_ = src.Put("m1", domain.KindPositive, WithSession("s1"))
	_ = src.Put("m2", domain.KindNegative)
	src.MarkSynced("m2")

	blob, err := src.Export()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(string(blob), `"version": 2`) {
		t.Fatalf("снимок должен содержать версию: %s", blob)
	}

	dst, _ := newTestStore(t, cache.NewMemory(0))
	_ = dst.Put("other", domain.KindPositive)
	if !dst.Import(blob) {
		t.Fatalf("импорт должен пройти")
	}
	if _, ok := dst.Get("other"); ok {
		t.Fatalf("импорт заменяет состояние целиком")
	}
	if got, _ := dst.Get("m1"); got.SessionID != "s1" || got.Synced {
		t.Fatalf("m1 восстановлен неверно: %+v", got)
	}
	if got, _ := dst.Get("m2"); !got.Synced {
		t.Fatalf("m2 должен остаться синхронизированным")
	}
}

func TestImportMalformedKeepsState(t *testing.T) {
	store, _ := newTestStore(t, cache.NewMemory(0))
	_ = store.Put("m1", domain.KindPositive)

	for name, blob := range map[string]string{
		"not json":     "{oops",
		"no entries":   `{"version":2}`,
		"invalid kind": `{"version":2,"entries":{"m9":{"kind":"meh","timestamp":"2025-10-07T10:00:00Z","synced":false}}}`,
		"no timestamp": `{"version":2,"entries":{"m9":{"kind":"positive","synced":false}}}`,
	} {
		t.Run(name, func(t *testing.T) {
			if store.Import([]byte(blob)) {
				t.Fatalf("ожидали отказ импорта")
			}
			if _, ok := store.Get("m1"); !ok || store.Stats().Total != 1 {
				t.Fatalf("состояние не должно меняться")
			}
		})
	}
}

func TestImportLegacyExport(t *testing.T) {
	store, _ := newTestStore(t, cache.NewMemory(0))
	legacy := `{
  "version": "1.0",
  "exportDate": "2025-10-07T10:00:00.000Z",
  "feedbacks": {
    "msg_1": {"type": "positive", "timestamp": "2025-10-06T10:00:00.000Z", "messageId": "msg_1", "synced": true}
  }
}`
	if !store.Import([]byte(legacy)) {
		t.Fatalf("ожидали успешный импорт старого формата")
	}
	got, ok := store.Get("msg_1")
	if !ok || got.Kind != domain.KindPositive || !got.Synced {
		t.Fatalf("запись не импортирована: %+v", got)
	}
}

func TestMigrationFromLegacyLayout(t *testing.T) {
	backend := cache.NewMemory(0)
	ctx := context.Background()
	legacy := `{
  "msg_1": {"type": "positive", "timestamp": "2025-10-06T10:00:00.000Z", "messageId": "msg_1", "sessionId": "s1", "synced": false},
  "msg_2": {"type": "negative", "timestamp": "2025-10-06T11:00:00.000Z", "messageId": "msg_2", "synced": true},
  "msg_bad": {"type": "neutral", "timestamp": "2025-10-06T11:00:00.000Z", "messageId": "msg_bad"}
}`
	_ = backend.Set(ctx, VersionKey, []byte("1.0"))
	_ = backend.Set(ctx, StorageKey, []byte(legacy))

	store, _ := newTestStore(t, backend)
	if st := store.Stats(); st.Total != 2 || st.Synced != 1 {
		t.Fatalf("неожиданная статистика после миграции: %+v", st)
	}
	if got, _ := store.Get("msg_1"); got.SessionID != "s1" {
		t.Fatalf("sessionId потерян: %+v", got)
	}
	version, err := backend.Get(ctx, VersionKey)
	if err != nil || string(version) != "2" {
		t.Fatalf("версия схемы не обновилась: %q (%v)", version, err)
	}
	data, _ := backend.Get(ctx, StorageKey)
	var blob persistedBlob
	if err := json.Unmarshal(data, &blob); err != nil || blob.Version != SchemaVersion {
		t.Fatalf("данные не переведены в новый формат: %s", data)
	}

	_ = backend.Set(ctx, VersionKey, []byte("1.0"))
	again, _ := newTestStore(t, backend)
	if st := again.Stats(); st.Total != 2 {
		t.Fatalf("повторная миграция должна быть идемпотентной: %+v", st)
	}
	after, _ := backend.Get(ctx, StorageKey)
	if string(after) != string(data) {
		t.Fatalf("повторная миграция не должна менять данные")
	}
}

func TestMigrationWithoutData(t *testing.T) {
	backend := cache.NewMemory(0)
	store, _ := newTestStore(t, backend)
	if store.Stats().Total != 0 {
		t.Fatalf("ожидали пустой кэш")
	}
	version, err := backend.Get(context.Background(), VersionKey)
	if err != nil || string(version) != "2" {
		t.Fatalf("версия схемы должна быть записана: %q (%v)", version, err)
	}
}
