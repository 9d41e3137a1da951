package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/redis/go-redis/v9"
)

func exerciseBackend(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()
	if err := b.Probe(ctx); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if _, err := b.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}
	if err := b.Set(ctx, "k", []byte("v1")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := b.Set(ctx, "k", []byte("v2")); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := b.Get(ctx, "k")
	if err != nil || string(got) != "v2" {
		t.Fatalf("ожидали v2, получили %q (%v)", got, err)
	}
	if err := b.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := b.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound после удаления, получили %v", err)
	}
}

func TestMemoryBackend(t *testing.T) {
	exerciseBackend(t, NewMemory(0))
}

func TestMemoryQuota(t *testing.T) {
	m := NewMemory(4)
	ctx := context.Background()
	if err := m.Set(ctx, "a", []byte("1234")); err != nil {
		t.Fatalf("set в пределах квоты: %v", err)
	}
	if err := m.Set(ctx, "b", []byte("5")); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("ожидали ErrQuotaExceeded, получили %v", err)
	}
	if err := m.Set(ctx, "a", []byte("abcd")); err != nil {
		t.Fatalf("перезапись того же ключа не должна превышать квоту: %v", err)
	}
}

func TestMemoryUnavailable(t *testing.T) {
	m := NewMemory(0)
	m.SetUnavailable(true)
	if err := m.Probe(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("ожидали ErrUnavailable, получили %v", err)
	}
}

func TestFileBackend(t *testing.T) {
	exerciseBackend(t, NewFile(filepath.Join(t.TempDir(), "cache"), 0))
}

func TestFileQuota(t *testing.T) {
	f := NewFile(t.TempDir(), 8)
	ctx := context.Background()
	if err := f.Probe(ctx); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if err := f.Set(ctx, "a", []byte("12345")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := f.Set(ctx, "b", []byte("12345")); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("ожидали ErrQuotaExceeded, получили %v", err)
	}
}

func TestFileProbeFailsOnFile(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := NewFile(filepath.Join(blocker, "cache"), 0)
	if err := f.Probe(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("ожидали ErrUnavailable, получили %v", err)
	}
}

func TestSanitizeKey(t *testing.T) {
	if got := sanitizeKey("../a b"); got != "___a_b" {
		t.Fatalf("неожиданный ключ: %q", got)
	}
}

func TestRedisBackend(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR не задан")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	exerciseBackend(t, NewRedis(client, "feedback-test:"))
}
