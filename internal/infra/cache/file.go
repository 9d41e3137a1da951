package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

const probeKey = "__storage_test__"

// File хранит каждый ключ отдельным файлом в каталоге.
type File struct {
	dir   string
	quota int64
}

// NewFile создаёт файловое хранилище; quota <= 0 отключает ограничение.
func NewFile(dir string, quota int64) *File {
	return &File{dir: dir, quota: quota}
}

// Probe создаёт каталог и пробует записать и удалить тестовый ключ.
func (f *File) Probe(ctx context.Context) error {
	if strings.TrimSpace(f.dir) == "" {
		return fmt.Errorf("%w: empty directory", ErrUnavailable)
	}
	if err := os.MkdirAll(f.dir, 0o700); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := f.Set(ctx, probeKey, []byte("test")); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := f.Delete(ctx, probeKey); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Get читает значение ключа.
func (f *File) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Set атомарно записывает значение через временный файл.
func (f *File) Set(_ context.Context, key string, value []byte) error {
	if f.quota > 0 {
		used, err := f.usage(key)
		if err != nil {
			return err
		}
		if used+int64(len(value)) > f.quota {
			return ErrQuotaExceeded
		}
	}
	tmp, err := os.CreateTemp(f.dir, ".tmp-*")
	if err != nil {
		return mapWriteErr(err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return mapWriteErr(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return mapWriteErr(err)
	}
	if err := os.Rename(tmpName, f.path(key)); err != nil {
		_ = os.Remove(tmpName)
		return mapWriteErr(err)
	}
	return nil
}

// Delete удаляет ключ; отсутствие ключа не считается ошибкой.
func (f *File) Delete(_ context.Context, key string) error {
	if err := os.Remove(f.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (f *File) path(key string) string {
	return filepath.Join(f.dir, sanitizeKey(key)+".json")
}

func (f *File) usage(except string) (int64, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return 0, fmt.Errorf("read dir: %w", err)
	}
	skip := filepath.Base(f.path(except))
	var total int64
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == skip || strings.HasPrefix(entry.Name(), ".tmp-") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}

func mapWriteErr(err error) error {
	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT) {
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	}
	return err
}

func sanitizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, key)
}
