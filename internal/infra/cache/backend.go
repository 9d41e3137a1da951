package cache

import (
	"context"
	"errors"
)

var (
	// ErrNotFound возвращается, если ключ отсутствует.
	ErrNotFound = errors.New("cache: key not found")

	// ErrQuotaExceeded возвращается, когда хранилищу не хватает места.
	ErrQuotaExceeded = errors.New("cache: quota exceeded")

	// ErrUnavailable возвращается, когда хранилище недоступно.
	ErrUnavailable = errors.New("cache: backend unavailable")
)

// Backend хранит значения локального кэша по строковым ключам.
type Backend interface {
	Probe(ctx context.Context) error
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
