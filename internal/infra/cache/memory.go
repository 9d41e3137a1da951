package cache

import (
	"context"
	"sync"
)

// Memory реализует Backend в памяти процесса с необязательной квотой.
type Memory struct {
	mu          sync.Mutex
	values      map[string][]byte
	quota       int64
	unavailable bool
	failSets    int
}

// NewMemory создаёт хранилище; quota <= 0 отключает ограничение.
func NewMemory(quota int64) *Memory {
	return &Memory{values: make(map[string][]byte), quota: quota}
}

// SetUnavailable переключает имитацию недоступного хранилища.
func (m *Memory) SetUnavailable(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = v
}

// FailNextSets заставляет следующие n вызовов Set вернуть ErrQuotaExceeded.
func (m *Memory) FailNextSets(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSets = n
}

// Probe проверяет доступность.
func (m *Memory) Probe(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return ErrUnavailable
	}
	return nil
}

// Get возвращает копию значения.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return nil, ErrUnavailable
	}
	v, ok := m.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Set сохраняет значение, соблюдая квоту.
func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return ErrUnavailable
	}
	if m.failSets > 0 {
		m.failSets--
		return ErrQuotaExceeded
	}
	if m.quota > 0 {
		used := int64(len(value))
		for k, v := range m.values {
			if k != key {
				used += int64(len(v))
			}
		}
		if used > m.quota {
			return ErrQuotaExceeded
		}
	}
	m.values[key] = append([]byte(nil), value...)
	return nil
}

// Delete удаляет ключ.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return ErrUnavailable
	}
	delete(m.values, key)
	return nil
}
