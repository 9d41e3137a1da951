package localcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"feedback-sync/internal/infra/cache"
)

// migrate приводит содержимое хранилища к SchemaVersion. Повторный запуск ничего не меняет.
func (s *Store) migrate() {
	ctx, cancel := s.ctx()
	defer cancel()

	current := strconv.Itoa(SchemaVersion)
	raw, err := s.backend.Get(ctx, VersionKey)
	switch {
	case err == nil && strings.TrimSpace(string(raw)) == current:
		return
	case err != nil && !errors.Is(err, cache.ErrNotFound):
		s.log.Error().Err(err).Msg("localcache: не удалось прочитать версию схемы")
		return
	}
	from := strings.TrimSpace(string(raw))
	s.log.Info().Str("from", from).Str("to", current).Msg("localcache: миграция хранилища")

	data, err := s.backend.Get(ctx, StorageKey)
	switch {
	case errors.Is(err, cache.ErrNotFound):
	case err != nil:
		s.log.Error().Err(err).Msg("localcache: миграция прервана")
		return
	default:
		upgraded, changed, err := upgradeBlob(data)
		if err != nil {
			s.log.Error().Err(err).Msg("localcache: данные не распознаны, оставляем как есть")
			break
		}
		if changed {
			if err := s.backend.Set(ctx, StorageKey, upgraded); err != nil {
				s.log.Error().Err(err).Msg("localcache: не удалось записать мигрированные данные")
				return
			}
		}
	}
	if err := s.backend.Set(ctx, VersionKey, []byte(current)); err != nil {
		s.log.Error().Err(err).Msg("localcache: не удалось записать версию схемы")
	}
}

// upgradeBlob переводит плоскую карту первой версии в текущий формат.
func upgradeBlob(data []byte) ([]byte, bool, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, false, fmt.Errorf("decode blob: %w", err)
	}
	if isCurrentLayout(fields) {
		return data, false, nil
	}
	legacy := make(map[string]legacyEntry, len(fields))
	for id, rawEntry := range fields {
		var le legacyEntry
		if err := json.Unmarshal(rawEntry, &le); err != nil || !le.Type.Valid() || le.Timestamp.IsZero() {
			continue
		}
		legacy[id] = le
	}
	out, err := json.Marshal(persistedBlob{Version: SchemaVersion, Entries: fromLegacy(legacy)})
	if err != nil {
		return nil, false, fmt.Errorf("encode blob: %w", err)
	}
	return out, true, nil
}

func isCurrentLayout(fields map[string]json.RawMessage) bool {
	rawVersion, ok := fields["version"]
	if !ok {
		return false
	}
	if _, ok := fields["entries"]; !ok {
		return false
	}
	var version int
	if err := json.Unmarshal(rawVersion, &version); err != nil {
		return false
	}
	return version == SchemaVersion
}
