package localcache

import (
	"encoding/json"
	"fmt"
	"time"

	"feedback-sync/internal/domain"
)

type storedEntry struct {
	Kind      domain.Kind    `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"sessionId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Synced    bool           `json:"synced"`
}

type persistedBlob struct {
	Version int                    `json:"version"`
	Entries map[string]storedEntry `json:"entries"`
}

type exportedSnapshot struct {
	Version    int                    `json:"version"`
	ExportedAt time.Time              `json:"exportedAt"`
	Entries    map[string]storedEntry `json:"entries"`
}

// legacyEntry формат первой версии хранилища.
type legacyEntry struct {
	Type      domain.Kind `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	MessageID string      `json:"messageId"`
	SessionID string      `json:"sessionId,omitempty"`
	Synced    bool        `json:"synced"`
}

type importedSnapshot struct {
	Entries   map[string]storedEntry `json:"entries"`
	Feedbacks map[string]legacyEntry `json:"feedbacks"`
}

func toStored(entries map[string]Entry) map[string]storedEntry {
	out := make(map[string]storedEntry, len(entries))
	for id, e := range entries {
		out[id] = storedEntry{
			Kind:      e.Kind,
			Timestamp: e.Timestamp,
			SessionID: e.SessionID,
			Metadata:  e.Metadata,
			Synced:    e.Synced,
		}
	}
	return out
}

func fromLegacy(legacy map[string]legacyEntry) map[string]storedEntry {
	out := make(map[string]storedEntry, len(legacy))
	for id, le := range legacy {
		out[id] = storedEntry{
			Kind:      le.Type,
			Timestamp: le.Timestamp,
			SessionID: le.SessionID,
			Synced:    le.Synced,
		}
	}
	return out
}

// Export сериализует все записи в версионированный снимок.
func (s *Store) Export() ([]byte, error) {
	s.mu.Lock()
	snap := exportedSnapshot{
		Version:    SchemaVersion,
		ExportedAt: s.now().UTC(),
		Entries:    toStored(s.entries),
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, nil
}

// Import заменяет все записи снимком. Некорректный снимок не меняет состояние.
func (s *Store) Import(data []byte) bool {
	var snap importedSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.log.Error().Err(err).Msg("localcache: не удалось разобрать снимок")
		return false
	}
	stored := snap.Entries
	if stored == nil && snap.Feedbacks != nil {
		stored = fromLegacy(snap.Feedbacks)
	}
	if stored == nil {
		s.log.Error().Msg("localcache: в снимке нет записей")
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entries, bad := s.fromStored(stored, true)
	if bad > 0 {
		s.log.Error().Msg("localcache: снимок содержит некорректную запись")
		return false
	}
	s.entries = entries
	s.persistLocked()
	return true
}
