package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/soaringjerry/Emtrip/internal/models"
)

// audit log
type AuditEntry struct {
	Time   time.Time `json:"time"`
	Actor  string    `json:"actor"`
	Action string    `json:"action"`
	Target string    `json:"target"`
	Note   string    `json:"note,omitempty"`
}

// LegacySnapshot is the on-disk JSON layout of the memory backend.
type LegacySnapshot struct {
	Values   map[string]json.RawMessage `json:"values"`
	Messages []*models.Message          `json:"messages"`
	Audit    []AuditEntry               `json:"audit"`
}

// MemoryStore keeps everything in process memory. When created with a path it
// rewrites the snapshot file after every mutation.
type MemoryStore struct {
	mu       sync.RWMutex
	values   map[string]json.RawMessage
	messages []*models.Message
	audit    []AuditEntry
	path     string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:   map[string]json.RawMessage{},
		messages: []*models.Message{},
		audit:    []AuditEntry{},
	}
}

// NewMemoryStoreFromPath loads the snapshot at path. The error wraps
// os.ErrNotExist when there is no file yet.
func NewMemoryStoreFromPath(path string) (*MemoryStore, error) {
	if path == "" {
		return nil, fmt.Errorf("snapshot path: %w", os.ErrNotExist)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var snap LegacySnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	s := NewMemoryStore()
	s.path = path
	for k, v := range snap.Values {
		s.values[k] = v
	}
	for _, m := range snap.Messages {
		if m != nil {
			s.messages = append(s.messages, m)
		}
	}
	sort.SliceStable(s.messages, func(i, j int) bool { return s.messages[i].WriteTs < s.messages[j].WriteTs })
	s.audit = append(s.audit, snap.Audit...)
	return s, nil
}

// OpenMemoryStore loads the snapshot at path, starting empty if it does not
// exist yet. Later writes are saved back to path.
func OpenMemoryStore(path string) (*MemoryStore, error) {
	s, err := NewMemoryStoreFromPath(path)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	s = NewMemoryStore()
	s.path = path
	return s, nil
}

// Snapshot returns a deep copy of the store contents.
func (s *MemoryStore) Snapshot() *LegacySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *MemoryStore) snapshotLocked() *LegacySnapshot {
	snap := &LegacySnapshot{
		Values:   make(map[string]json.RawMessage, len(s.values)),
		Messages: make([]*models.Message, 0, len(s.messages)),
		Audit:    make([]AuditEntry, len(s.audit)),
	}
	for k, v := range s.values {
		snap.Values[k] = append(json.RawMessage(nil), v...)
	}
	for _, m := range s.messages {
		snap.Messages = append(snap.Messages, cloneMessage(m))
	}
	copy(snap.Audit, s.audit)
	return snap
}

// SaveSnapshot writes the store contents to path atomically.
func (s *MemoryStore) SaveSnapshot(path string) error {
	s.mu.RLock()
	snap := s.snapshotLocked()
	s.mu.RUnlock()
	return writeSnapshot(path, snap)
}

func writeSnapshot(path string, snap *LegacySnapshot) error {
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

// persistLocked must be called with s.mu held for writing. Callers undo their
// change when it fails so memory never holds what the file does not.
func (s *MemoryStore) persistLocked() error {
	if s.path == "" {
		return nil
	}
	return writeSnapshot(s.path, s.snapshotLocked())
}

func (s *MemoryStore) GetValue(ctx context.Context, key string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return nil, nil
	}
	return append(json.RawMessage(nil), v...), nil
}

func (s *MemoryStore) PutValue(ctx context.Context, key string, value json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !json.Valid(value) {
		return errors.New("value is not valid JSON")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.values[key]
	s.values[key] = append(json.RawMessage(nil), value...)
	if err := s.persistLocked(); err != nil {
		if had {
			s.values[key] = prev
		} else {
			delete(s.values, key)
		}
		return err
	}
	return nil
}

func (s *MemoryStore) AddMessage(ctx context.Context, m *models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m == nil || m.ID == "" || m.Key == "" {
		return errors.New("message id and key required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.messages)
	s.messages = append(s.messages, cloneMessage(m))
	if err := s.persistLocked(); err != nil {
		s.messages[n] = nil
		s.messages = s.messages[:n]
		return err
	}
	return nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, key string, includeDeleted bool) ([]*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Message{}
	for _, m := range s.messages {
		if m.Key != key || (m.Deleted && !includeDeleted) {
			continue
		}
		out = append(out, cloneMessage(m))
	}
	return out, nil
}

// AddAudit is best effort: an entry that cannot be persisted is dropped.
func (s *MemoryStore) AddAudit(e AuditEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.audit)
	s.audit = append(s.audit, e)
	if err := s.persistLocked(); err != nil {
		s.audit = s.audit[:n]
	}
}

func (s *MemoryStore) ListAudit() []AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AuditEntry, len(s.audit))
	copy(out, s.audit)
	return out
}

func cloneMessage(m *models.Message) *models.Message {
	c := *m
	c.Data = append(json.RawMessage(nil), m.Data...)
	return &c
}
