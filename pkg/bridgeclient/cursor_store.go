package bridgeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// CursorStore persists the last-seen log sequenceNumber per stream
// subscriber, so a reconnecting LogStream can resume roughly where it left
// off instead of replaying the whole ring buffer (the wire protocol itself
// has no replay-by-cursor endpoint, so this is advisory: a resumed stream
// still starts from "now" server-side and relies on /logs/tail?full=true
// to backfill the gap, if the caller wants it).
type CursorStore interface {
	LoadCursor(ctx context.Context, streamID string) (uint64, error)
	SaveCursor(ctx context.Context, streamID string, seq uint64) error
}

// MemoryCursorStore stores cursors in-memory only.
type MemoryCursorStore struct {
	mu   sync.RWMutex
	data map[string]uint64
}

// NewMemoryCursorStore creates an in-memory cursor store.
func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{data: make(map[string]uint64)}
}

func (s *MemoryCursorStore) LoadCursor(ctx context.Context, streamID string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data[streamID], nil
}

func (s *MemoryCursorStore) SaveCursor(ctx context.Context, streamID string, seq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[streamID] = seq
	return nil
}

// FileCursorStore persists cursors to a JSON file for cross-process
// resume (e.g. a CLI `logs follow` invocation that gets re-run).
type FileCursorStore struct {
	mu   sync.Mutex
	path string
}

// NewFileCursorStore creates a file-backed cursor store at path.
func NewFileCursorStore(path string) *FileCursorStore {
	return &FileCursorStore{path: path}
}

func (s *FileCursorStore) LoadCursor(ctx context.Context, streamID string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readAllLocked()
	if err != nil {
		return 0, err
	}
	return all[streamID], nil
}

func (s *FileCursorStore) SaveCursor(ctx context.Context, streamID string, seq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readAllLocked()
	if err != nil {
		return err
	}
	all[streamID] = seq

	encoded, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("bridgeclient: marshal cursor file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("bridgeclient: mkdir cursor dir: %w", err)
	}
	return os.WriteFile(s.path, encoded, 0o644)
}

func (s *FileCursorStore) readAllLocked() (map[string]uint64, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]uint64{}, nil
		}
		return nil, fmt.Errorf("bridgeclient: read cursor file: %w", err)
	}
	all := map[string]uint64{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &all); err != nil {
			return nil, fmt.Errorf("bridgeclient: parse cursor file: %w", err)
		}
	}
	return all, nil
}
