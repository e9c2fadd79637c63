package jobs

import (
	"context"
	"sync"

	"github.com/yairfalse/vahti/internal/storage"
	"github.com/yairfalse/vahti/pkg/types"
)

// memStore is an in-memory store for processing tests
type memStore struct {
	mu   sync.Mutex
	data map[string][]types.Snapshot
}

var _ storage.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]types.Snapshot)}
}

func (s *memStore) Load(ctx context.Context, guid string) (types.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h := s.data[guid]; len(h) > 0 {
		return h[0], nil
	}
	return types.EmptySnapshot(), nil
}

func (s *memStore) Save(ctx context.Context, guid string, snapshot types.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[guid] = append([]types.Snapshot{snapshot}, s.data[guid]...)
	return nil
}

func (s *memStore) DeleteLatest(ctx context.Context, guid string, temporary bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.data[guid]) == 0 {
		return false, nil
	}
	s.data[guid] = s.data[guid][1:]
	return true, nil
}

func (s *memStore) GetHistorySnapshots(ctx context.Context, guid string, count int) ([]types.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.data[guid]
	if count > 0 && len(h) > count {
		h = h[:count]
	}
	return append([]types.Snapshot(nil), h...), nil
}

func (s *memStore) GetGUIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	guids := make([]string, 0, len(s.data))
	for guid := range s.data {
		guids = append(guids, guid)
	}
	return guids, nil
}

func (s *memStore) Move(ctx context.Context, oldGUID, newGUID string) (int, error) { return 0, nil }
func (s *memStore) GC(ctx context.Context, known []string, keep int) (int, error) { return 0, nil }
func (s *memStore) CleanCache(ctx context.Context) (int, error)                  { return 0, nil }
func (s *memStore) RollbackCache(ctx context.Context, ts float64) (int, error)   { return 0, nil }
func (s *memStore) Close() error                                                 { return nil }
