package syncstate

import (
	"context"
	"sync"

	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/models"
)

// MemoryStore keeps state in process memory. It backs tests and
// single-run invocations where persistence across restarts does not
// matter.
type MemoryStore struct {
	mu      sync.Mutex
	states  map[string]models.SyncState
	history map[string][]models.ScanResult
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:  make(map[string]models.SyncState),
		history: make(map[string][]models.ScanResult),
	}
}

func (s *MemoryStore) Load(_ context.Context, accountID string) (*models.SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[accountID]
	if !ok {
		return nil, nil
	}
	copied := state
	copied.RecentlyProcessed = append([]uint32(nil), state.RecentlyProcessed...)
	return &copied, nil
}

func (s *MemoryStore) Save(_ context.Context, state *models.SyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *state
	copied.RecentlyProcessed = append([]uint32(nil), state.RecentlyProcessed...)
	s.states[state.AccountID] = copied
	return nil
}

func (s *MemoryStore) AppendHistory(_ context.Context, accountID string, result models.ScanResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history[accountID] = append(s.history[accountID], result)
	return nil
}

func (s *MemoryStore) TrimHistory(_ context.Context, accountID string, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if keep <= 0 {
		keep = DefaultHistoryKeep
	}
	h := s.history[accountID]
	if len(h) > keep {
		s.history[accountID] = append([]models.ScanResult(nil), h[len(h)-keep:]...)
	}
	return nil
}

func (s *MemoryStore) History(_ context.Context, accountID string, limit int) ([]models.ScanResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.history[accountID]
	// most recent first
	out := make([]models.ScanResult, 0, len(h))
	for i := len(h) - 1; i >= 0; i-- {
		out = append(out, h[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
