package index

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/onemail/sync-core/internal/domain"
)

// MemoryStore is a reference, process-local EmailIndex. It is what the
// default wiring (cmd/synccore) and the test suite use in place of a real
// search backend.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]domain.StoredMessage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]domain.StoredMessage)}
}

func (s *MemoryStore) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byID[id]
	return ok, nil
}

func (s *MemoryStore) Insert(ctx context.Context, msg domain.StoredMessage) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[msg.ID]; exists {
		return Conflict, nil
	}
	s.byID[msg.ID] = msg
	return OK, nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, patch domain.MessagePatch) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.byID[id]
	if !ok {
		return NotFound, nil
	}
	if patch.IsRead != nil {
		msg.IsRead = *patch.IsRead
	}
	if patch.IsStarred != nil {
		msg.IsStarred = *patch.IsStarred
	}
	if patch.Category != nil {
		msg.Category = *patch.Category
	}
	msg.UpdatedAt = time.Now().UTC()
	s.byID[id] = msg
	return OK, nil
}

func (s *MemoryStore) Get(ctx context.Context, userID, id string) (domain.StoredMessage, Outcome) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.byID[id]
	if !ok || msg.UserID != userID {
		return domain.StoredMessage{}, NotFound
	}
	return msg, OK
}

// Search is a linear substring scan over subject/from/body. Real search is
// explicitly out of scope (spec.md §1); this exists only so Exists/Insert
// callers in this package have a working Index to drive in tests.
func (s *MemoryStore) Search(ctx context.Context, userID, query string) ([]domain.StoredMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(query)
	var out []domain.StoredMessage
	for _, msg := range s.byID {
		if msg.UserID != userID {
			continue
		}
		if q == "" ||
			strings.Contains(strings.ToLower(msg.Subject), q) ||
			strings.Contains(strings.ToLower(msg.From), q) ||
			strings.Contains(strings.ToLower(msg.Body), q) {
			out = append(out, msg)
		}
	}
	return out, nil
}
