package credential

import (
	"context"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sony/gobreaker"

	"github.com/onemail/sync-core/internal/domain"
)

// freshFloor is the minimum remaining validity GetFresh guarantees.
const freshFloor = 60 * time.Second

// ErrNotAuthorized signals the upstream rejected the refresh outright (bad
// refresh token, revoked grant). ErrUnavailable signals the refresh
// transport itself failed and is worth retrying later.
var (
	ErrNotAuthorized = errors.New("credential: not authorized")
	ErrUnavailable   = errors.New("credential: refresh transport unavailable")
)

// Refresher performs the actual upstream OAuth refresh. The sync core never
// implements this itself — it is supplied by the out-of-scope OAuth
// collaborator named in spec.md §1.
type Refresher interface {
	Refresh(ctx context.Context, key domain.AccountKey, refreshToken string) (domain.Credential, error)
}

type stored struct {
	cred domain.Credential
}

// MemoryStore is a reference CredentialStore implementation. It serializes
// refreshes per AccountKey (spec.md §5) with a per-key mutex, protects the
// refresh transport with a per-key circuit breaker so a flapping upstream
// doesn't thundering-herd, and caches the last fresh credential in an LRU so
// repeated GetFresh calls inside the validity window never touch the
// refresher.
type MemoryStore struct {
	refresher Refresher

	mu       sync.RWMutex
	accounts map[domain.AccountKey]*stored

	locks    sync.Map // domain.AccountKey -> *sync.Mutex
	breakers sync.Map // domain.AccountKey -> *gobreaker.CircuitBreaker[domain.Credential]

	cache *lru.Cache[domain.AccountKey, domain.Credential]
}

func NewMemoryStore(refresher Refresher) *MemoryStore {
	cache, _ := lru.New[domain.AccountKey, domain.Credential](4096)
	return &MemoryStore{
		refresher: refresher,
		accounts:  make(map[domain.AccountKey]*stored),
		cache:     cache,
	}
}

// Seed installs a credential for an account, as if OAuth code exchange (out
// of scope here) had just completed. Used by tests and by the out-of-scope
// HTTP layer when wiring a freshly authorized account.
func (s *MemoryStore) Seed(key domain.AccountKey, cred domain.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[key] = &stored{cred: cred}
	s.cache.Add(key, cred)
}

func (s *MemoryStore) GetFresh(ctx context.Context, key domain.AccountKey) (domain.Credential, Outcome) {
	now := time.Now()

	if cred, ok := s.cache.Get(key); ok && cred.FreshFor(now, freshFloor) {
		return cred, Fresh
	}

	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	// Re-check under the lock: another goroutine may have refreshed while we
	// waited.
	if cred, ok := s.cache.Get(key); ok && cred.FreshFor(now, freshFloor) {
		return cred, Fresh
	}

	s.mu.RLock()
	rec, known := s.accounts[key]
	s.mu.RUnlock()
	if !known {
		return domain.Credential{}, NotAuthorized
	}

	breaker := s.breakerFor(key)
	result, err := breaker.Execute(func() (domain.Credential, error) {
		return s.refresher.Refresh(ctx, key, rec.cred.RefreshToken)
	})
	if err != nil {
		if errors.Is(err, ErrNotAuthorized) {
			return domain.Credential{}, NotAuthorized
		}
		// Circuit open, transport error, or context deadline: retryable.
		return domain.Credential{}, Unavailable
	}

	s.mu.Lock()
	s.accounts[key] = &stored{cred: result}
	s.mu.Unlock()
	s.cache.Add(key, result)

	return result, Fresh
}

func (s *MemoryStore) List(ctx context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var emails []string
	for key := range s.accounts {
		if key.UserID == userID {
			emails = append(emails, key.Email)
		}
	}
	return emails, nil
}

func (s *MemoryStore) Revoke(ctx context.Context, userID string, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.accounts {
		if key.UserID != userID {
			continue
		}
		if email != "" && key.Email != email {
			continue
		}
		delete(s.accounts, key)
		s.cache.Remove(key)
	}
	return nil
}

func (s *MemoryStore) lockFor(key domain.AccountKey) *sync.Mutex {
	actual, _ := s.locks.LoadOrStore(key, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

func (s *MemoryStore) breakerFor(key domain.AccountKey) *gobreaker.CircuitBreaker[domain.Credential] {
	if b, ok := s.breakers.Load(key); ok {
		return b.(*gobreaker.CircuitBreaker[domain.Credential])
	}

	settings := gobreaker.Settings{
		Name:        "credential-refresh:" + key.String(),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	b := gobreaker.NewCircuitBreaker[domain.Credential](settings)
	actual, _ := s.breakers.LoadOrStore(key, b)
	return actual.(*gobreaker.CircuitBreaker[domain.Credential])
}
