package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onemail/sync-core/internal/classify"
	"github.com/onemail/sync-core/internal/credential"
	"github.com/onemail/sync-core/internal/domain"
	"github.com/onemail/sync-core/internal/eventbus"
	"github.com/onemail/sync-core/internal/index"
	"github.com/onemail/sync-core/internal/ingest"
	"github.com/onemail/sync-core/internal/mailbox"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// blockingSession never produces backfill data and idles until its ctx is
// cancelled, so an agent built on it stays Idle until Stop/Shutdown.
type blockingSession struct{}

func (blockingSession) Backfill(ctx context.Context, since time.Time) ([]domain.RawMessage, error) {
	return nil, nil
}
func (blockingSession) Idle(ctx context.Context) (<-chan int, <-chan error, func()) {
	updates := make(chan int)
	idleErr := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		select {
		case idleErr <- nil:
		default:
		}
		close(done)
	}()
	return updates, idleErr, func() {}
}
func (blockingSession) FetchNewest(ctx context.Context, n int) ([]domain.RawMessage, error) {
	return nil, nil
}
func (blockingSession) Noop(ctx context.Context) error   { return nil }
func (blockingSession) Close(ctx context.Context) error { return nil }

type fakeDialer struct{}

func (fakeDialer) Dial(ctx context.Context, key domain.AccountKey, cred domain.Credential) (mailbox.Session, error) {
	return blockingSession{}, nil
}

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	creds := credential.NewMemoryStore(credential.NullRefresher{})
	bus := eventbus.New(testLogger(), 16)
	t.Cleanup(func() { _ = bus.Close() })
	idx := index.NewMemoryStore()
	pipeline := ingest.New(idx, classify.NewDeterministic(), bus, testLogger())

	agentCfg := mailbox.Config{
		BackfillWindow: time.Hour,
		IdleMax:        time.Minute,
		ConnectTimeout: time.Second,
		FetchTimeout:   time.Second,
		RetryBase:      10 * time.Millisecond,
		RetryCap:       50 * time.Millisecond,
	}
	return New(fakeDialer{}, creds, pipeline, bus, agentCfg, 2*time.Second, testLogger())
}

func seedCredential(t *testing.T, sup *Supervisor, key domain.AccountKey) {
	t.Helper()
	store := sup.creds.(*credential.MemoryStore)
	store.Seed(key, domain.Credential{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)})
}

func TestSupervisor_StartIsIdempotent(t *testing.T) {
	sup := newTestSupervisor(t)
	key := domain.NewAccountKey("u1", "a@b.com")
	seedCredential(t, sup, key)

	require.NoError(t, sup.Start(context.Background(), key))
	err := sup.Start(context.Background(), key)
	require.ErrorIs(t, err, ErrAlreadyRunning, "second Start for the same key must report AlreadyRunning")
	assert.Len(t, sup.StatusAll(), 1, "agent count must remain 1")

	require.Eventually(t, func() bool {
		state, ok := sup.Status(key)
		return ok && state.Kind == domain.AgentIdle
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, sup.Stop(context.Background(), key))
}

func TestSupervisor_StopIsAlwaysSafe(t *testing.T) {
	sup := newTestSupervisor(t)
	key := domain.NewAccountKey("u1", "a@b.com")

	assert.NoError(t, sup.Stop(context.Background(), key), "stopping a key with no agent must be a no-op")
	assert.NoError(t, sup.Stop(context.Background(), key))
}

func TestSupervisor_ShutdownStopsEveryAgentWithinDeadline(t *testing.T) {
	sup := newTestSupervisor(t)
	keys := []domain.AccountKey{
		domain.NewAccountKey("u1", "a@b.com"),
		domain.NewAccountKey("u2", "c@d.com"),
	}
	for _, key := range keys {
		seedCredential(t, sup, key)
		require.NoError(t, sup.Start(context.Background(), key))
	}

	require.Eventually(t, func() bool {
		return len(sup.StatusAll()) == 2
	}, time.Second, 10*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- sup.Shutdown(context.Background()) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Shutdown did not return within its own deadline budget")
	}

	assert.Empty(t, sup.StatusAll(), "no agents should remain registered after Shutdown")
}

func TestSupervisor_EnsureForUserSwallowsAlreadyRunning(t *testing.T) {
	sup := newTestSupervisor(t)
	key := domain.NewAccountKey("u1", "a@b.com")
	seedCredential(t, sup, key)

	require.NoError(t, sup.Start(context.Background(), key))
	require.Eventually(t, func() bool {
		state, ok := sup.Status(key)
		return ok && state.Kind == domain.AgentIdle
	}, time.Second, 10*time.Millisecond)

	// EnsureForUser must treat the already-running agent as a no-op rather
	// than surfacing ErrAlreadyRunning, since that outcome only signals
	// "leave it alone" here (spec.md §4.5).
	err := sup.EnsureForUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, errors.Is(err, ErrAlreadyRunning))
	assert.Len(t, sup.StatusAll(), 1)

	require.NoError(t, sup.Stop(context.Background(), key))
}

func TestSupervisor_StatusForUserFiltersByUser(t *testing.T) {
	sup := newTestSupervisor(t)
	k1 := domain.NewAccountKey("u1", "a@b.com")
	k2 := domain.NewAccountKey("u2", "c@d.com")
	seedCredential(t, sup, k1)
	seedCredential(t, sup, k2)

	require.NoError(t, sup.Start(context.Background(), k1))
	require.NoError(t, sup.Start(context.Background(), k2))

	require.Eventually(t, func() bool {
		return len(sup.StatusForUser("u1")) == 1
	}, time.Second, 10*time.Millisecond)

	statuses := sup.StatusForUser("u1")
	_, ok := statuses["a@b.com"]
	assert.True(t, ok)
	_, ok = statuses["c@d.com"]
	assert.False(t, ok)
}
