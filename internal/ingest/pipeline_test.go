package ingest

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onemail/sync-core/internal/classify"
	"github.com/onemail/sync-core/internal/domain"
	"github.com/onemail/sync-core/internal/eventbus"
	"github.com/onemail/sync-core/internal/index"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPipeline(t *testing.T) (*Pipeline, index.Index, *eventbus.Bus) {
	t.Helper()
	idx := index.NewMemoryStore()
	bus := eventbus.New(testLogger(), 16)
	t.Cleanup(func() { _ = bus.Close() })
	p := New(idx, classify.NewDeterministic(), bus, testLogger())
	p.sleep = func(time.Duration) {} // don't actually sleep in tests
	return p, idx, bus
}

func TestIngest_ExactlyOnceInsertAndEvent(t *testing.T) {
	p, idx, bus := newTestPipeline(t)
	key := domain.NewAccountKey("u1", "a@b.com")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := bus.SubscribeNewMessage(ctx)
	require.NoError(t, err)

	raw := domain.RawMessage{UID: 42, Subject: "hello", Date: time.Now()}

	outcome := p.Ingest(context.Background(), key, "INBOX", raw)
	require.Equal(t, Inserted, outcome)

	select {
	case ev := <-sub:
		assert.Equal(t, "u1", ev.UserID)
		assert.Equal(t, uint64(42), ev.Message.UID)
	case <-time.After(time.Second):
		t.Fatal("expected a NewMessageEvent for the first insert")
	}

	exists, err := idx.Exists(context.Background(), domain.MessageID(key, 42))
	require.NoError(t, err)
	require.True(t, exists)

	// Re-ingesting the same UID must be a no-op duplicate, not a second
	// insert or a second event.
	outcome = p.Ingest(context.Background(), key, "INBOX", raw)
	assert.Equal(t, Duplicate, outcome)
}

type flakyIndex struct {
	index.Index
	failN int
	calls int
}

func (f *flakyIndex) Insert(ctx context.Context, msg domain.StoredMessage) (index.Outcome, error) {
	f.calls++
	if f.calls <= f.failN {
		return index.Transient, nil
	}
	return f.Index.Insert(ctx, msg)
}

func TestIngest_RetriesTransientThenSucceeds(t *testing.T) {
	bus := eventbus.New(testLogger(), 16)
	defer bus.Close()
	flaky := &flakyIndex{Index: index.NewMemoryStore(), failN: 2}
	p := New(flaky, classify.NewDeterministic(), bus, testLogger())
	p.sleep = func(time.Duration) {}

	outcome := p.Ingest(context.Background(), domain.NewAccountKey("u1", "a@b.com"), "INBOX", domain.RawMessage{UID: 1})
	assert.Equal(t, Inserted, outcome)
	assert.Equal(t, 3, flaky.calls)
}

func TestIngest_AbandonsAfterRetryExhaustion(t *testing.T) {
	bus := eventbus.New(testLogger(), 16)
	defer bus.Close()
	flaky := &flakyIndex{Index: index.NewMemoryStore(), failN: 10}
	p := New(flaky, classify.NewDeterministic(), bus, testLogger())
	p.sleep = func(time.Duration) {}

	outcome := p.Ingest(context.Background(), domain.NewAccountKey("u1", "a@b.com"), "INBOX", domain.RawMessage{UID: 1})
	assert.Equal(t, Abandoned, outcome)
	assert.Equal(t, 4, flaky.calls, "one initial attempt plus 3 retries")
}
