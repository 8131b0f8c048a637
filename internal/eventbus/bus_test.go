package eventbus

import (
	"context"
	"log/slog"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/onemail/sync-core/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBus_PublishSubscribeNewMessage(t *testing.T) {
	bus := New(testLogger(), 16)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := bus.SubscribeNewMessage(ctx)
	require.NoError(t, err)

	ev := domain.NewMessageEvent{UserID: "u1", Message: domain.StoredMessage{ID: "u1|a@b.com|1", Email: "a@b.com"}}
	bus.PublishNewMessage(ctx, ev)

	select {
	case got := <-sub:
		require.Equal(t, ev.UserID, got.UserID)
		require.Equal(t, ev.Message.ID, got.Message.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_PublishNeverBlocksWhenQueueFull(t *testing.T) {
	bus := New(testLogger(), 1)
	defer bus.Close()

	ctx := context.Background()
	// No subscriber at all: every publish must still return immediately.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			bus.PublishStatus(ctx, domain.StatusEvent{UserID: "u1", Email: "a@b.com"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked; expected non-blocking drop semantics")
	}
}
