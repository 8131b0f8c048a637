package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onemail/sync-core/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// noopLifecycle satisfies AgentLifecycle without a real Supervisor, for
// tests that only exercise the session registry and framing.
type noopLifecycle struct{}

func (noopLifecycle) EnsureForUser(ctx context.Context, userID string) error { return nil }
func (noopLifecycle) StopForUser(ctx context.Context, userID string) error  { return nil }

func testHub() *Hub {
	return New(StaticVerifier{}, noopLifecycle{}, Config{
		Heartbeat:    time.Minute,
		WriteTimeout: time.Second,
		QueueLen:     4,
	}, testLogger())
}

func dial(t *testing.T, srv *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestHub_SessionReplacementClosesPrior(t *testing.T) {
	hub := testHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	first := dial(t, srv, "u1")
	defer first.Close()

	// drain the post-handshake "connection" frame before replacing.
	first.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := first.ReadMessage()
	require.NoError(t, err, "first session should receive the initial connection frame")

	second := dial(t, srv, "u1")
	defer second.Close()

	first.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err = first.ReadMessage()
	require.Error(t, err, "first session must receive a close after replacement")

	closeErr, ok := err.(*websocket.CloseError)
	if ok {
		assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
	}
}

func TestHub_BroadcastNewMessageDeliversFrame(t *testing.T) {
	hub := testHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv, "u1")
	defer conn.Close()

	// drain the post-handshake "connection" frame first.
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage()
	require.NoError(t, err)

	hub.BroadcastNewMessage(domain.NewMessageEvent{UserID: "u1", Message: domain.StoredMessage{ID: "id1", Email: "a@b.com"}})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), "new_email")
	assert.Contains(t, string(data), "id1")
}

func TestHub_PingIsAnsweredWithPong(t *testing.T) {
	hub := testHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv, "u1")
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage() // connection frame
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"pong"`)
}

func TestHub_BroadcastAllDeliversAdminFrame(t *testing.T) {
	hub := testHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv, "u1")
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage() // connection frame
	require.NoError(t, err)

	hub.BroadcastAll("test_message", map[string]string{"hello": "world"})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), "test_message")
	assert.Contains(t, string(data), "world")
}
