// Package ws implements SessionHub (C7): the WebSocket fan-out that gives
// each authenticated user at most one live session and pushes
// NewMessageEvent/StatusEvent traffic to it. The per-user actor shape is
// generalized from the teacher's registry.Hub/Cell virtual-actor registry
// (sync.Map keyed by identity, one goroutine pair per live connection),
// narrowed here to the spec's single-session-per-user invariant.
package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onemail/sync-core/internal/domain"
)

// TokenVerifier resolves the bearer token presented at handshake time to a
// userID, or rejects it. The sync core never issues or validates tokens
// itself — this is the out-of-scope auth collaborator named in spec.md §1.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (userID string, err error)
}

// AgentLifecycle is the narrow Supervisor surface SessionHub drives as
// sessions open and close (spec.md §4.7, "Post-open actions" / "Close"):
// EnsureForUser on open, StopForUser only when a user's last session closes.
type AgentLifecycle interface {
	EnsureForUser(ctx context.Context, userID string) error
	StopForUser(ctx context.Context, userID string) error
}

// Config carries the spec.md §6 knobs that shape session behavior.
type Config struct {
	Heartbeat     time.Duration
	WriteTimeout  time.Duration
	QueueLen      int
}

// Hub is the SessionHub contract (spec.md §4.7 / C7).
type Hub struct {
	verifier   TokenVerifier
	supervisor AgentLifecycle
	cfg        Config
	logger     *slog.Logger
	upgrader   websocket.Upgrader

	mu       sync.Mutex // linearizes Register/replace per user
	sessions sync.Map   // string userID -> *session
}

func New(verifier TokenVerifier, supervisor AgentLifecycle, cfg Config, logger *slog.Logger) *Hub {
	return &Hub{
		verifier:   verifier,
		supervisor: supervisor,
		cfg:        cfg,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP performs the handshake: upgrade, then verify the token,
// closing with code 1008 ("policy violation") on failure (spec.md §4.7).
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", "err", err)
		return
	}

	userID, err := h.verifier.VerifyToken(r.Context(), token)
	if err != nil {
		deadline := time.Now().Add(h.cfg.WriteTimeout)
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized")
		_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = conn.Close()
		return
	}

	h.register(userID, conn)
}

// register installs a new session for userID, closing any prior one with
// close code 1000 and reason "replaced" first (spec.md §4.7, at most one
// session per user). Once registered, it emits the post-open "connection"
// frame and kicks off Supervisor.EnsureForUser in the background, without
// blocking the handshake on either.
func (h *Hub) register(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	if prev, ok := h.sessions.Load(userID); ok {
		prev.(*session).closeWith(websocket.CloseNormalClosure, "replaced")
	}

	sess := newSession(userID, conn, h.cfg, h.logger)
	h.sessions.Store(userID, sess)
	h.mu.Unlock()

	sess.sendConnectionFrame()

	go sess.run(func() {
		h.onSessionClosed(userID, sess)
	})

	if h.supervisor != nil {
		go func() {
			if err := h.supervisor.EnsureForUser(context.Background(), userID); err != nil {
				h.logger.Warn("ws: ensureForUser failed", "userId", userID, "err", err)
			}
		}()
	}
}

// onSessionClosed clears the registry entry if sess is still the current
// session for userID, and — only then, since that means no other live
// session for the user remains — stops every agent for userID (spec.md
// §4.7, "Close").
func (h *Hub) onSessionClosed(userID string, sess *session) {
	h.mu.Lock()
	cur, ok := h.sessions.Load(userID)
	isCurrent := ok && cur.(*session) == sess
	if isCurrent {
		h.sessions.Delete(userID)
	}
	h.mu.Unlock()

	if !isCurrent || h.supervisor == nil {
		return
	}
	if err := h.supervisor.StopForUser(context.Background(), userID); err != nil {
		h.logger.Warn("ws: stopForUser failed", "userId", userID, "err", err)
	}
}

// BroadcastNewMessage delivers a new-message frame to userID's session, if
// any. Frames of this kind are never coalesced (spec.md §4.7).
func (h *Hub) BroadcastNewMessage(ev domain.NewMessageEvent) {
	v, ok := h.sessions.Load(ev.UserID)
	if !ok {
		return
	}
	v.(*session).enqueueNewMessage(ev)
}

// BroadcastStatus delivers a status frame to userID's session, if any.
// Frames of this kind are queued in order and coalesce to the latest value
// per email only once the session's status queue is full (spec.md §4.7).
func (h *Hub) BroadcastStatus(ev domain.StatusEvent) {
	v, ok := h.sessions.Load(ev.UserID)
	if !ok {
		return
	}
	v.(*session).enqueueStatus(ev)
}

// BroadcastAll writes an administrative frame (e.g. "test_message" or
// "broadcast") to every live session, swallowing per-session errors
// (spec.md §4.7, "Broadcast").
func (h *Hub) BroadcastAll(frameType string, data any) {
	frame := outboundFrame{Type: frameType, Data: data}
	h.sessions.Range(func(_, v any) bool {
		v.(*session).enqueueAdmin(frame)
		return true
	})
}

// CloseAll closes every live session with close code 1001 (going away),
// used during process shutdown.
func (h *Hub) CloseAll() {
	h.sessions.Range(func(_, v any) bool {
		v.(*session).closeWith(websocket.CloseGoingAway, "server shutting down")
		return true
	})
}

// ErrNoSession is returned by Session when no session is registered for a
// user; exported for callers that want to distinguish "not connected" from
// other failures.
var ErrNoSession = errors.New("ws: no session for user")

// Session returns the live session state for userID, if any.
func (h *Hub) Session(userID string) (domain.Session, error) {
	v, ok := h.sessions.Load(userID)
	if !ok {
		return domain.Session{}, ErrNoSession
	}
	return v.(*session).snapshot(), nil
}
