package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/onemail/sync-core/internal/domain"
)

// outboundFrame is the wire shape pushed to the client (spec.md §4.7,
// "Outbound frames are JSON objects {type, data}").
type outboundFrame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// pongData is the payload of a pong reply to a client ping.
type pongData struct {
	At time.Time `json:"at"`
}

// connectionData is the payload of the frame sent immediately after a
// successful handshake (spec.md §4.7, "Post-open actions").
type connectionData struct {
	UserID string    `json:"userId"`
	At     time.Time `json:"at"`
}

// session is the per-user actor: one goroutine pair (read pump, write
// pump) owning exactly one *websocket.Conn, mirroring the teacher's
// registry.Cell shape narrowed to a single connection per user.
type session struct {
	id     string
	userID string
	conn   *websocket.Conn
	cfg    Config
	logger *slog.Logger

	newMessages chan outboundFrame // bounded SESSION_QUEUE, never coalesced
	control     chan outboundFrame // connection/pong/broadcast/test_message, best-effort

	statusMu     sync.Mutex
	statusQueue  []domain.StatusEvent // bounded SESSION_QUEUE; coalesced only on overflow
	statusSignal chan struct{}

	subscribedMu sync.Mutex
	subscribed   map[string]bool

	lastPong atomic.Int64 // unix nanos
	openedAt time.Time

	closeOnce sync.Once
	closed    chan struct{}
}

func newSession(userID string, conn *websocket.Conn, cfg Config, logger *slog.Logger) *session {
	id := uuid.NewString()
	s := &session{
		id:           id,
		userID:       userID,
		conn:         conn,
		cfg:          cfg,
		logger:       logger.With("userId", userID, "sessionId", id),
		newMessages:  make(chan outboundFrame, cfg.QueueLen),
		control:      make(chan outboundFrame, 32),
		statusSignal: make(chan struct{}, 1),
		subscribed:   make(map[string]bool),
		openedAt:     time.Now().UTC(),
		closed:       make(chan struct{}),
	}
	s.lastPong.Store(time.Now().UnixNano())
	return s
}

func (s *session) snapshot() domain.Session {
	return domain.Session{
		UserID:   s.userID,
		LastPong: time.Unix(0, s.lastPong.Load()).UTC(),
		OpenedAt: s.openedAt,
	}
}

// run drives the session until the connection closes for any reason, then
// calls onDone exactly once so the Hub can drop the registry entry.
func (s *session) run(onDone func()) {
	defer onDone()
	defer s.conn.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.readPump()
	}()

	s.writePump()
	wg.Wait()
}

func (s *session) readPump() {
	s.conn.SetReadLimit(8192)
	s.conn.SetPongHandler(func(string) error {
		s.lastPong.Store(time.Now().UnixNano())
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.closeWith(websocket.CloseNoStatusReceived, "read error")
			return
		}
		s.handleClientFrame(data)
	}
}

// clientFrame is every inbound shape the protocol accepts, discriminated by
// Type (spec.md §4.7): "ping" (replied with pong), "subscribe" (acknowledged
// silently, advisory only — SPEC_FULL.md §9 Open Question 2, every event is
// still delivered regardless of subscribed topics). Unknown types are
// ignored.
type clientFrame struct {
	Type   string   `json:"type"`
	Topics []string `json:"topics"`
}

func (s *session) handleClientFrame(data []byte) {
	var f clientFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return
	}
	switch f.Type {
	case "ping":
		s.enqueuePong()
	case "subscribe":
		s.subscribedMu.Lock()
		for _, topic := range f.Topics {
			s.subscribed[topic] = true
		}
		s.subscribedMu.Unlock()
	}
}

func (s *session) writePump() {
	heartbeat := time.NewTicker(s.cfg.Heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-s.closed:
			return

		case frame, ok := <-s.newMessages:
			if !ok {
				return
			}
			if err := s.writeJSON(frame); err != nil {
				s.closeWith(websocket.CloseInternalServerErr, "write failed")
				return
			}

		case <-s.statusSignal:
			for _, frame := range s.drainStatus() {
				if err := s.writeJSON(frame); err != nil {
					s.closeWith(websocket.CloseInternalServerErr, "write failed")
					return
				}
			}

		case frame, ok := <-s.control:
			if !ok {
				return
			}
			if err := s.writeJSON(frame); err != nil {
				s.closeWith(websocket.CloseInternalServerErr, "write failed")
				return
			}

		case <-heartbeat.C:
			if time.Since(time.Unix(0, s.lastPong.Load())) > 2*s.cfg.Heartbeat {
				s.closeWith(websocket.ClosePolicyViolation, "heartbeat timeout")
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.closeWith(websocket.CloseInternalServerErr, "ping failed")
				return
			}
		}
	}
}

func (s *session) writeJSON(frame outboundFrame) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return s.conn.WriteJSON(frame)
}

// enqueueNewMessage never coalesces: a full queue means the session is too
// slow and is closed with 1011, per spec.md §4.7 backpressure rules.
func (s *session) enqueueNewMessage(ev domain.NewMessageEvent) {
	frame := outboundFrame{Type: "new_email", Data: ev}
	select {
	case s.newMessages <- frame:
	default:
		s.closeWith(websocket.CloseInternalServerErr, "outbound queue overflow")
	}
}

// sendConnectionFrame enqueues the post-handshake "connection" frame (spec.md
// §4.7, "Post-open actions"). Buffered in control, so it is safe to call
// before writePump has started draining.
func (s *session) sendConnectionFrame() {
	s.enqueueControl(outboundFrame{
		Type: "connection",
		Data: connectionData{UserID: s.userID, At: time.Now().UTC()},
	})
}

// enqueuePong replies to an inbound {type:"ping"} frame (spec.md §4.7).
func (s *session) enqueuePong() {
	s.enqueueControl(outboundFrame{Type: "pong", Data: pongData{At: time.Now().UTC()}})
}

// enqueueAdmin pushes an administrative frame (test_message, broadcast) sent
// via Hub.BroadcastAll.
func (s *session) enqueueAdmin(frame outboundFrame) {
	s.enqueueControl(frame)
}

// enqueueControl is best-effort: connection/pong/admin frames are not worth
// closing a session over, so a full control buffer just drops the oldest
// rather than tearing down the connection.
func (s *session) enqueueControl(frame outboundFrame) {
	select {
	case s.control <- frame:
		return
	default:
	}
	select {
	case <-s.control:
	default:
	}
	select {
	case s.control <- frame:
	default:
	}
}

// enqueueStatus appends to the bounded status queue, preserving every
// transition and its order as long as the queue has room. Only once the
// queue is actually full does it coalesce down to the latest event per
// email, per spec.md §4.7 ("on overflow the oldest sync_status frames may be
// coalesced") — a queue nowhere near capacity never drops or merges a
// transition, matching §7/§8's every-transition-delivered-in-order
// guarantee.
func (s *session) enqueueStatus(ev domain.StatusEvent) {
	s.statusMu.Lock()
	if len(s.statusQueue) < s.cfg.QueueLen {
		s.statusQueue = append(s.statusQueue, ev)
	} else {
		s.statusQueue = coalesceStatus(append(s.statusQueue, ev))
	}
	s.statusMu.Unlock()

	select {
	case s.statusSignal <- struct{}{}:
	default:
	}
}

// coalesceStatus collapses a queue down to one entry per email — the most
// recent state for that email — while keeping each email's first-seen
// position, so the surviving frames are still delivered in the order their
// mailboxes first transitioned.
func coalesceStatus(events []domain.StatusEvent) []domain.StatusEvent {
	latest := make(map[string]domain.StatusEvent, len(events))
	order := make([]string, 0, len(events))
	for _, ev := range events {
		if _, seen := latest[ev.Email]; !seen {
			order = append(order, ev.Email)
		}
		latest[ev.Email] = ev
	}
	out := make([]domain.StatusEvent, 0, len(order))
	for _, email := range order {
		out = append(out, latest[email])
	}
	return out
}

func (s *session) drainStatus() []outboundFrame {
	s.statusMu.Lock()
	queue := s.statusQueue
	s.statusQueue = nil
	s.statusMu.Unlock()

	frames := make([]outboundFrame, 0, len(queue))
	for _, ev := range queue {
		frames = append(frames, outboundFrame{Type: "sync_status", Data: ev})
	}
	return frames
}

func (s *session) closeWith(code int, reason string) {
	s.closeOnce.Do(func() {
		s.logger.Info("ws: closing session", "code", code, "reason", reason)
		deadline := time.Now().Add(s.cfg.WriteTimeout)
		msg := websocket.FormatCloseMessage(code, reason)
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		close(s.closed)
		// Unblocks readPump's in-flight ReadMessage; run()'s deferred
		// Close is then a harmless no-op.
		_ = s.conn.Close()
	})
}
