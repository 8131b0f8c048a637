package domain

import "time"

// Session is the SessionHub's view of one live WebSocket: userId, lastPong
// and openedAt only — the transport itself is owned by internal/ws.
type Session struct {
	UserID   string    `json:"userId"`
	LastPong time.Time `json:"lastPong"`
	OpenedAt time.Time `json:"openedAt"`
}
