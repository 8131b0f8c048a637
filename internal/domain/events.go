package domain

import (
	"encoding/json"
	"time"
)

// NewMessageEvent is published by IngestionPipeline after a successful,
// non-duplicate EmailIndex.Insert. Its wire shape is spec.md §4.7's literal
// `new_email: {email: StoredMessage, userId, at}` — note that "email" names
// the stored message itself, not a mailbox address, so there is no separate
// address field here (Message.Email already carries it).
type NewMessageEvent struct {
	UserID  string        `json:"userId"`
	Message StoredMessage `json:"email"`
	At      time.Time     `json:"at"`
}

// StatusEvent is published on every MailboxAgent state transition.
type StatusEvent struct {
	UserID string
	Email  string
	State  AgentState
	At     time.Time
}

// statusWire is StatusEvent's literal wire shape (spec.md §4.7, "sync_status:
// {userId, email, state, error?, at}"): `state` renders as the bare Kind text
// and the failure reason carried in State.Message surfaces as a sibling
// `error` field instead of nesting inside `state`.
type statusWire struct {
	UserID string         `json:"userId"`
	Email  string         `json:"email"`
	State  AgentStateKind `json:"state"`
	Error  string         `json:"error,omitempty"`
	At     time.Time      `json:"at"`
}

func (e StatusEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(statusWire{
		UserID: e.UserID,
		Email:  e.Email,
		State:  e.State.Kind,
		Error:  e.State.Message,
		At:     e.At,
	})
}

func (e *StatusEvent) UnmarshalJSON(data []byte) error {
	var w statusWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.UserID = w.UserID
	e.Email = w.Email
	e.State = AgentState{Kind: w.State, Message: w.Error}
	e.At = w.At
	return nil
}
