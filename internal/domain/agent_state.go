package domain

import (
	"encoding/json"
	"fmt"
)

//go:generate stringer -type=AgentStateKind
type AgentStateKind int8

const (
	AgentStarting AgentStateKind = iota + 1
	AgentSyncing
	AgentIdle
	AgentError
	AgentStopped
)

func (k AgentStateKind) String() string {
	switch k {
	case AgentStarting:
		return "Starting"
	case AgentSyncing:
		return "Syncing"
	case AgentIdle:
		return "Idle"
	case AgentError:
		return "Error"
	case AgentStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

var agentStateKindByName = map[string]AgentStateKind{
	"Starting": AgentStarting,
	"Syncing":  AgentSyncing,
	"Idle":     AgentIdle,
	"Error":    AgentError,
	"Stopped":  AgentStopped,
}

// MarshalText renders the kind as its wire name ("Idle", "Error", ...),
// matching spec.md §4.7's sync_status `state` value. encoding/json picks
// this up automatically via encoding.TextMarshaler for any field or value of
// this type.
func (k AgentStateKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a wire name back into a Kind.
func (k *AgentStateKind) UnmarshalText(text []byte) error {
	v, ok := agentStateKindByName[string(text)]
	if !ok {
		return fmt.Errorf("domain: unknown AgentStateKind %q", text)
	}
	*k = v
	return nil
}

// AgentState is a point-in-time snapshot of the MailboxAgent state machine.
// Message carries the failure reason when Kind == AgentError; it is empty
// otherwise.
type AgentState struct {
	Kind    AgentStateKind
	Message string
}

// MarshalJSON renders AgentState as its Kind's bare wire string ("Idle",
// "Error", ...), matching spec.md §4.7's literal `state` value. The failure
// reason in Message is surfaced separately — see StatusEvent's `error`
// field — rather than nested inside `state`.
func (s AgentState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Kind)
}

// UnmarshalJSON parses the bare wire string back into Kind. Message is left
// empty; callers that need the failure reason read it from StatusEvent's
// `error` field directly.
func (s *AgentState) UnmarshalJSON(data []byte) error {
	var kind AgentStateKind
	if err := json.Unmarshal(data, &kind); err != nil {
		return err
	}
	s.Kind = kind
	return nil
}

func StateStarting() AgentState { return AgentState{Kind: AgentStarting} }
func StateSyncing() AgentState  { return AgentState{Kind: AgentSyncing} }
func StateIdle() AgentState     { return AgentState{Kind: AgentIdle} }
func StateStopped() AgentState  { return AgentState{Kind: AgentStopped} }
func StateError(msg string) AgentState {
	return AgentState{Kind: AgentError, Message: msg}
}

// Terminal reports whether no further transitions are expected without an
// external Start/Stop call.
func (s AgentState) Terminal() bool {
	return s.Kind == AgentStopped
}
