// Package domain holds the wire-level and in-process types shared across the
// sync core: account identity, credentials, messages, categories, agent state
// and the events that flow between components.
package domain

import "fmt"

// AccountKey identifies exactly one MailboxAgent. The repository only ever
// syncs the primary inbox, so folder is deliberately not part of the key —
// see SPEC_FULL.md Open Questions for the extension point.
type AccountKey struct {
	UserID string
	Email  string
}

func NewAccountKey(userID, email string) AccountKey {
	return AccountKey{UserID: userID, Email: email}
}

func (k AccountKey) String() string {
	return fmt.Sprintf("%s|%s", k.UserID, k.Email)
}

// Valid reports whether both components of the key are populated. Callers at
// the boundary (Supervisor.Start, ws upgrade) should reject an invalid key
// rather than let it reach an agent.
func (k AccountKey) Valid() bool {
	return k.UserID != "" && k.Email != ""
}
