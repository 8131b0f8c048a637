// Package index defines the EmailIndex contract (C2) and a reference
// in-memory implementation. Real deployments back this with a full-text
// search engine; the sync core only needs the operations below.
package index

import (
	"context"

	"github.com/onemail/sync-core/internal/domain"
)

// Outcome is the closed result kind for mutating operations.
type Outcome int8

const (
	OK Outcome = iota + 1
	Conflict
	NotFound
	Transient
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "OK"
	case Conflict:
		return "Conflict"
	case NotFound:
		return "NotFound"
	case Transient:
		return "Transient"
	default:
		return "Unknown"
	}
}

// Index is the EmailIndex contract (spec.md §4.2 / C2).
type Index interface {
	Exists(ctx context.Context, id string) (bool, error)
	// Insert must return Conflict without overwriting if id is already
	// present.
	Insert(ctx context.Context, msg domain.StoredMessage) (Outcome, error)
	Update(ctx context.Context, id string, patch domain.MessagePatch) (Outcome, error)
	// Get enforces msg.UserID == userID; a cross-user lookup returns NotFound.
	Get(ctx context.Context, userID, id string) (domain.StoredMessage, Outcome)
	Search(ctx context.Context, userID, query string) ([]domain.StoredMessage, error)
}
