package mailbox

import (
	"context"
	"time"

	"github.com/onemail/sync-core/internal/domain"
)

// Session is one authenticated, INBOX-selected IMAP connection. Agent owns
// the single Session returned by Dialer.Dial for its entire lifetime between
// Starting and the next reconnect; no other goroutine touches it (spec.md
// §5, "the IMAP connection object is owned solely by its agent task").
type Session interface {
	// Backfill fetches envelope+source for every message with an internal
	// date >= since, oldest skipped deterministically at the boundary
	// (spec.md §4.4 step 2).
	Backfill(ctx context.Context, since time.Time) ([]domain.RawMessage, error)

	// Idle enters RFC-2177 IDLE and returns a channel fed with the
	// mailbox's new EXISTS count on every growth, an error channel that
	// fires at most once when the transport drops or errors, and a stop
	// func to end IDLE cleanly. Idle itself must not block the caller.
	Idle(ctx context.Context) (updates <-chan int, idleErr <-chan error, stop func())

	// FetchNewest fetches the n newest sequence-numbered messages.
	FetchNewest(ctx context.Context, n int) ([]domain.RawMessage, error)

	// Noop is used to refresh the connection during the 28-minute IDLE
	// keepalive cycle (spec.md §4.4 step 4).
	Noop(ctx context.Context) error

	// Close logs out; implementations must respect ctx's deadline and
	// degrade to a hard close if logout doesn't complete in time.
	Close(ctx context.Context) error
}

// Dialer opens one Session for an account using a momentary access token.
// The sync core never performs XOAUTH2 or TLS itself outside this seam —
// see imap.go for the emersion/go-imap-backed implementation.
type Dialer interface {
	Dial(ctx context.Context, key domain.AccountKey, cred domain.Credential) (Session, error)
}
