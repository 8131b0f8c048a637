// Package credential defines the CredentialStore contract (C1) and a
// reference in-memory implementation. The sync core never assumes a storage
// model — callers inject whatever CredentialStore backs real accounts.
package credential

import (
	"context"

	"github.com/onemail/sync-core/internal/domain"
)

// Outcome is the closed result kind GetFresh resolves to, following the
// teacher's explicit-result-kind strategy instead of sentinel errors.
type Outcome int8

const (
	Fresh Outcome = iota + 1
	NotAuthorized
	Unavailable
)

func (o Outcome) String() string {
	switch o {
	case Fresh:
		return "Fresh"
	case NotAuthorized:
		return "NotAuthorized"
	case Unavailable:
		return "Unavailable"
	default:
		return "Unknown"
	}
}

// Store is the CredentialStore contract (spec.md §4.1 / C1).
type Store interface {
	// GetFresh returns a credential valid for at least 60s, refreshing
	// transparently if needed. The returned Credential is only meaningful
	// when Outcome == Fresh.
	GetFresh(ctx context.Context, key domain.AccountKey) (domain.Credential, Outcome)
	// List returns every email this user has a stored credential for.
	List(ctx context.Context, userID string) ([]string, error)
	// Revoke is best-effort and idempotent. email == "" revokes every
	// account for the user.
	Revoke(ctx context.Context, userID string, email string) error
}
