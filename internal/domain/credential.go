package domain

import "time"

// Credential is the short-lived access token an agent needs to authenticate
// an IMAP session. Agents hold only the value returned by a single
// CredentialStore.GetFresh call and authenticate with its AccessToken; that
// value still carries RefreshToken as the store returned it.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// FreshFor reports whether the credential is still valid at least d beyond
// now. CredentialStore.GetFresh must never return a credential that fails
// this check for d = 60s.
func (c Credential) FreshFor(now time.Time, d time.Duration) bool {
	return c.ExpiresAt.Sub(now) >= d
}
