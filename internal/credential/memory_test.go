package credential

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onemail/sync-core/internal/domain"
)

type countingRefresher struct {
	calls atomic.Int32
	cred  domain.Credential
	err   error
}

func (r *countingRefresher) Refresh(ctx context.Context, key domain.AccountKey, refreshToken string) (domain.Credential, error) {
	r.calls.Add(1)
	return r.cred, r.err
}

func TestMemoryStore_GetFresh_CachesWithinValidityWindow(t *testing.T) {
	refresher := &countingRefresher{cred: domain.Credential{
		AccessToken: "tok1",
		ExpiresAt:   time.Now().Add(time.Hour),
	}}
	store := NewMemoryStore(refresher)
	key := domain.NewAccountKey("u1", "a@b.com")
	store.Seed(key, domain.Credential{AccessToken: "seed", RefreshToken: "r1", ExpiresAt: time.Now().Add(2 * time.Hour)})

	for i := 0; i < 5; i++ {
		cred, outcome := store.GetFresh(context.Background(), key)
		require.Equal(t, Fresh, outcome)
		require.Equal(t, "seed", cred.AccessToken)
	}
	assert.Equal(t, int32(0), refresher.calls.Load(), "a credential already fresh should never trigger a refresh")
}

func TestMemoryStore_GetFresh_RefreshesWhenExpiring(t *testing.T) {
	refresher := &countingRefresher{cred: domain.Credential{
		AccessToken: "refreshed",
		ExpiresAt:   time.Now().Add(time.Hour),
	}}
	store := NewMemoryStore(refresher)
	key := domain.NewAccountKey("u1", "a@b.com")
	store.Seed(key, domain.Credential{AccessToken: "stale", RefreshToken: "r1", ExpiresAt: time.Now().Add(10 * time.Second)})

	cred, outcome := store.GetFresh(context.Background(), key)
	require.Equal(t, Fresh, outcome)
	assert.Equal(t, "refreshed", cred.AccessToken)
	assert.Equal(t, int32(1), refresher.calls.Load())
}

func TestMemoryStore_GetFresh_UnknownAccountIsNotAuthorized(t *testing.T) {
	store := NewMemoryStore(&countingRefresher{})
	_, outcome := store.GetFresh(context.Background(), domain.NewAccountKey("nope", "nope@x.com"))
	assert.Equal(t, NotAuthorized, outcome)
}

func TestMemoryStore_Revoke(t *testing.T) {
	store := NewMemoryStore(&countingRefresher{})
	key := domain.NewAccountKey("u1", "a@b.com")
	store.Seed(key, domain.Credential{AccessToken: "x", ExpiresAt: time.Now().Add(time.Hour)})

	require.NoError(t, store.Revoke(context.Background(), "u1", "a@b.com"))
	_, outcome := store.GetFresh(context.Background(), key)
	assert.Equal(t, NotAuthorized, outcome)
}
