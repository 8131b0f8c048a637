package credential

import (
	"context"

	"github.com/onemail/sync-core/internal/domain"
)

// NullRefresher always reports NotAuthorized. It exists so the default
// wiring compiles and runs end-to-end in tests and local development
// without a real OAuth collaborator; production deployments inject their
// own Refresher against the out-of-scope OAuth exchange service.
type NullRefresher struct{}

func (NullRefresher) Refresh(ctx context.Context, key domain.AccountKey, refreshToken string) (domain.Credential, error) {
	return domain.Credential{}, ErrNotAuthorized
}
