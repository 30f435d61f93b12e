package identity

import (
	"context"

	"github.com/smallbiznis/fieldops/internal/auth/domain"
)

type identityKey struct{}

func WithIdentity(ctx context.Context, id *domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the caller resolved for this request.
func FromContext(ctx context.Context) (*domain.Identity, bool) {
	if ctx == nil {
		return nil, false
	}
	id, ok := ctx.Value(identityKey{}).(*domain.Identity)
	return id, ok && id != nil
}
