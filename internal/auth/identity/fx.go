package identity

import "go.uber.org/fx"

var Module = fx.Module("auth.identity",
	fx.Provide(NewTokenVerifier),
	fx.Provide(NewResolver),
)
