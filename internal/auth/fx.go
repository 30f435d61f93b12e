package auth

import (
	"github.com/smallbiznis/fieldops/internal/auth/identity"
	"github.com/smallbiznis/fieldops/internal/auth/repository"
	"github.com/smallbiznis/fieldops/internal/auth/service"
	"github.com/smallbiznis/fieldops/internal/auth/session"
	"go.uber.org/fx"
)

var Module = fx.Module("auth",
	fx.Provide(repository.New),
	fx.Provide(service.New),
	fx.Provide(session.NewManager),
	identity.Module,
)
