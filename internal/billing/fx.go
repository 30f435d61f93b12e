package billing

import (
	"github.com/smallbiznis/fieldops/internal/billing/repository"
	"github.com/smallbiznis/fieldops/internal/billing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billing.webhook",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
