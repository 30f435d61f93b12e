package customer

import (
	"github.com/smallbiznis/fieldops/internal/customer/repository"
	"github.com/smallbiznis/fieldops/internal/customer/service"
	"go.uber.org/fx"
)

var Module = fx.Module("customer",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
