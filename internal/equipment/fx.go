package equipment

import (
	"github.com/smallbiznis/fieldops/internal/equipment/repository"
	"github.com/smallbiznis/fieldops/internal/equipment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("equipment",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
