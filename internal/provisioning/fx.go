package provisioning

import "go.uber.org/fx"

var Module = fx.Module("provisioning",
	fx.Provide(NewProvisioner),
	fx.Provide(NewSwitcher),
)
