package fraud

import "go.uber.org/fx"

var Module = fx.Module("fraud.service",
	fx.Provide(NewService),
)
