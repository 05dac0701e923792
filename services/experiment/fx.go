package experiment

import "go.uber.org/fx"

var Module = fx.Module("experiment.service",
	fx.Provide(NewRedisStore, NewService),
)
