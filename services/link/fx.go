package link

import "go.uber.org/fx"

var Module = fx.Module("link.service",
	fx.Provide(NewProber, NewService),
)

var Worker = fx.Module("link.worker",
	fx.Provide(NewScheduler),
	fx.Invoke(RegisterHandlers),
	fx.Invoke(StartScheduler),
)
