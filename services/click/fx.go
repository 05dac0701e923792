package click

import "go.uber.org/fx"

var Module = fx.Module("click.service",
	fx.Provide(NewService),
)
