package partner

import "go.uber.org/fx"

var Module = fx.Module("partner.service",
	fx.Provide(NewService),
)
