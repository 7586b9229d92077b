package review

import "go.uber.org/fx"

var Module = fx.Module("review.module",
	fx.Provide(
		NewService,
	),
)

var HTTP = fx.Module("review.http",
	Module,
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)
