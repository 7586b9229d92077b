package workflow

import "go.uber.org/fx"

var Module = fx.Module("workflow.module",
	fx.Provide(
		NewService,
	),
)

var HTTP = fx.Module("workflow.http",
	Module,
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)
