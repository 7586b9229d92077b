package user

import (
	"flowmarket/pkg/middleware"

	"go.uber.org/fx"
)

var Module = fx.Module("user.module",
	fx.Provide(
		NewService,
	),
)

var HTTP = fx.Module("user.http",
	Module,
	fx.Provide(
		NewHandler,
		func(s *Service) middleware.PrincipalResolver { return s },
	),
	fx.Invoke(RegisterRoutes),
)
