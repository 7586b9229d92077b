package purchase

import (
	"flowmarket/services/workflow"

	"go.uber.org/fx"
)

var Module = fx.Module("purchase.module",
	fx.Provide(
		NewService,
		func(s *Service) workflow.PurchaseChecker { return s },
	),
)

var HTTP = fx.Module("purchase.http",
	Module,
	fx.Provide(NewHandler, NewWebhookHandler),
	fx.Invoke(RegisterRoutes),
)
