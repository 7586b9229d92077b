package payment

import "go.uber.org/fx"

var Module = fx.Module("payment.module",
	fx.Provide(
		NewVerifier,
		fx.Annotate(NewClient, fx.As(new(Processor))),
	),
)
