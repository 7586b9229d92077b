package notification

import (
	"flowmarket/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("notification.module",
	fx.Provide(
		fx.Annotate(NewHTTPMailer, fx.As(new(Mailer))),
		NewService,
	),
)

// Worker registers the task handlers on the asynq mux.
var Worker = fx.Module("notification.worker",
	Module,
	fx.Invoke(registerHandlers),
)

func registerHandlers(mux *asynq.ServeMux, svc *Service) {
	mux.HandleFunc(taskname.PurchaseConfirmation, svc.HandleConfirmationTask)
}
