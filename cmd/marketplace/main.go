package main

import (
	"log"

	"flowmarket/pkg/config"
	"flowmarket/pkg/db"
	"flowmarket/pkg/gen"
	"flowmarket/pkg/health"
	"flowmarket/pkg/httpapi"
	"flowmarket/pkg/logger"
	"flowmarket/pkg/otelcol"
	"flowmarket/pkg/minio"
	"flowmarket/pkg/redis"
	"flowmarket/pkg/server"
	"flowmarket/pkg/session"
	"flowmarket/pkg/task"
	"flowmarket/services/bootstrap"
	"flowmarket/services/payment"
	"flowmarket/services/purchase"
	"flowmarket/services/review"
	"flowmarket/services/user"
	"flowmarket/services/workflow"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		otelcol.Module,
		db.Module,
		redis.Module,
		minio.Module,
		gen.Module,
		session.Module,
		task.Client,
		payment.Module,
		health.Module,
		httpapi.Module,
		user.HTTP,
		workflow.HTTP,
		purchase.HTTP,
		review.HTTP,
		bootstrap.Module,
		server.ProvideHTTPServer,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.IsProduction() {
		return fxevent.NopLogger
	}
	return &fxevent.ZapLogger{Logger: logger}
})
