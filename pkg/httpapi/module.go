package httpapi

import (
	"flowmarket/pkg/access"
	"flowmarket/pkg/config"
	"flowmarket/pkg/health"
	"flowmarket/pkg/middleware"
	"flowmarket/pkg/session"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("httpapi",
	fx.Provide(
		NewEngine,
		NewRouter,
	),
	fx.Invoke(registerSystemEndpoints),
)

// Router exposes the route groups services mount their handlers on.
type Router struct {
	Engine *gin.Engine
	API    *gin.RouterGroup
	Admin  *gin.RouterGroup
	Auth   *middleware.Auth
}

// NewEngine builds the gin engine. Every request runs in a span so handlers
// log with trace and span ids.
func NewEngine(cfg *config.Config, tp trace.TracerProvider) (*gin.Engine, error) {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := RegisterValidators(); err != nil {
		zap.L().Error("failed to register validators", zap.Error(err))
		return nil, err
	}

	r := gin.New()
	r.Use(
		gin.Recovery(),
		otelgin.Middleware(cfg.AppName, otelgin.WithTracerProvider(tp)),
		middleware.RequestLogger(),
		middleware.Metrics(),
		middleware.Error(),
	)
	return r, nil
}

type RouterParams struct {
	fx.In
	Engine   *gin.Engine
	Sessions *session.Manager
	Resolver middleware.PrincipalResolver
}

func NewRouter(p RouterParams) *Router {
	auth := middleware.NewAuth(p.Sessions, p.Resolver)
	api := p.Engine.Group("/api/v1")
	admin := api.Group("/admin", auth.Authenticate(), middleware.RequireAnyRole(access.RoleAdmin))

	return &Router{
		Engine: p.Engine,
		API:    api,
		Admin:  admin,
		Auth:   auth,
	}
}

func registerSystemEndpoints(r *gin.Engine, h health.HealthService) {
	r.GET("/healthz", h.Liveness)
	r.GET("/readyz", h.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
