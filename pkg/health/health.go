package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var Module = fx.Module("health", fx.Provide(ProvideHealth))

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

type Dependency struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Health struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Deps    []Dependency `json:"deps,omitempty"`
}

type HealthService interface {
	Liveness(c *gin.Context)
	Readiness(c *gin.Context)
}

type health struct {
	db    *gorm.DB
	redis *redis.Client
}

type HealthParams struct {
	fx.In
	DB    *gorm.DB      `optional:"true"`
	Redis *redis.Client `optional:"true"`
}

func ProvideHealth(p HealthParams) HealthService {
	return &health{
		db:    p.DB,
		redis: p.Redis,
	}
}

func (h *health) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, &Health{
		Status:  StatusHealthy,
		Message: "OK",
	})
}

// Readiness pings the database and redis concurrently. The database is
// required; redis only degrades caching, so its failure is reported without
// failing the probe.
func (h *health) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	var dbDep, redisDep *Dependency
	g := errgroup.Group{}

	if h.db != nil {
		g.Go(func() error {
			dbDep = probe(h.db.Name(), func() error {
				sql, err := h.db.DB()
				if err != nil {
					return err
				}
				return sql.PingContext(ctx)
			})
			return nil
		})
	}
	if h.redis != nil {
		g.Go(func() error {
			redisDep = probe("redis", func() error {
				return h.redis.Ping(ctx).Err()
			})
			return nil
		})
	}
	_ = g.Wait()

	this := &Health{
		Status:  StatusHealthy,
		Message: "OK",
	}
	code := http.StatusOK

	if dbDep != nil {
		if dbDep.Status != StatusHealthy {
			this.Status = StatusUnhealthy
			this.Message = "database unavailable"
			code = http.StatusServiceUnavailable
		}
		this.Deps = append(this.Deps, *dbDep)
	}
	if redisDep != nil {
		this.Deps = append(this.Deps, *redisDep)
	}

	c.JSON(code, this)
}

func probe(name string, ping func() error) *Dependency {
	dep := &Dependency{Name: name, Status: StatusHealthy, Message: "OK"}
	if err := ping(); err != nil {
		dep.Status = StatusUnhealthy
		dep.Message = err.Error()
	}
	return dep
}
