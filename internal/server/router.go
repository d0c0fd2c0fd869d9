package server

import (
	"context"

	"github.com/abduss/tusdrive/internal/config"
	"github.com/abduss/tusdrive/internal/logger"
	"github.com/abduss/tusdrive/internal/metrics"
	"github.com/abduss/tusdrive/internal/objectstore"
	"github.com/abduss/tusdrive/internal/tus"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies groups the services required by the HTTP router. DB and
// Redis are optional and only probed when set.
type Dependencies struct {
	Config  config.Config
	DB      Pinger
	Redis   redis.UniversalClient
	Store   objectstore.Store
	Uploads *tus.Service
}

// NewRouter builds a Gin engine with foundational middleware and routes.
func NewRouter(deps Dependencies) *gin.Engine {
	metrics.InitMetrics()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.Middleware())
	router.Use(metrics.Middleware())
	router.Use(corsMiddleware())

	registerHealthRoutes(router, deps)
	metrics.Register(router, deps.Config.Metrics.PrometheusPath)

	if deps.Uploads != nil {
		tus.RegisterRoutes(router, deps.Uploads)
	}

	return router
}
