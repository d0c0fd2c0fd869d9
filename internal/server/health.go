package server

import (
	"context"
	"net/http"
	"time"

	"github.com/abduss/tusdrive/internal/objectstore"
	"github.com/gin-gonic/gin"
)

const readinessTimeout = 5 * time.Second

func registerHealthRoutes(router *gin.Engine, deps Dependencies) {
	router.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/health/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
		defer cancel()

		for _, check := range readinessChecks(deps) {
			if err := check.probe(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":    "degraded",
					"component": check.component,
					"error":     err.Error(),
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

type readinessCheck struct {
	component string
	probe     func(ctx context.Context) error
}

func readinessChecks(deps Dependencies) []readinessCheck {
	var checks []readinessCheck
	if deps.DB != nil {
		checks = append(checks, readinessCheck{"postgres", deps.DB.Ping})
	}
	if deps.Redis != nil {
		checks = append(checks, readinessCheck{"redis", func(ctx context.Context) error {
			return deps.Redis.Ping(ctx).Err()
		}})
	}
	if prober, ok := deps.Store.(objectstore.Prober); ok {
		bucket := deps.Config.Storage.Bucket
		checks = append(checks, readinessCheck{deps.Config.Storage.Backend, func(ctx context.Context) error {
			return prober.Probe(ctx, bucket)
		}})
	}
	return checks
}
