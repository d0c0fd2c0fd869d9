package server

import (
	"strings"

	"github.com/abduss/tusdrive/internal/logger"
	"github.com/abduss/tusdrive/internal/tus"
	"github.com/gin-gonic/gin"
)

var (
	allowedHeaders = strings.Join([]string{
		"Content-Type",
		"Content-Length",
		tus.HeaderResumable,
		tus.HeaderUploadOffset,
		tus.HeaderUploadLength,
		tus.HeaderUploadDeferLength,
		tus.HeaderUploadMetadata,
		tus.HeaderResourceID,
		logger.CorrelationIDHeader,
		"X-HTTP-Method-Override",
	}, ", ")

	exposedHeaders = strings.Join([]string{
		"Location",
		tus.HeaderResumable,
		tus.HeaderVersion,
		tus.HeaderExtension,
		tus.HeaderMaxSize,
		tus.HeaderUploadOffset,
		tus.HeaderUploadLength,
		tus.HeaderTempObjectName,
		tus.HeaderObjectName,
		tus.HeaderObjectExists,
		logger.CorrelationIDHeader,
	}, ", ")
)

// corsMiddleware lets browser clients drive uploads. Preflight requests are
// answered by the upload handlers themselves, so OPTIONS is not
// short-circuited here.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, PUT, POST, PATCH, DELETE, HEAD, OPTIONS")
		c.Header("Access-Control-Allow-Headers", allowedHeaders)
		c.Header("Access-Control-Expose-Headers", exposedHeaders)
		c.Header("Access-Control-Max-Age", "86400")

		c.Next()
	}
}
