package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/email-verifier/internal/api/handler"
)

const readinessTimeout = 2 * time.Second

// SetupRouter configures the Gin router with all routes. The returned
// request handler must be drained with Wait on shutdown.
func SetupRouter(deps *handler.Dependencies) (*gin.Engine, *handler.RequestHandler) {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "email-verifier-api",
		})
	})
	r.GET("/ready", readiness(deps.Checks))

	requestHandler := handler.NewRequestHandler(deps)
	jobHandler := handler.NewJobHandler(deps)
	blacklistHandler := handler.NewBlacklistHandler(deps)

	v1 := r.Group("/api/v1")
	{
		requests := v1.Group("/requests")
		{
			requests.POST("", requestHandler.CreateRequest)
			requests.GET("", requestHandler.ListRequests)
			requests.GET("/:request_id", requestHandler.GetRequest)
			requests.GET("/:request_id/jobs", requestHandler.ListRequestJobs)
			requests.POST("/:request_id/pause", requestHandler.PauseRequest)
			requests.POST("/:request_id/resume", requestHandler.ResumeRequest)
		}

		jobs := v1.Group("/jobs")
		{
			jobs.GET("/:job_id", jobHandler.GetJob)
		}

		entries := v1.Group("/blacklist")
		{
			entries.GET("/:provider", blacklistHandler.ListBlacklist)
			entries.DELETE("/:provider/:ip", blacklistHandler.RemoveBlacklistEntry)
		}
	}

	return r, requestHandler
}

// readiness reports 503 when any dependency check fails
func readiness(checks map[string]handler.HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
		defer cancel()

		status := http.StatusOK
		results := make(gin.H, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				results[name] = err.Error()
				continue
			}
			results[name] = "ok"
		}

		c.JSON(status, gin.H{"checks": results})
	}
}
