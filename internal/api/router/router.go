package router

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/pyrx-compute/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// Options holds router settings beyond the handler dependencies
type Options struct {
	ServiceName string
	WorkerToken string
	AdminToken  string
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, opts Options) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", healthHandler(deps, opts.ServiceName))

	jobHandler := handler.NewJobHandler(deps)
	accountHandler := handler.NewAccountHandler(deps)
	workerHandler := handler.NewWorkerHandler(deps)

	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", jobHandler.SubmitJob)
			jobs.POST("/estimate", jobHandler.EstimateJob)
			jobs.GET("", jobHandler.ListJobs)
			jobs.GET("/:job_id", jobHandler.GetJob)
			jobs.POST("/:job_id/cancel", jobHandler.CancelJob)
		}

		users := v1.Group("/users")
		{
			users.GET("/:wallet", accountHandler.GetUser)
			users.GET("/:wallet/ledger", accountHandler.GetLedger)
		}

		v1.GET("/pricing", accountHandler.GetPricing)

		worker := v1.Group("/worker", RequireToken(WorkerTokenHeader, opts.WorkerToken))
		{
			worker.POST("/jobs/:job_id/assigned", workerHandler.Assigned)
			worker.POST("/jobs/:job_id/started", workerHandler.Started)
			worker.POST("/jobs/:job_id/completed", workerHandler.Completed)
			worker.POST("/jobs/:job_id/failed", workerHandler.Failed)
		}

		admin := v1.Group("/admin", RequireToken(AdminTokenHeader, opts.AdminToken))
		{
			admin.POST("/users/:wallet/credits", accountHandler.GrantCredits)
		}
	}

	return r
}

func healthHandler(deps *handler.Dependencies, service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := deps.Engine.Ping(ctx); err != nil {
			deps.Logger.Error("Health check failed", slog.String("error", err.Error()))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"service": service,
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": service,
		})
	}
}
