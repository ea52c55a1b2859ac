package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/replayops/recfleet/internal/api/handler"
	"github.com/replayops/recfleet/internal/telemetry"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		if deps.DBClient != nil {
			if err := deps.DBClient.HealthCheck(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status": "unhealthy",
					"error":  err.Error(),
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "recfleet-coordinator",
		})
	})

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(telemetry.Handler()))

	jobHandler := handler.NewJobHandler(deps)
	workerHandler := handler.NewWorkerHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Create a new recording job
			jobs.POST("", jobHandler.CreateJob)

			// GET /api/v1/jobs - List jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job details
			jobs.GET("/:job_id", jobHandler.GetJob)

			// POST /api/v1/jobs/:job_id/reschedule - Put a job back in the pool
			jobs.POST("/:job_id/reschedule", jobHandler.RescheduleJob)

			// DELETE /api/v1/jobs/:job_id - Soft-delete a job
			jobs.DELETE("/:job_id", jobHandler.DeleteJob)
		}

		// POST /api/v1/queue/process - Run one dispatch cycle now
		v1.POST("/queue/process", jobHandler.ProcessQueue)

		workers := v1.Group("/workers")
		{
			// POST /api/v1/workers - Register a worker identity
			workers.POST("", workerHandler.RegisterWorker)

			// GET /api/v1/workers - List workers with derived liveness
			workers.GET("", workerHandler.ListWorkers)

			// GET /api/v1/workers/:worker_id - Get worker details
			workers.GET("/:worker_id", workerHandler.GetWorker)

			// POST /api/v1/workers/:worker_id/poll - Recorder heartbeat
			workers.POST("/:worker_id/poll", workerHandler.Poll)

			// POST /api/v1/workers/:worker_id/jobs/:job_id/status - Progress report
			workers.POST("/:worker_id/jobs/:job_id/status", workerHandler.ReportStatus)
		}
	}

	return r
}
