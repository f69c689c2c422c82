package router

import (
	"github.com/gin-gonic/gin"

	"jobboard/internal/api/auth"
	"jobboard/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, gateway *auth.Gateway) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))

	healthHandler := handler.NewHealthHandler(deps)
	r.GET("/", healthHandler.Root)
	r.GET("/latest-stats", healthHandler.LatestStats)

	jobHandler := handler.NewJobHandler(deps)
	jobs := r.Group("/jobs", gateway.Middleware(), auth.RequireNonGuest())
	{
		// POST /jobs - allocate jobs to a queue
		jobs.POST("", jobHandler.Allocate)

		// POST /jobs/add - create or update a job record
		jobs.POST("/add", jobHandler.Add)

		// GET /jobs/:job_id - deliver a job payload to a worker
		jobs.GET("/:job_id", jobHandler.Get)

		// DELETE /jobs/:job_id - remove a job record
		jobs.DELETE("/:job_id", jobHandler.Delete)
	}

	imageHandler := handler.NewImageHandler(deps)
	images := r.Group("/images", gateway.Middleware())
	{
		// GET /images - query the image catalog
		images.GET("", imageHandler.List)

		// POST /images - register an image
		images.POST("", auth.RequireNonGuest(), imageHandler.Create)

		// POST /images/search - batched catalog queries
		images.POST("/search", imageHandler.Search)
	}

	return r
}
