package router

import (
	"github.com/gin-gonic/gin"

	"twinpool/app/handler"
	"twinpool/app/middleware"
)

// Router Router
type Router struct {
	workspaceHandler *handler.WorkspaceHandler
	workerHandler    *handler.WorkerHandler
	jobHandler       *handler.JobHandler
	eventHandler     *handler.EventHandler
	healthHandler    *handler.HealthHandler
	apiKey           string
}

// NewRouter creates a new Router
func NewRouter(workspaceHandler *handler.WorkspaceHandler, workerHandler *handler.WorkerHandler, jobHandler *handler.JobHandler, eventHandler *handler.EventHandler, healthHandler *handler.HealthHandler, apiKey string) *Router {
	return &Router{
		workspaceHandler: workspaceHandler,
		workerHandler:    workerHandler,
		jobHandler:       jobHandler,
		eventHandler:     eventHandler,
		healthHandler:    healthHandler,
		apiKey:           apiKey,
	}
}

// Setup sets up routes
func (r *Router) Setup(engine *gin.Engine) {
	engine.Use(middleware.Recovery())
	engine.Use(middleware.Logger())

	engine.GET("/health", r.healthHandler.Health)

	v1 := engine.Group("/v1")
	v1.Use(middleware.AuthMiddleware(r.apiKey))
	{
		// Workspace lifecycle
		v1.POST("/workspace", r.workspaceHandler.Open)
		v1.DELETE("/workspace", r.workspaceHandler.Close)
		v1.GET("/workspace", r.workspaceHandler.Current)
		v1.GET("/workspaces/recent", r.workspaceHandler.ListRecent)
		v1.DELETE("/workspaces/recent", r.workspaceHandler.ForgetRecent)

		// Worker pool
		workers := v1.Group("/workers")
		{
			workers.GET("", r.workerHandler.GetWorkers)
			workers.POST("/scale", r.workerHandler.Scale)
			workers.GET("/scaling-events", r.workerHandler.ListScalingEvents) // 503 unless mysql is enabled
			workers.GET("/:worker_id/snapshots", r.workerHandler.ListWorkerSnapshots)
		}

		// Job views
		jobs := v1.Group("/jobs")
		{
			jobs.GET("", r.jobHandler.ListJobs)
			jobs.POST("", r.jobHandler.Submit)
			jobs.POST("/view", r.jobHandler.SetView)
		}

		// Event stream (WebSocket)
		v1.GET("/events", r.eventHandler.Stream)
	}
}
