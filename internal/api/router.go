package api

import (
	"github.com/gin-gonic/gin"

	"github.com/davet/prodsync/internal/api/handler"
	"github.com/davet/prodsync/internal/api/middleware"
	"github.com/davet/prodsync/internal/logger"
)

// RouterDeps bundles the handlers the router mounts.
type RouterDeps struct {
	Import *handler.ImportHandler
	Queue  *handler.QueueHandler
	Price  *handler.PriceHandler
}

// SetupRouter configures the Gin router with all routes.
func SetupRouter(deps RouterDeps, log *logger.Logger, cors middleware.CORSConfig, mode string) *gin.Engine {
	// Set Gin mode
	switch mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(cors))

	healthHandler := handler.NewHealthHandler()

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Imports
		v1.POST("/imports", deps.Import.StartImport)
		v1.GET("/imports/:id", deps.Import.GetJob)
		v1.POST("/imports/chunk", deps.Import.ProcessChunk)

		// Enrichment queue
		v1.POST("/queue/process", deps.Queue.ProcessQueue)
		v1.POST("/queue/tasks", deps.Queue.EnqueueTask)

		// Price search
		v1.POST("/prices/search", deps.Price.Search)
	}

	return r
}
