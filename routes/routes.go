package routes

import (
	"github.com/gin-gonic/gin"

	"gap_strategy_backend/controllers"
	"gap_strategy_backend/middleware"
	"gap_strategy_backend/services/metrics"
	"gap_strategy_backend/services/realtime"
)

// Deps are the wired components the routes expose
type Deps struct {
	Gaps      *controllers.GapController
	Hub       *realtime.Hub
	Metrics   *metrics.Recorder
	JWTSecret string
	Throttle  *middleware.RateLimiter
}

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/", deps.Gaps.Root)

	api := router.Group("/api")
	{
		api.GET("/gaps", deps.Gaps.GetGaps)
		api.GET("/scan-log", deps.Gaps.GetScanLog)
		api.GET("/health", deps.Gaps.Health)

		scan := []gin.HandlerFunc{middleware.AdminTokenMiddleware(deps.JWTSecret)}
		if deps.Throttle != nil {
			scan = append(scan, middleware.RateLimitMiddleware(deps.Throttle))
		}
		scan = append(scan, deps.Gaps.TriggerScan)
		api.POST("/scan", scan...)
	}

	if deps.Hub != nil {
		router.GET("/ws/gaps", func(c *gin.Context) {
			deps.Hub.HandleWebSocket(c.Writer, c.Request)
		})
	}

	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}
}
