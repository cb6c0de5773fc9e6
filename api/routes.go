package api

import (
	"github.com/gin-gonic/gin"

	"displayfleet/config"
	"displayfleet/models"
	"displayfleet/service"
)

// Services bundles what the handlers need.
type Services struct {
	Devices   *service.DeviceManager
	Router    *service.BroadcastRouter
	Timers    *service.TimerEngine
	Emergency *service.EmergencyController
	Flyers    *service.FlyerService
	Auth      service.Authorizer
	Hub       *WebSocketHub
}

func SetupRoutes(router *gin.Engine, s *Services, rl config.RateLimitConfig) {
	// Enable CORS
	router.Use(CORSMiddleware())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, models.SuccessResponse(gin.H{
			"status":    "ok",
			"emergency": s.Emergency.IsActive(),
			"clients":   s.Hub.ClientCount(),
		}))
	})

	api := router.Group("/api")

	// Device-facing routes. Displays authenticate by id only.
	device := api.Group("", RateLimitMiddleware(rl.DeviceRPS, rl.DeviceBurst))
	{
		device.POST("/displays/register", func(c *gin.Context) { RegisterDisplay(c, s) })
		device.POST("/displays/:id/heartbeat", func(c *gin.Context) { DisplayHeartbeat(c, s) })
		device.GET("/displays/:id/config", func(c *gin.Context) { GetDisplayConfig(c, s) })
		device.POST("/displays/:id/logs", func(c *gin.Context) { AppendDisplayLogs(c, s) })
		device.POST("/flyer/status", func(c *gin.Context) { ReportFlyerStatus(c, s) })
	}

	admin := api.Group("", AuthMiddleware(s.Auth))
	{
		displays := admin.Group("/displays")
		{
			displays.GET("", func(c *gin.Context) { GetDisplays(c, s) })
			displays.GET("/:id", func(c *gin.Context) { GetDisplay(c, s) })
			displays.POST("/:id/command", func(c *gin.Context) { IssueDisplayCommand(c, s) })
			displays.PUT("/:id/config", func(c *gin.Context) { UpdateDisplayConfig(c, s) })
			displays.GET("/:id/logs", func(c *gin.Context) { GetDisplayLogs(c, s) })
			displays.DELETE("/:id/logs", func(c *gin.Context) { ClearDisplayLogs(c, s) })
		}

		timers := admin.Group("/timers")
		{
			timers.GET("", func(c *gin.Context) { GetTimers(c, s) })
			timers.POST("/dq", func(c *gin.Context) { StartDQTimer(c, s) })
			timers.POST("/tournament", func(c *gin.Context) { StartTournamentTimer(c, s) })
			timers.POST("/cancel", func(c *gin.Context) { CancelTimer(c, s) })
		}

		emergency := admin.Group("/emergency")
		{
			emergency.GET("/status", func(c *gin.Context) { GetEmergencyStatus(c, s) })
			emergency.POST("/activate", AdminOnlyMiddleware(), func(c *gin.Context) { ActivateEmergency(c, s) })
			emergency.POST("/deactivate", AdminOnlyMiddleware(), func(c *gin.Context) { DeactivateEmergency(c, s) })
		}

		admin.POST("/ticker/send", func(c *gin.Context) { SendTicker(c, s) })

		flyer := admin.Group("/flyer")
		{
			flyer.GET("/state", func(c *gin.Context) { GetFlyerState(c, s) })
			flyer.POST("/control", func(c *gin.Context) { FlyerControl(c, s) })
			flyer.POST("/volume", func(c *gin.Context) { FlyerVolume(c, s) })
			flyer.POST("/settings", func(c *gin.Context) { FlyerSettings(c, s) })
			flyer.POST("/playlist", func(c *gin.Context) { FlyerPlaylist(c, s) })
		}
	}

	// WebSocket route
	router.GET("/ws", func(c *gin.Context) {
		HandleWebSocket(s.Hub, c)
	})
}
