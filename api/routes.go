package api

import (
	"github.com/gin-gonic/gin"

	"github.com/mailsweep/mailsweep/api/handlers"
	"github.com/mailsweep/mailsweep/config"
	"github.com/mailsweep/mailsweep/internal/logger"
	"github.com/mailsweep/mailsweep/internal/repository"
	"github.com/mailsweep/mailsweep/services"
)

// RegisterRoutes sets up all API endpoints
func RegisterRoutes(r *gin.Engine, log logger.Logger, cfg *config.Config, repos *repository.Repositories, s *services.Services) {
	if s == nil {
		panic("Services cannot be nil")
	}
	if repos == nil {
		panic("Repositories cannot be nil")
	}

	r.Use(gin.Recovery())

	h := handlers.InitHandlers(log, cfg, repos, s)

	r.GET("/health", handlers.HealthCheck)

	api := r.Group("/api")
	{
		api.GET("/credentials", h.GetCredentials())
		api.POST("/credentials", h.SaveCredentials())

		api.GET("/settings", h.GetSettings())
		api.POST("/settings", h.SaveSettings())

		api.GET("/folders", h.ListFolders())
		api.POST("/folders/rename", h.RenameFolder())

		api.GET("/runs", h.ListRuns())
		api.GET("/runs/:id/actions", h.ListRunActions())
		api.POST("/run", h.StartManualRun())
		api.GET("/progress/:session", h.StreamProgress())

		schedules := api.Group("/schedules")
		{
			schedules.GET("", h.ListSchedules())
			schedules.POST("", h.CreateSchedule())
			schedules.PUT("/:id", h.UpdateSchedule())
			schedules.DELETE("/:id", h.DeleteSchedule())
			schedules.POST("/:id/trigger", h.TriggerSchedule())
		}

		jobs := api.Group("/folder-jobs")
		{
			jobs.GET("", h.ListFolderJobs())
			jobs.POST("", h.CreateFolderJob())
			jobs.GET("/:id", h.GetFolderJob())
			jobs.PUT("/:id", h.UpdateFolderJob())
			jobs.DELETE("/:id", h.DeleteFolderJob())
			jobs.POST("/:id/start", h.StartFolderJob())
			jobs.POST("/:id/stop", h.StopFolderJob())
			jobs.POST("/:id/resume", h.StartFolderJob())
		}

		api.GET("/cache/stats", h.CacheStats())
		api.POST("/cache/clear", h.ClearCache())

		api.POST("/wipe", h.Wipe())
	}
}
