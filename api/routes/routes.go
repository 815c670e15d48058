package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/feichai0017/file-organizer/api/handlers"
	"github.com/feichai0017/file-organizer/api/middleware"
	"github.com/feichai0017/file-organizer/pkg/logger"
)

// SetupRoutes registers every route on r.
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, corsOrigins []string, log logger.Logger) {
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.CORS(corsOrigins))

	r.GET("/healthz", h.System.Healthz)
	r.GET("/metrics", h.System.Metrics)

	v1 := r.Group("/api/v1")
	v1.Use(middleware.Identity())
	v1.GET("/healthz", h.System.Healthz)

	files := v1.Group("/files")
	{
		files.POST("/upload", h.Files.Upload)
		files.POST("/process", h.Files.Process)
		files.GET("/processing/:sessionId", h.Files.GetSession)
		files.GET("/processing/:sessionId/files", h.Files.GetSessionFiles)
		files.GET("/processing/:sessionId/report", h.Files.DownloadReport)
		files.DELETE("/processing/:sessionId", h.Files.CancelSession)
		files.POST("/generate-filename", h.Files.GenerateFilename)
	}
	v1.GET("/usage", h.Files.GetUsage)
}
