package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"streamportal/gatekeeper/internal/config"
	"streamportal/gatekeeper/internal/handler/middleware"
	jwtpkg "streamportal/gatekeeper/pkg/jwt"
)

func SetupRouter(
	cfg *config.Config,
	logger *zap.Logger,
	jwtManager *jwtpkg.Manager,
	admissionHandler *AdmissionHandler,
	adminHandler *AdminHandler,
) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.CORS(cfg.CORS))

	// Health check
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Public admission routes
	api := r.Group("/api/v1")
	{
		api.POST("/admit", admissionHandler.Admit)
	}

	// Session-scoped routes
	session := r.Group("/api/v1/session")
	session.Use(middleware.SessionAuth(jwtManager))
	{
		session.POST("/heartbeat", admissionHandler.Heartbeat)
		session.POST("/logout", admissionHandler.Logout)
	}

	// Admin routes
	r.POST("/api/v1/admin/login", adminHandler.Login)

	admin := r.Group("/api/v1/admin")
	admin.Use(middleware.AdminAuth(jwtManager))
	{
		admin.POST("/codes", adminHandler.CreateCode)
		admin.GET("/codes", adminHandler.ListCodes)
		admin.POST("/codes/:id/deactivate", adminHandler.DeactivateCode)

		admin.GET("/errors", adminHandler.RecentErrors)
		admin.GET("/errors/stats", adminHandler.ErrorStats)
		admin.DELETE("/errors", adminHandler.ClearErrors)

		admin.GET("/stats", adminHandler.SystemStats)
		admin.POST("/sweep", adminHandler.TriggerSweep)
	}

	return r
}
