package server

import (
	"github.com/gin-contrib/cors"
	"go.uber.org/fx"

	"github.com/looplj/tenantguard/internal/server/api"
	"github.com/looplj/tenantguard/internal/server/biz"
	"github.com/looplj/tenantguard/internal/server/middleware"
)

// RoleAdmin may inspect the tenancy registry.
const RoleAdmin = biz.RoleAdmin

type Handlers struct {
	fx.In

	System        *api.SystemHandlers
	Auth          *api.AuthHandlers
	Records       *api.RecordHandlers
	Notifications *api.NotificationHandlers
	Backup        *api.BackupHandlers
}

type Services struct {
	fx.In

	AuthService *biz.AuthService
}

func SetupRoutes(server *Server, handlers Handlers, services Services) {
	server.Use(middleware.AccessLog())
	server.Use(middleware.WithLoggingTracing(server.Config.Trace))

	if server.Config.CORS.Enabled {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = server.Config.CORS.AllowedOrigins
		corsConfig.AllowMethods = server.Config.CORS.AllowedMethods
		corsConfig.AllowHeaders = server.Config.CORS.AllowedHeaders
		corsConfig.ExposeHeaders = server.Config.CORS.ExposedHeaders
		corsConfig.AllowCredentials = server.Config.CORS.AllowCredentials
		corsConfig.MaxAge = server.Config.CORS.MaxAge

		corsHandler := cors.New(corsConfig)
		server.Use(corsHandler)
		server.OPTIONS("*any", corsHandler)
	}

	base := server.Group(server.Config.BasePath, middleware.WithTimeout(server.Config.RequestTimeout))

	publicGroup := base.Group("")
	{
		// Health check endpoint - no authentication required
		publicGroup.GET("/health", handlers.System.Health)
		publicGroup.POST("/auth/signup", handlers.Auth.SignUp)
		publicGroup.POST("/auth/signin", handlers.Auth.SignIn)
	}

	// Every route below runs with the execution bound from the session token.
	apiGroup := base.Group("/api", middleware.WithExecutionContext(services.AuthService))
	{
		apiGroup.GET("/records/:model", handlers.Records.List)
		apiGroup.POST("/records/:model", handlers.Records.Create)
		apiGroup.GET("/records/:model/:id", handlers.Records.Get)
		apiGroup.PATCH("/records/:model/:id", handlers.Records.Update)
		apiGroup.DELETE("/records/:model/:id", handlers.Records.Delete)
		apiGroup.POST("/records/:model/:id/restore", handlers.Records.Restore)
		apiGroup.GET("/reports/:model", handlers.Records.Report)

		apiGroup.POST("/notifications", handlers.Notifications.Send)
		apiGroup.GET("/notifications", handlers.Notifications.List)
		apiGroup.POST("/notifications/:id/read", handlers.Notifications.MarkRead)
	}

	backupGroup := apiGroup.Group("", middleware.RequireRole(biz.RoleOwner, RoleAdmin))
	{
		backupGroup.GET("/backup", handlers.Backup.Backup)
		backupGroup.POST("/restore", handlers.Backup.Restore)
	}

	adminGroup := base.Group("/admin",
		middleware.WithExecutionContext(services.AuthService),
		middleware.RequireRole(RoleAdmin),
	)
	{
		adminGroup.GET("/models", handlers.System.Models)
	}
}
