package server

import (
	"github.com/gin-contrib/cors"
	"go.uber.org/fx"

	"github.com/looplj/reportflow/internal/server/api"
	"github.com/looplj/reportflow/internal/server/middleware"
)

type Handlers struct {
	fx.In

	Tasks      *api.TaskHandlers
	Rundown    *api.RundownHandlers
	Structured *api.StructuredHandlers
	System     *api.SystemHandlers
}

func SetupRoutes(server *Server, handlers Handlers) {
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

	base := server.Group(server.Config.BasePath)

	publicGroup := base.Group("", middleware.WithTimeout(server.Config.RequestTimeout))
	{
		publicGroup.GET("/health", handlers.System.Health)
		publicGroup.GET("/v1/diagnostics", handlers.System.Diagnostics)
		publicGroup.GET("/v1/tasks", handlers.Tasks.ListTasks)
		publicGroup.DELETE("/v1/cache", handlers.System.InvalidateCache)
		publicGroup.POST("/v1/circuits/:provider/reset", handlers.System.ResetCircuit)
		publicGroup.DELETE("/v1/rundown", handlers.Rundown.Abort)
	}

	llmGroup := base.Group("/v1", middleware.WithTimeout(server.Config.LLMRequestTimeout))
	{
		llmGroup.POST("/tasks/:task", handlers.Tasks.RunTask)
		llmGroup.POST("/rundown", handlers.Rundown.Generate)
		llmGroup.POST("/structured", handlers.Structured.Generate)
	}
}
