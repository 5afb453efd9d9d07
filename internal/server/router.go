package server

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/nebulus/gantry/internal/handlers"
	"github.com/nebulus/gantry/internal/middleware"
	"github.com/nebulus/gantry/internal/platform/envutil"
)

type RouterConfig struct {
	ChatHandler     *handlers.ChatHandler
	DocumentHandler *handlers.DocumentHandler
	PersonaHandler  *handlers.PersonaHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()
	router.Use(middleware.AttachTraceContext())

	origins := strings.Split(envutil.Str("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173"), ",")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With", "X-Request-Id", "X-Trace-Id", middleware.UserIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	api.Use(middleware.Identity())
	{
		api.GET("/personas", cfg.PersonaHandler.List)

		api.POST("/conversations", cfg.ChatHandler.CreateConversation)
		api.GET("/conversations", cfg.ChatHandler.ListConversations)
		api.GET("/conversations/:id", cfg.ChatHandler.GetConversation)
		api.PATCH("/conversations/:id", cfg.ChatHandler.UpdateConversation)
		api.DELETE("/conversations/:id", cfg.ChatHandler.DeleteConversation)
		api.GET("/conversations/:id/messages", cfg.ChatHandler.ListMessages)
		api.POST("/conversations/:id/messages", cfg.ChatHandler.SendMessage)

		api.POST("/documents", cfg.DocumentHandler.Upload)
		api.GET("/documents", cfg.DocumentHandler.List)
		api.GET("/documents/search", cfg.DocumentHandler.Search)
		api.GET("/documents/:id", cfg.DocumentHandler.Get)
		api.DELETE("/documents/:id", cfg.DocumentHandler.Delete)
	}

	return router
}
