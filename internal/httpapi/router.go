package httpapi

import (
	"net/http"
	"time"

	"weekly-meal-planner/internal/logger"

	"github.com/gin-gonic/gin"
)

// NewRouter builds the gin engine with every plan route.
func NewRouter(log *logger.Logger, h *PlanHandler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))

	router.GET("/healthcheck", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		api.POST("/plans", h.Generate)
		api.GET("/plans/:id", h.Get)
		api.DELETE("/plans/:id", h.Delete)
		api.GET("/plans/:id/stats", h.Stats)
		api.POST("/plans/:id/archive", h.Archive)
		api.POST("/plans/:id/days/:day/regenerate", h.RegenerateDay)
		api.POST("/plans/:id/days/:day/meals/:meal/regenerate", h.RegenerateMeal)
		api.PUT("/plans/:id/days/:day/meals/:meal", h.ReplaceMeal)

		api.GET("/recipes/:id", h.Recipe)

		api.GET("/users/:user/plans", h.List)
		api.GET("/users/:user/plans/today", h.Today)
		api.GET("/users/:user/plans/tomorrow", h.Tomorrow)
		api.GET("/users/:user/plans/by-date", h.ByDate)
		api.GET("/users/:user/days/:date", h.Day)
	}
	return router
}

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds())
	}
}
