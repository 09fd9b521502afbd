package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// cors allows the management UI and browser clients on other origins.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// SetupRoutes registers the store API, the favorites API and, when
// metricsHandler is non-nil, /metrics. The recent events route is added when
// fh carries an event bus.
func SetupRoutes(router *gin.Engine, h *Handler, fh *FavoritesHandler, metricsHandler http.Handler) {
	router.Use(cors())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/personas", h.GetPersonas)
		apiGroup.GET("/personas/:persona/apps", h.GetApps)
		apiGroup.GET("/personas/:persona/apps/:app", h.GetAppStore)
		apiGroup.GET("/personas/:persona/apps/:app/:key", h.Get)
		apiGroup.GET("/global/:app/:key", h.GetGlobal)
		apiGroup.POST("/personas/:persona/apps/:app/:key", h.Set)
		apiGroup.DELETE("/personas/:persona/apps/:app/:key", h.Delete)
		apiGroup.POST("/move", h.Move)

		if fh != nil {
			favs := apiGroup.Group("/personas/:persona/favorites")
			{
				favs.GET("", fh.List)
				favs.DELETE("", fh.Clear)
				favs.POST("/import", fh.Import)
				favs.POST("/:id", fh.Add)
				favs.DELETE("/:id", fh.Remove)
				favs.POST("/:id/toggle", fh.Toggle)
			}
			if fh.Events != nil {
				apiGroup.GET("/events/recent", fh.RecentEvents)
			}
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
}
