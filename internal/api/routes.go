package api

import (
	"github.com/gin-gonic/gin"
)

func InitRoutes(r *gin.Engine, h *Handler) {
	r.Use(RequestID())

	r.GET("/healthz", h.Healthz)

	// API
	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/healthz", h.Healthz)

		// Episode sources
		episode := apiGroup.Group("/anime/:animeId/episode/:episode")
		episode.GET("/sources", h.GetSources)
		episode.GET("/best-sources", h.GetBestSources)
		episode.GET("/active-sources", h.GetActiveSources)

		// Mappings
		apiGroup.GET("/anime/:animeId/mappings", h.GetMappings)
		apiGroup.PUT("/anime/:animeId/mappings/:provider", h.PutMapping)

		// Providers & maintenance
		apiGroup.GET("/providers/status", h.ProviderStatus)
		apiGroup.GET("/sources/stats", h.SourceStats)
		apiGroup.PATCH("/sources/:sourceId/availability", h.SetAvailability)
		apiGroup.DELETE("/sources/cleanup", h.Cleanup)
		apiGroup.POST("/sources/batch-update", h.BatchUpdate)

		// Server-Sent Events
		apiGroup.GET("/events", h.SSE)
	}
}
