package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pokerjest/animeSourceHub/internal/event"
	"github.com/pokerjest/animeSourceHub/internal/model"
	"github.com/pokerjest/animeSourceHub/internal/service"
	"github.com/samber/lo"
)

type Handler struct {
	svc         *service.SourceService
	bus         event.Bus
	cleanupDays int
}

// NewHandler builds the HTTP handlers. cleanupDays is used when
// DELETE /sources/cleanup comes without ?days.
func NewHandler(svc *service.SourceService, bus event.Bus, cleanupDays int) *Handler {
	if bus == nil {
		bus = event.Nop{}
	}
	if cleanupDays < 1 {
		cleanupDays = 7
	}
	return &Handler{svc: svc, bus: bus, cleanupDays: cleanupDays}
}

type sourcesQuery struct {
	Quality           string `form:"quality"`
	Limit             int    `form:"limit"`
	CheckAvailability bool   `form:"checkAvailability"`
	ForceRefresh      bool   `form:"forceRefresh"`
}

// episodeParams reads :animeId, :episode and the optional query knobs.
func episodeParams(c *gin.Context) (string, int, service.Query, bool) {
	animeID := c.Param("animeId")
	episode, err := strconv.Atoi(c.Param("episode"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid episode: must be a positive integer")
		return "", 0, service.Query{}, false
	}
	var q sourcesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "invalid query: "+err.Error())
		return "", 0, service.Query{}, false
	}
	return animeID, episode, service.Query{
		Quality:           q.Quality,
		Limit:             q.Limit,
		CheckAvailability: q.CheckAvailability,
		ForceRefresh:      q.ForceRefresh,
	}, true
}

func (h *Handler) GetSources(c *gin.Context) {
	animeID, episode, q, ok := episodeParams(c)
	if !ok {
		return
	}
	page, err := h.svc.GetSources(c.Request.Context(), animeID, episode, q)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, page)
}

func (h *Handler) GetBestSources(c *gin.Context) {
	animeID, episode, q, ok := episodeParams(c)
	if !ok {
		return
	}
	page, err := h.svc.GetBestSources(c.Request.Context(), animeID, episode, q)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, page)
}

func (h *Handler) GetActiveSources(c *gin.Context) {
	animeID, episode, q, ok := episodeParams(c)
	if !ok {
		return
	}
	page, err := h.svc.GetActiveSources(c.Request.Context(), animeID, episode, q)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, page)
}

func (h *Handler) ProviderStatus(c *gin.Context) {
	respondOK(c, gin.H{"providers": h.svc.ProviderStatus()})
}

func (h *Handler) SourceStats(c *gin.Context) {
	respondOK(c, h.svc.Stats(c.Request.Context()))
}

type availabilityRequest struct {
	IsAvailable *bool `json:"isAvailable" binding:"required"`
}

func (h *Handler) SetAvailability(c *gin.Context) {
	var req availabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid body: isAvailable is required")
		return
	}
	src, err := h.svc.SetAvailability(c.Request.Context(), c.Param("sourceId"), *req.IsAvailable)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, src)
}

type cleanupQuery struct {
	Days *int `form:"days"`
}

func (h *Handler) Cleanup(c *gin.Context) {
	var q cleanupQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "invalid days")
		return
	}
	days := h.cleanupDays
	if q.Days != nil {
		days = *q.Days
	}
	report, err := h.svc.Cleanup(c.Request.Context(), days)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, report)
}

type batchRequest struct {
	AnimeIDs  []string `json:"animeIds" binding:"required,min=1"`
	Providers []string `json:"providers"`
}

func (h *Handler) BatchUpdate(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid body: animeIds is required")
		return
	}
	providers := lo.Map(req.Providers, func(p string, _ int) model.Provider { return model.Provider(p) })
	report, err := h.svc.BatchUpdate(c.Request.Context(), req.AnimeIDs, providers)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, report)
}

func (h *Handler) GetMappings(c *gin.Context) {
	list, err := h.svc.Mappings(c.Request.Context(), c.Param("animeId"))
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, gin.H{"mappings": list})
}

type mappingRequest struct {
	ExternalID string `json:"externalId" binding:"required"`
}

func (h *Handler) PutMapping(c *gin.Context) {
	var req mappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid body: externalId is required")
		return
	}
	animeID := c.Param("animeId")
	p := model.Provider(c.Param("provider"))
	if err := h.svc.SetMapping(c.Request.Context(), animeID, p, req.ExternalID); err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, gin.H{"animeId": animeID, "provider": p, "externalId": req.ExternalID})
}

func (h *Handler) Healthz(c *gin.Context) {
	respondOK(c, gin.H{"status": "ok"})
}
