package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/pokerjest/animeSourceHub/internal/aggregator"
	"github.com/pokerjest/animeSourceHub/internal/service"
)

func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func respondError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": msg})
}

// respondErr maps service errors to status codes.
func respondErr(c *gin.Context, err error) {
	var (
		ve  *service.ValidationError
		agg *aggregator.AggregationError
	)
	switch {
	case errors.As(err, &ve):
		respondError(c, http.StatusBadRequest, ve.Error())
	case errors.Is(err, service.ErrSourceNotFound):
		respondError(c, http.StatusNotFound, err.Error())
	case errors.As(err, &agg):
		c.Header("Retry-After", "30")
		respondError(c, http.StatusServiceUnavailable, "no sources found: every provider failed, try again later")
	case errors.Is(err, context.DeadlineExceeded):
		respondError(c, http.StatusGatewayTimeout, "request timed out")
	default:
		logFor(c).Errorf("request failed: %v", err)
		respondError(c, http.StatusInternalServerError, "internal error")
	}
}
