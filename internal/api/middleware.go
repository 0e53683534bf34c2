package api

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pokerjest/animeSourceHub/internal/logging"
	"github.com/sirupsen/logrus"
)

const requestIDHeader = "X-Request-ID"

// RequestID tags every request, reusing the caller's id when it sends one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func logFor(c *gin.Context) *logrus.Entry {
	return logging.For("api").WithField("request_id", c.GetString("request_id"))
}
