// Package logging configures the process-wide logrus logger from config.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pokerjest/animeSourceHub/internal/config"
	"github.com/sirupsen/logrus"
)

// Setup applies level and formatter. Unknown levels fall back to info.
func Setup(cfg config.LogConfig) {
	SetupWithOutput(cfg, os.Stderr)
}

func SetupWithOutput(cfg config.LogConfig, out io.Writer) {
	logrus.SetOutput(out)

	if cfg.JSON {
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	parsed, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logrus.SetLevel(parsed)
}

// For returns an entry tagged with the component name.
func For(component string) *logrus.Entry {
	return logrus.WithField("component", component)
}

// GinLogger replaces gin's default access log with logrus.
func GinLogger() gin.HandlerFunc {
	log := For("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		})
		if id := c.GetString("request_id"); id != "" {
			entry = entry.WithField("request_id", id)
		}
		switch {
		case c.Writer.Status() >= 500:
			entry.Error("request failed")
		case c.Writer.Status() >= 400:
			entry.Warn("request rejected")
		default:
			entry.Debug("request served")
		}
	}
}
