package server

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/morezero/epics-mcp-bridge/internal/config"
)

// SetupLogging installs the default slog logger. w must not be stdout when
// stdout carries the stdio protocol.
func SetupLogging(level, format string, w io.Writer) error {
	lvl, err := config.ParseLogLevel(level)
	if err != nil {
		return err
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		return fmt.Errorf("%s - unknown LOG_FORMAT %q", logPrefix, format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// requestLogger logs each HTTP request at debug level. The SSE stream stays
// open for the life of the session, so it is logged when it closes.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug(fmt.Sprintf("%s - %s %s %d", logPrefix, c.Request.Method, c.Request.URL.Path, c.Writer.Status()),
			"latency", time.Since(start), "client", c.ClientIP())
	}
}
