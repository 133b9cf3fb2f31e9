package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/suPer8Hu/genimage/internal/metrics"
)

const loggerKey = "logger"

// Logger attaches a request scoped logger and writes one access line per
// request. It also feeds the request metrics.
func Logger(base zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqLog := base.With().
			Str("request_id", c.GetString(RequestIDKey)).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Logger()
		c.Set(loggerKey, reqLog)

		c.Next()

		status := c.Writer.Status()
		elapsed := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordRequest(c.Request.Method, route, strconv.Itoa(status), elapsed.Seconds())

		ev := reqLog.Info()
		switch {
		case status >= 500:
			ev = reqLog.Error()
		case status >= 400:
			ev = reqLog.Warn()
		}
		ev.Int("status", status).
			Dur("latency", elapsed).
			Str("client_ip", c.ClientIP()).
			Msg("request")
	}
}

// Log returns the request scoped logger, or a no-op logger outside a request.
func Log(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if l, ok := v.(zerolog.Logger); ok {
			return &l
		}
	}
	nop := zerolog.Nop()
	return &nop
}
