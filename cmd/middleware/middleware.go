package middleware

import (
	"strconv"
	"time"

	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"eventreg/internal/metrics"
)

func LoggingMiddleware() func(*ginext.Context) {
	return func(c *ginext.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := zlog.Logger.Info()
		switch {
		case status >= 500:
			event = zlog.Logger.Error()
		case status >= 400:
			event = zlog.Logger.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("request handled")
	}
}

// MetricsMiddleware records request counts and latency by route pattern.
func MetricsMiddleware(m *metrics.Metrics) func(*ginext.Context) {
	return func(c *ginext.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.Request(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}
