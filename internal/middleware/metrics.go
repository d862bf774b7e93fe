package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/FilipRus/boxItFindIt/internal/telemetry"
)

const noRoute = "<no-route>"

// MetricsMiddleware feeds the HTTP request counter, latency histogram and in-flight
// gauge. Labels use the matched route template (/api/public/box/:qrCode), never the raw
// path, and unknown methods collapse to OTHER so scanners cannot inflate cardinality.
// Register it after Recovery so the final status is what gets counted.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		telemetry.HTTPRequestsInFlight.Inc()
		start := time.Now()

		defer func() {
			telemetry.HTTPRequestsInFlight.Dec()

			route := c.FullPath()
			if route == "" {
				route = noRoute
			}
			method := metricMethod(c.Request.Method)

			telemetry.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
			telemetry.HTTPRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		}()

		c.Next()
	}
}

func metricMethod(m string) string {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions:
		return m
	}
	return "OTHER"
}
