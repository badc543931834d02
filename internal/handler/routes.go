package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pageproxy-go/internal/config"
	"pageproxy-go/internal/metrics"
	"pageproxy-go/internal/middleware"
)

// RegisterRoutes wires all route handlers onto the Echo instance. The proxy
// entry point lives under the configured prefix and only answers GET; the
// auth gate applies to it alone, so health and metrics stay probeable.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, proxy *ProxyHandler, health *HealthHandler, m *metrics.Metrics) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	e.GET(cfg.Proxy.Prefix, proxy.Handle, middleware.AuthGate(cfg.Proxy.AuthToken))

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(
			promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
		))
	}
}
