package middleware

import (
	"github.com/labstack/echo/v4"
)

// hopByHopHeaders are request headers meaningful only on a single transport
// connection; they must never cross the proxy boundary.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// StripHopByHop returns an Echo middleware that removes hop-by-hop headers
// from inbound requests before they reach the gateway. Response headers are
// handled by the sanitizer instead; this proxy deliberately does not inject
// security headers of its own, since relaxing them is its whole purpose.
func StripHopByHop() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, h := range hopByHopHeaders {
				c.Request().Header.Del(h)
			}
			return next(c)
		}
	}
}
