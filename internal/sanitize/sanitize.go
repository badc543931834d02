// Package sanitize rewrites upstream response headers so the proxied page can
// be served from the proxy's own origin.
package sanitize

import (
	"net/http"
)

// strippedHeaders are removed from every upstream response. The security
// headers would block the rewritten page from loading its (now cross-origin)
// resources; the hop-by-hop headers are only meaningful on the upstream
// connection.
var strippedHeaders = []string{
	"Content-Security-Policy",
	"Content-Security-Policy-Report-Only",
	"X-Frame-Options",
	"X-Xss-Protection",
	"X-Content-Type-Options",
	"Referrer-Policy",
	"Strict-Transport-Security",

	"Connection",
	"Keep-Alive",
	"Transfer-Encoding",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailers",
	"Upgrade",
}

var stripped = func() map[string]bool {
	m := make(map[string]bool, len(strippedHeaders))
	for _, h := range strippedHeaders {
		m[http.CanonicalHeaderKey(h)] = true
	}
	return m
}()

// Headers returns a sanitized copy of upstream response headers: the strip
// list is dropped, Set-Cookie values are rescoped to the proxy origin, and
// everything else is copied verbatim.
func Headers(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		canonical := http.CanonicalHeaderKey(key)
		if stripped[canonical] {
			continue
		}
		if canonical == "Set-Cookie" {
			for _, v := range vals {
				dst.Add("Set-Cookie", RescopeCookie(v))
			}
			continue
		}
		dst[canonical] = append([]string(nil), vals...)
	}
	return dst
}

// RescopeCookie rewrites a Set-Cookie directive to be valid under the proxy's
// origin: Domain, Secure and SameSite are removed, and Path defaults to /.
// A directive that does not parse is returned unchanged.
//
// Known limitation: cookies from distinct upstream origins proxied under one
// proxy origin may collide by name.
func RescopeCookie(directive string) string {
	resp := http.Response{Header: http.Header{"Set-Cookie": {directive}}}
	cookies := resp.Cookies()
	if len(cookies) == 0 {
		return directive
	}

	c := cookies[0]
	c.Domain = ""
	c.Secure = false
	c.SameSite = http.SameSiteDefaultMode
	if c.Path == "" {
		c.Path = "/"
	}
	return c.String()
}
