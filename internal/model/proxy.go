// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

// ProxyRequest represents a client request for a proxied page fetch.
// Target is the raw value of the u query parameter, before validation.
type ProxyRequest struct {
	Ctx    context.Context
	Target string
	Header http.Header
}

// UpstreamResponse represents the terminal upstream response after redirects.
// FinalURL is the URL that actually produced the response; embedded references
// are resolved against it, not against the originally requested target.
// Body is already content-decoded when the upstream applied gzip or brotli.
type UpstreamResponse struct {
	StatusCode  int
	Header      http.Header
	ContentType string
	FinalURL    *url.URL
	Body        io.ReadCloser
}
