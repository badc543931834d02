// Package service implements the request gateway: target validation, the
// host allow-list, forwarded-header construction, and the fetch/sanitize
// pipeline.
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"pageproxy-go/internal/client"
	"pageproxy-go/internal/config"
	"pageproxy-go/internal/model"
	"pageproxy-go/internal/sanitize"
)

// Gateway validation errors, mapped to whole-response HTTP statuses by the
// handler.
var (
	ErrMissingTarget  = errors.New("missing u query parameter")
	ErrInvalidTarget  = errors.New("target is not a valid URL")
	ErrHostNotAllowed = errors.New("target host is not in the allow-list")
)

// droppedRequestHeaders are inbound request headers never forwarded upstream.
// Accept-Encoding is dropped because the fetcher negotiates compression
// itself.
var droppedRequestHeaders = map[string]bool{
	"Host":            true,
	"Connection":      true,
	"Content-Length":  true,
	"Accept-Encoding": true,
}

// ProxyService validates proxy requests and forwards them upstream.
type ProxyService struct {
	fetcher *client.Fetcher
	cfg     *config.Config
	logger  *slog.Logger
	allowed map[string]bool // lowercased hostnames; empty means permissive
}

// NewProxyService creates a ProxyService. The allow-list is taken from
// configuration once at construction and is immutable afterwards.
func NewProxyService(f *client.Fetcher, cfg *config.Config, logger *slog.Logger) *ProxyService {
	allowed := make(map[string]bool, len(cfg.Proxy.AllowHosts))
	for _, h := range cfg.Proxy.AllowHosts {
		allowed[strings.ToLower(h)] = true
	}

	return &ProxyService{
		fetcher: f,
		cfg:     cfg,
		logger:  logger.With("component", "proxy_service"),
		allowed: allowed,
	}
}

// Resolve validates and normalizes the raw u parameter into an absolute
// target URL. A value without a scheme gets http:// prefixed before parsing.
func (s *ProxyService) Resolve(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, ErrMissingTarget
	}

	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	target, err := url.Parse(raw)
	if err != nil || target.Host == "" {
		return nil, ErrInvalidTarget
	}

	if len(s.allowed) > 0 && !s.allowed[strings.ToLower(target.Hostname())] {
		return nil, ErrHostNotAllowed
	}

	return target, nil
}

// Forward resolves the target, fetches it upstream, and returns the response
// with sanitized headers. The caller is responsible for closing the body.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.UpstreamResponse, error) {
	target, err := s.Resolve(pr.Target)
	if err != nil {
		return nil, err
	}

	header := s.forwardHeaders(pr.Header)

	s.logger.Debug("forwarding request", "target", target.String())

	resp, err := s.fetcher.Fetch(pr.Ctx, target.String(), header)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target.Host, err)
	}

	resp.Header = sanitize.Headers(resp.Header)
	return resp, nil
}

// forwardHeaders builds the outbound header set: all inbound headers minus
// the drop list, with a default User-Agent when the client supplied none.
func (s *ProxyService) forwardHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		if droppedRequestHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		dst[http.CanonicalHeaderKey(key)] = append([]string(nil), vals...)
	}
	if dst.Get("User-Agent") == "" {
		dst.Set("User-Agent", s.cfg.Proxy.UserAgent)
	}
	return dst
}
