package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"

	"pageproxy-go/internal/config"
	"pageproxy-go/internal/metrics"
	"pageproxy-go/internal/model"
	"pageproxy-go/internal/service"
	"pageproxy-go/internal/transform"
)

// ProxyHandler serves the proxy entry point: it forwards the fetch through
// the gateway, then either streams the body (opaque) or buffers and rewrites
// it (HTML/CSS). The upstream status code is always mirrored.
type ProxyHandler struct {
	service     *service.ProxyService
	transformer *transform.Transformer
	cfg         *config.Config
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewProxyHandler creates a ProxyHandler. The metrics parameter is optional;
// pass nil to disable transform counters.
func NewProxyHandler(svc *service.ProxyService, tr *transform.Transformer, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service:     svc,
		transformer: tr,
		cfg:         cfg,
		metrics:     m,
		logger:      logger.With("component", "proxy_handler"),
	}
}

// Handle proxies the request named by the u query parameter.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	pr := &model.ProxyRequest{
		Ctx:    req.Context(),
		Target: c.QueryParam("u"),
		Header: req.Header,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	kind := transform.KindOf(resp.ContentType)
	if h.metrics != nil {
		h.metrics.TransformsTotal.WithLabelValues(kind.String()).Inc()
	}

	if kind == transform.KindOpaque {
		return h.stream(c, resp)
	}
	return h.rewrite(c, resp, kind)
}

// stream copies an opaque body to the client incrementally, bounding memory
// use for large payloads.
func (h *ProxyHandler) stream(c echo.Context, resp *model.UpstreamResponse) error {
	copyHeaders(c, resp.Header)
	c.Response().WriteHeader(resp.StatusCode)

	// If the copy fails mid-stream the status has already been sent; the
	// client gets a truncated response. Inherent to streaming proxies, so
	// only log it.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body", "err", err, "target", c.QueryParam("u"))
	}
	return nil
}

// rewrite buffers a transformable body up to the configured cap and rewrites
// it. A body over the cap is passed through untransformed rather than failing
// the whole response.
func (h *ProxyHandler) rewrite(c echo.Context, resp *model.UpstreamResponse, kind transform.Kind) error {
	maxBytes := h.cfg.Proxy.MaxTransformBytes
	buf, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return h.mapError(c, fmt.Errorf("read upstream body: %w", err))
	}

	if int64(len(buf)) > maxBytes {
		h.logger.Warn("body exceeds transform cap, passing through",
			"cap_bytes", maxBytes,
			"target", c.QueryParam("u"),
		)
		copyHeaders(c, resp.Header)
		c.Response().WriteHeader(resp.StatusCode)
		if _, err := c.Response().Write(buf); err != nil {
			return nil
		}
		if _, err := io.Copy(c.Response(), resp.Body); err != nil {
			h.logger.Error("streaming oversized body", "err", err)
		}
		return nil
	}

	var out []byte
	switch kind {
	case transform.KindHTML:
		out = h.transformer.HTML(buf, resp.FinalURL)
	case transform.KindCSS:
		out = h.transformer.CSS(buf, resp.FinalURL)
	}

	// The rewritten body has a new length.
	resp.Header.Del("Content-Length")
	copyHeaders(c, resp.Header)
	c.Response().Header().Set("Content-Length", strconv.Itoa(len(out)))
	c.Response().WriteHeader(resp.StatusCode)
	_, err = c.Response().Write(out)
	return err
}

func copyHeaders(c echo.Context, header http.Header) {
	for key, vals := range header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("proxy error",
		"err", err,
		"target", c.QueryParam("u"),
	)

	switch {
	case errors.Is(err, service.ErrMissingTarget), errors.Is(err, service.ErrInvalidTarget):
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	case errors.Is(err, service.ErrHostNotAllowed):
		return c.JSON(http.StatusForbidden, map[string]string{
			"error": err.Error(),
		})
	}

	// Everything else is an upstream failure; classify it for the human-
	// readable 502 body.
	reason := "upstream request failed"
	var dnsErr *net.DNSError
	var urlErr *url.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		reason = "upstream request timed out"
	case errors.As(err, &dnsErr):
		reason = "upstream host could not be resolved"
	case errors.Is(err, context.Canceled):
		reason = "client disconnected"
	case errors.As(err, &urlErr):
		reason = "upstream connection failed"
	}

	return c.JSON(http.StatusBadGateway, map[string]string{
		"error":  reason,
		"detail": err.Error(),
	})
}
