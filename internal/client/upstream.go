// Package client provides the outbound HTTP client for upstream page fetches.
package client

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"pageproxy-go/internal/config"
	"pageproxy-go/internal/metrics"
	"pageproxy-go/internal/model"
)

// Fetcher retrieves upstream pages, following redirects to a single terminal
// response.
type Fetcher struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewFetcher creates a Fetcher with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics
// recording.
func NewFetcher(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Fetcher {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		// Compression is negotiated and decoded explicitly in Fetch so the
		// transformer always sees plain bytes.
		DisableCompression: true,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &Fetcher{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
		logger:  logger.With("component", "fetcher"),
		metrics: m,
	}
}

// Fetch issues a GET to target with the given forwarded headers and returns
// the terminal response after redirects. Only retrieval is relayed; the proxy
// never forwards side-effecting methods.
//
// The context controls the request lifetime: when it is canceled (client
// disconnect), the upstream request is canceled too. The caller is
// responsible for closing the response body.
func (f *Fetcher) Fetch(ctx context.Context, target string, header http.Header) (*model.UpstreamResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header
	req.Header.Set("Accept-Encoding", "gzip, br")

	f.logger.Debug("upstream request", "target", target)

	start := time.Now()
	resp, err := f.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via UpstreamResponse
	duration := time.Since(start).Seconds()

	if f.metrics != nil {
		f.metrics.UpstreamDuration.Observe(duration)
	}
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	if f.metrics != nil {
		f.metrics.UpstreamResponses.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	}

	body, err := decodeBody(resp)
	if err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("decode upstream body: %w", err)
	}

	return &model.UpstreamResponse{
		StatusCode:  resp.StatusCode,
		Header:      resp.Header,
		ContentType: resp.Header.Get("Content-Type"),
		FinalURL:    resp.Request.URL,
		Body:        body,
	}, nil
}

// decodeBody unwraps gzip or brotli content encoding. When it decodes, the
// Content-Encoding and Content-Length headers are dropped because they no
// longer describe the body.
func decodeBody(resp *http.Response) (io.ReadCloser, error) {
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "", "identity":
		return resp.Body, nil
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
		return decodedReader{Reader: gz, underlying: resp.Body}, nil
	case "br":
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
		return decodedReader{Reader: brotli.NewReader(resp.Body), underlying: resp.Body}, nil
	}
	// Unknown encoding the upstream chose on its own; pass through as-is.
	return resp.Body, nil
}

// decodedReader reads decompressed bytes while closing the network body.
type decodedReader struct {
	io.Reader
	underlying io.Closer
}

func (d decodedReader) Close() error {
	return d.underlying.Close()
}
