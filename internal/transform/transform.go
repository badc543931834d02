// Package transform rewrites upstream response bodies so every embedded
// resource reference keeps flowing through the proxy. Dispatch is purely on
// content type: HTML documents get a tree rewrite, CSS gets a url(...) text
// rewrite, everything else passes through untouched.
package transform

import (
	"log/slog"
	"mime"
	"net/url"

	"pageproxy-go/internal/rewrite"
	"pageproxy-go/internal/shim"
)

// Kind classifies a response body for transformation.
type Kind int

const (
	// KindOpaque bodies are streamed through unmodified.
	KindOpaque Kind = iota
	// KindHTML bodies get the document tree rewrite.
	KindHTML
	// KindCSS bodies get the stylesheet text rewrite.
	KindCSS
)

// String returns the kind as a bounded metrics label.
func (k Kind) String() string {
	switch k {
	case KindHTML:
		return "html"
	case KindCSS:
		return "css"
	default:
		return "opaque"
	}
}

// KindOf classifies a Content-Type header value. Unparsable or missing
// content types are treated as opaque.
func KindOf(contentType string) Kind {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return KindOpaque
	}
	switch mediaType {
	case "text/html", "application/xhtml+xml":
		return KindHTML
	case "text/css":
		return KindCSS
	}
	return KindOpaque
}

// Transformer rewrites HTML and CSS bodies using a rewrite engine. The shim
// script is generated once at construction and injected into every HTML
// document.
type Transformer struct {
	engine *rewrite.Engine
	shim   string
	logger *slog.Logger
}

// NewTransformer creates a Transformer for the engine's proxy prefix.
func NewTransformer(engine *rewrite.Engine, logger *slog.Logger) *Transformer {
	return &Transformer{
		engine: engine,
		shim:   shim.Script(engine.Prefix()),
		logger: logger.With("component", "transformer"),
	}
}

// CSS rewrites every url(...) occurrence in a stylesheet to its proxied form.
func (t *Transformer) CSS(body []byte, base *url.URL) []byte {
	return []byte(t.engine.RewriteCSS(string(body), base))
}
