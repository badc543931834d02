// Package rewrite implements the URL rewriting engine. It resolves resource
// references against a base URL and encodes them into the proxy's canonical
// <prefix>?u=<escaped absolute URL> form.
package rewrite

import (
	"net/url"
	"regexp"
	"strings"
)

// pseudoSchemes are reference schemes that are never rewritten.
var pseudoSchemes = []string{"javascript:", "mailto:", "tel:"}

// cssURLPattern matches url(...) tokens in CSS text, with optional single or
// double quoting. Escaped parentheses inside unquoted values are not handled;
// this matches how rewriting proxies in the wild scan stylesheets.
var cssURLPattern = regexp.MustCompile(`(?i)url\s*\(\s*(?:'([^']*)'|"([^"]*)"|([^)\s'"]+))\s*\)`)

// Engine rewrites resource references into their proxied form. It is a pure
// value: no I/O, safe for concurrent use.
type Engine struct {
	prefix string
}

// NewEngine creates an Engine that emits references under the given proxy
// path prefix.
func NewEngine(prefix string) *Engine {
	return &Engine{prefix: prefix}
}

// Prefix returns the proxy path prefix the engine rewrites under.
func (e *Engine) Prefix() string {
	return e.prefix
}

// Proxify resolves ref against base and returns the proxied form.
//
// Fail-soft: a reference that cannot be resolved is returned unchanged, so a
// single malformed reference never aborts a larger document rewrite.
// Pseudo-scheme references (javascript:, mailto:, tel:) are returned
// unchanged, as are references already in proxied form (idempotence — the
// engine may run twice over the same reference, once server-side and once in
// the browser shim).
func (e *Engine) Proxify(ref string, base *url.URL) string {
	if ref == "" {
		return ref
	}

	lower := strings.ToLower(ref)
	for _, scheme := range pseudoSchemes {
		if strings.HasPrefix(lower, scheme) {
			return ref
		}
	}

	if strings.HasPrefix(ref, e.prefix+"?u=") {
		return ref
	}

	abs, err := base.Parse(ref)
	if err != nil {
		return ref
	}

	return e.prefix + "?u=" + url.QueryEscape(abs.String())
}

// Decode recovers the original absolute URL from a proxied reference.
// It is the exact inverse of Proxify: for every absolute URL u,
// Decode(Proxify(u)) returns u, including query string and fragment.
func (e *Engine) Decode(proxied string) (string, bool) {
	rest, found := strings.CutPrefix(proxied, e.prefix+"?")
	if !found {
		return "", false
	}
	q, err := url.ParseQuery(rest)
	if err != nil {
		return "", false
	}
	if !q.Has("u") {
		return "", false
	}
	return q.Get("u"), true
}

// RewriteCSS rewrites every url(...) occurrence in CSS text to its proxied
// form, re-quoting the value. data: URIs are left untouched.
func (e *Engine) RewriteCSS(css string, base *url.URL) string {
	return cssURLPattern.ReplaceAllStringFunc(css, func(match string) string {
		groups := cssURLPattern.FindStringSubmatch(match)
		value := groups[1]
		if value == "" {
			value = groups[2]
		}
		if value == "" {
			value = groups[3]
		}
		if value == "" || strings.HasPrefix(strings.ToLower(value), "data:") {
			return match
		}
		return `url("` + e.Proxify(value, base) + `")`
	})
}
