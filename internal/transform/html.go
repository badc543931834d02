package transform

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// attrRules maps element tags to the attribute carrying a resource reference.
// Expressed as data so new tags are a one-line addition.
var attrRules = map[string]string{
	"a":      "href",
	"img":    "src",
	"script": "src",
	"link":   "href",
	"iframe": "src",
	"source": "src",
	"video":  "src",
	"audio":  "src",
}

// metaRefreshPattern splits a meta refresh content value into the delay part
// and the target URL, so only the target is replaced.
var metaRefreshPattern = regexp.MustCompile(`(?i)^(\s*[\d.]+\s*;\s*url\s*=\s*)(.+)$`)

// HTML rewrites a complete HTML document:
//   - a <base> element pointing at the upstream URL becomes the first child
//     of <head>, so relative references resolve against the upstream
//   - reference attributes (per attrRules), inline styles, <style> blocks and
//     meta refresh targets are rewritten to proxied form
//   - the runtime shim is injected as the last child of <body>
//   - the result is serialized as an HTML5 document with an explicit doctype
//
// Fail-soft: if the body cannot be parsed at all, it is returned unchanged.
func (t *Transformer) HTML(body []byte, base *url.URL) []byte {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		t.logger.Warn("html parse failed, passing body through", "err", err)
		return body
	}

	t.rewriteTree(doc, base)
	ensureBase(doc, base)
	t.injectShim(doc)

	var buf bytes.Buffer
	buf.WriteString("<!DOCTYPE html>")
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.DoctypeNode {
			continue
		}
		if err := html.Render(&buf, c); err != nil {
			t.logger.Warn("html render failed, passing body through", "err", err)
			return body
		}
	}
	return buf.Bytes()
}

func (t *Transformer) rewriteTree(n *html.Node, base *url.URL) {
	if n.Type == html.ElementNode {
		t.rewriteElement(n, base)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		t.rewriteTree(c, base)
	}
}

func (t *Transformer) rewriteElement(n *html.Node, base *url.URL) {
	if attrName, ok := attrRules[n.Data]; ok {
		for i := range n.Attr {
			if n.Attr[i].Key == attrName {
				n.Attr[i].Val = t.engine.Proxify(n.Attr[i].Val, base)
			}
		}
	}

	switch n.Data {
	case "a":
		setAttr(n, "rel", "noopener noreferrer")
	case "style":
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				c.Data = t.engine.RewriteCSS(c.Data, base)
			}
		}
	case "meta":
		t.rewriteMetaRefresh(n, base)
	}

	for i := range n.Attr {
		if n.Attr[i].Key == "style" {
			n.Attr[i].Val = t.engine.RewriteCSS(n.Attr[i].Val, base)
		}
	}
}

// rewriteMetaRefresh rewrites <meta http-equiv="refresh" content="N; url=X">
// by replacing only the target portion.
func (t *Transformer) rewriteMetaRefresh(n *html.Node, base *url.URL) {
	if !strings.EqualFold(getAttr(n, "http-equiv"), "refresh") {
		return
	}
	for i := range n.Attr {
		if n.Attr[i].Key != "content" {
			continue
		}
		groups := metaRefreshPattern.FindStringSubmatch(n.Attr[i].Val)
		if groups == nil {
			return
		}
		target := strings.TrimSpace(groups[2])
		n.Attr[i].Val = groups[1] + t.engine.Proxify(target, base)
	}
}

// ensureBase makes a <base href="<upstream>"> the first child of <head>,
// inserting one if absent or overwriting and moving the existing one.
func ensureBase(doc *html.Node, base *url.URL) {
	head := findElement(doc, atom.Head)
	if head == nil {
		return
	}

	existing := findElement(head, atom.Base)
	if existing != nil {
		setAttr(existing, "href", base.String())
		if head.FirstChild != existing {
			existing.Parent.RemoveChild(existing)
			head.InsertBefore(existing, head.FirstChild)
		}
		return
	}

	node := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Base,
		Data:     "base",
		Attr:     []html.Attribute{{Key: "href", Val: base.String()}},
	}
	head.InsertBefore(node, head.FirstChild)
}

// injectShim appends the interceptor script as the last child of <body>, so
// it is serialized immediately before the closing body tag.
func (t *Transformer) injectShim(doc *html.Node) {
	body := findElement(doc, atom.Body)
	if body == nil {
		return
	}
	script := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Script,
		Data:     "script",
	}
	script.AppendChild(&html.Node{Type: html.TextNode, Data: t.shim})
	body.AppendChild(script)
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

func getAttr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}
