package transform

import (
	"bytes"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"pageproxy-go/internal/rewrite"
)

func newTestTransformer(t *testing.T) *Transformer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewTransformer(rewrite.NewEngine("/go"), logger)
}

func transformHTML(t *testing.T, input string) (*goquery.Document, string) {
	t.Helper()
	tr := newTestTransformer(t)
	base, _ := url.Parse("http://example.com")
	out := tr.HTML([]byte(input), base)
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("parse transformed output: %v", err)
	}
	return doc, string(out)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		contentType string
		want        Kind
	}{
		{"text/html", KindHTML},
		{"text/html; charset=utf-8", KindHTML},
		{"application/xhtml+xml", KindHTML},
		{"text/css", KindCSS},
		{"text/css; charset=utf-8", KindCSS},
		{"image/png", KindOpaque},
		{"application/json", KindOpaque},
		{"", KindOpaque},
		{"garbage;;;", KindOpaque},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			if got := KindOf(tt.contentType); got != tt.want {
				t.Errorf("KindOf(%q) = %v, want %v", tt.contentType, got, tt.want)
			}
		})
	}
}

func TestHTML_InsertsBaseAsFirstHeadChild(t *testing.T) {
	doc, _ := transformHTML(t, `<html><head><title>t</title></head><body></body></html>`)

	first := doc.Find("head").Children().First()
	if !first.Is("base") {
		t.Fatalf("first head child = %s, want base", goquery.NodeName(first))
	}
	if href, _ := first.Attr("href"); href != "http://example.com" {
		t.Errorf("base href = %q, want %q", href, "http://example.com")
	}
}

func TestHTML_OverwritesExistingBase(t *testing.T) {
	doc, out := transformHTML(t, `<html><head><title>t</title><base href="http://old.example/"></head><body></body></html>`)

	bases := doc.Find("base")
	if bases.Length() != 1 {
		t.Fatalf("base count = %d, want 1", bases.Length())
	}
	if href, _ := bases.Attr("href"); href != "http://example.com" {
		t.Errorf("base href = %q, want %q", href, "http://example.com")
	}
	if !doc.Find("head").Children().First().Is("base") {
		t.Error("existing base was not moved to first head child")
	}
	if strings.Contains(out, "http://old.example") {
		t.Error("old base href survived")
	}
}

func TestHTML_RewritesReferenceAttributes(t *testing.T) {
	input := `<html><head></head><body>
		<a href="/page">link</a>
		<img src="logo.png">
		<script src="/app.js"></script>
		<link href="/site.css" rel="stylesheet">
		<iframe src="/frame"></iframe>
		<source src="/clip.webm">
		<video src="/v.mp4"></video>
		<audio src="/a.mp3"></audio>
	</body></html>`
	doc, _ := transformHTML(t, input)

	tests := []struct {
		selector string
		attr     string
		want     string
	}{
		{"a", "href", "/go?u=http%3A%2F%2Fexample.com%2Fpage"},
		{"img", "src", "/go?u=http%3A%2F%2Fexample.com%2Flogo.png"},
		{"script[src]", "src", "/go?u=http%3A%2F%2Fexample.com%2Fapp.js"},
		{"link", "href", "/go?u=http%3A%2F%2Fexample.com%2Fsite.css"},
		{"iframe", "src", "/go?u=http%3A%2F%2Fexample.com%2Fframe"},
		{"source", "src", "/go?u=http%3A%2F%2Fexample.com%2Fclip.webm"},
		{"video", "src", "/go?u=http%3A%2F%2Fexample.com%2Fv.mp4"},
		{"audio", "src", "/go?u=http%3A%2F%2Fexample.com%2Fa.mp3"},
	}
	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			got, ok := doc.Find(tt.selector).First().Attr(tt.attr)
			if !ok {
				t.Fatalf("%s: attribute %s missing", tt.selector, tt.attr)
			}
			if got != tt.want {
				t.Errorf("%s %s = %q, want %q", tt.selector, tt.attr, got, tt.want)
			}
		})
	}
}

func TestHTML_AnchorsGetNoopenerRel(t *testing.T) {
	doc, _ := transformHTML(t, `<html><body><a href="/x" rel="author">x</a><a href="/y">y</a></body></html>`)

	doc.Find("a").Each(func(_ int, sel *goquery.Selection) {
		if rel, _ := sel.Attr("rel"); rel != "noopener noreferrer" {
			t.Errorf("a rel = %q, want %q", rel, "noopener noreferrer")
		}
	})
}

func TestHTML_PseudoSchemeHrefUnchanged(t *testing.T) {
	doc, _ := transformHTML(t, `<html><body><a href="javascript:void(0)">x</a><a href="mailto:a@b.c">m</a></body></html>`)

	if href, _ := doc.Find("a").Eq(0).Attr("href"); href != "javascript:void(0)" {
		t.Errorf("javascript href = %q, want unchanged", href)
	}
	if href, _ := doc.Find("a").Eq(1).Attr("href"); href != "mailto:a@b.c" {
		t.Errorf("mailto href = %q, want unchanged", href)
	}
}

func TestHTML_RewritesInlineStyleAttribute(t *testing.T) {
	doc, _ := transformHTML(t, `<html><body><div style="background:url(/bg.png)"></div></body></html>`)

	style, _ := doc.Find("div").Attr("style")
	want := `background:url("/go?u=http%3A%2F%2Fexample.com%2Fbg.png")`
	if style != want {
		t.Errorf("style = %q, want %q", style, want)
	}
}

func TestHTML_RewritesStyleElement(t *testing.T) {
	_, out := transformHTML(t, `<html><head><style>body{background:url('/bg.png')}</style></head><body></body></html>`)

	want := `url("/go?u=http%3A%2F%2Fexample.com%2Fbg.png")`
	if !strings.Contains(out, want) {
		t.Errorf("style element not rewritten; output: %s", out)
	}
}

func TestHTML_StyleDataURIUntouched(t *testing.T) {
	_, out := transformHTML(t, `<html><body><div style="background:url(data:image/gif;base64,R0lGOD)"></div></body></html>`)

	if !strings.Contains(out, "data:image/gif;base64,R0lGOD") {
		t.Errorf("data URI was rewritten; output: %s", out)
	}
}

func TestHTML_RewritesMetaRefresh(t *testing.T) {
	doc, _ := transformHTML(t, `<html><head><meta http-equiv="refresh" content="5; url=/x"></head><body></body></html>`)

	content, _ := doc.Find("meta").Attr("content")
	want := "5; url=/go?u=http%3A%2F%2Fexample.com%2Fx"
	if content != want {
		t.Errorf("meta refresh content = %q, want %q", content, want)
	}
}

func TestHTML_MetaWithoutRefreshUntouched(t *testing.T) {
	doc, _ := transformHTML(t, `<html><head><meta name="description" content="5; url=/x"></head><body></body></html>`)

	content, _ := doc.Find("meta").Attr("content")
	if content != "5; url=/x" {
		t.Errorf("non-refresh meta content = %q, want unchanged", content)
	}
}

func TestHTML_InjectsShimBeforeClosingBody(t *testing.T) {
	_, out := transformHTML(t, `<html><body><p>hi</p></body></html>`)

	idx := strings.Index(out, "XMLHttpRequest.prototype.open")
	end := strings.Index(out, "</body>")
	if idx == -1 {
		t.Fatal("shim script not injected")
	}
	if end == -1 || idx > end {
		t.Error("shim script not placed before closing body tag")
	}
}

func TestHTML_EmitsDoctype(t *testing.T) {
	for _, input := range []string{
		`<html><body></body></html>`,
		`<!DOCTYPE html><html><body></body></html>`,
	} {
		_, out := transformHTML(t, input)
		if !strings.HasPrefix(out, "<!DOCTYPE html>") {
			t.Errorf("output missing doctype: %.40q", out)
		}
		if strings.Count(out, "<!DOCTYPE") != 1 {
			t.Errorf("doctype emitted more than once: %.80q", out)
		}
	}
}

func TestHTML_TransformIsIdempotentOnReferences(t *testing.T) {
	tr := newTestTransformer(t)
	base, _ := url.Parse("http://example.com")

	once := tr.HTML([]byte(`<html><body><img src="/a.png"></body></html>`), base)
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(tr.HTML(once, base)))
	if err != nil {
		t.Fatal(err)
	}

	src, _ := doc.Find("img").Attr("src")
	if src != "/go?u=http%3A%2F%2Fexample.com%2Fa.png" {
		t.Errorf("double transform wrapped reference twice: %q", src)
	}
}

func TestCSS(t *testing.T) {
	tr := newTestTransformer(t)
	base, _ := url.Parse("http://origin")

	got := string(tr.CSS([]byte("background:url(/img.png)"), base))
	want := `background:url("/go?u=http%3A%2F%2Forigin%2Fimg.png")`
	if got != want {
		t.Errorf("CSS = %q, want %q", got, want)
	}
}
