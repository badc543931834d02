package shim

import (
	"strings"
	"testing"
)

func TestScript_PrefixBakedIn(t *testing.T) {
	s := Script("/go")

	if strings.Contains(s, "@@PREFIX@@") {
		t.Error("prefix marker not replaced")
	}
	if !strings.Contains(s, `window.__PROXY_PREFIX__ || "/go"`) {
		t.Error("script does not default to the configured prefix")
	}
}

func TestScript_InterceptsAllSurfaces(t *testing.T) {
	s := Script("/go")

	for _, want := range []string{
		"window.fetch",
		"XMLHttpRequest.prototype.open",
		`Object.defineProperty(ctor.prototype, "src"`,
		"document.baseURI",
		"encodeURIComponent",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("script missing %q", want)
		}
	}
}

func TestScript_SelfContained(t *testing.T) {
	// The script is injected inline into arbitrary documents; it must not
	// terminate its own script element early.
	if strings.Contains(Script("/go"), "</script") {
		t.Error("script contains a closing script tag")
	}
}
