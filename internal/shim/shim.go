// Package shim generates the browser-side interceptor script. The script is
// injected into every proxied HTML document and retrofits dynamic network
// calls (fetch, XMLHttpRequest, src assignment) so they keep flowing through
// the proxy. It re-implements the proxify contract of internal/rewrite in
// JavaScript because it runs in a runtime the server does not control.
package shim

import "strings"

// prefixMarker is replaced with the configured proxy prefix when the script
// is generated.
const prefixMarker = "@@PREFIX@@"

const script = `(function () {
  "use strict";

  var PREFIX = window.__PROXY_PREFIX__ || "` + prefixMarker + `";

  // Mirrors the server-side rewrite: resolve against the document's base
  // (the server inserts a <base> pointing at the upstream origin), skip
  // pseudo-schemes, and never wrap a reference that is already proxied.
  function proxify(ref) {
    if (typeof ref !== "string" || ref === "") return ref;
    if (ref.indexOf(PREFIX + "?u=") === 0) return ref;
    var lower = ref.toLowerCase();
    if (lower.indexOf("javascript:") === 0 ||
        lower.indexOf("mailto:") === 0 ||
        lower.indexOf("tel:") === 0 ||
        lower.indexOf("data:") === 0 ||
        lower.indexOf("blob:") === 0) {
      return ref;
    }
    return PREFIX + "?u=" + encodeURIComponent(new URL(ref, document.baseURI).href);
  }

  // Every wrapper falls back to the native call with the original argument on
  // any error: the shim must never break page functionality.

  var nativeFetch = window.fetch;
  if (nativeFetch) {
    window.fetch = function (input, init) {
      try {
        if (typeof input === "string") {
          return nativeFetch.call(window, proxify(input), init);
        }
        if (input && typeof input.url === "string") {
          return nativeFetch.call(window, new Request(proxify(input.url), input), init);
        }
      } catch (e) {
        if (window.console && console.debug) console.debug("proxy shim fetch:", e);
      }
      return nativeFetch.call(window, input, init);
    };
  }

  var nativeOpen = XMLHttpRequest.prototype.open;
  XMLHttpRequest.prototype.open = function (method, url) {
    var args = Array.prototype.slice.call(arguments);
    try {
      args[1] = proxify(url);
    } catch (e) {
      if (window.console && console.debug) console.debug("proxy shim xhr:", e);
      args[1] = url;
    }
    return nativeOpen.apply(this, args);
  };

  ["HTMLImageElement", "HTMLScriptElement", "HTMLMediaElement", "HTMLSourceElement", "HTMLIFrameElement"].forEach(function (name) {
    var ctor = window[name];
    if (!ctor || !ctor.prototype) return;
    var desc = Object.getOwnPropertyDescriptor(ctor.prototype, "src");
    if (!desc || !desc.set || !desc.configurable) return;
    Object.defineProperty(ctor.prototype, "src", {
      configurable: true,
      enumerable: desc.enumerable,
      get: desc.get,
      set: function (value) {
        try {
          desc.set.call(this, proxify(value));
        } catch (e) {
          if (window.console && console.debug) console.debug("proxy shim src:", e);
          desc.set.call(this, value);
        }
      }
    });
  });
})();`

// Script returns the interceptor script with the given proxy prefix baked in
// as the default. A page can still override it at runtime through the
// window.__PROXY_PREFIX__ global.
func Script(prefix string) string {
	return strings.ReplaceAll(script, prefixMarker, prefix)
}
