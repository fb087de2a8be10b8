package tracing

import (
	"context"
	"net/http"
	"net/url"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// PathRedactor returns the path to record on the server span for r and
// whether r needs redacting at all. Paths that embed credentials must be
// redacted.
type PathRedactor func(r *http.Request) (string, bool)

type originalTargetKey struct{}

type originalTarget struct {
	url        *url.URL
	requestURI string
}

// Middleware instruments every request with a server span and propagates
// incoming trace context. When redact reports a replacement, the span sees
// the replacement path and next sees the original request URL.
func Middleware(serverName string, next http.Handler, redact PathRedactor) http.Handler {
	restore := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if orig, ok := r.Context().Value(originalTargetKey{}).(originalTarget); ok {
			r = r.WithContext(r.Context())
			r.URL = orig.url
			r.RequestURI = orig.requestURI
		}
		next.ServeHTTP(w, r)
	})
	traced := otelhttp.NewHandler(restore, serverName,
		otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
			return r.Method + " " + operation
		}),
	)
	if redact == nil {
		return traced
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path, ok := redact(r)
		if !ok {
			traced.ServeHTTP(w, r)
			return
		}
		orig := originalTarget{url: r.URL, requestURI: r.RequestURI}
		masked := *r.URL
		masked.Path = path
		masked.RawPath = ""
		masked.RawQuery = ""
		r = r.WithContext(context.WithValue(r.Context(), originalTargetKey{}, orig))
		r.URL = &masked
		r.RequestURI = masked.RequestURI()
		traced.ServeHTTP(w, r)
	})
}
