package otel

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPMiddleware traces API requests. Spans are named "METHOD /route/{param}"
// after the pattern routes resolves for the request; unmatched requests
// keep the method alone. Health checks are not traced.
func HTTPMiddleware(serviceName string, routes chi.Routes) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName,
			otelhttp.WithFilter(func(r *http.Request) bool { return r.URL.Path != "/health" }),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return spanName(routes, r)
			}),
		)
	}
}

// spanName resolves the pattern on a scratch route context so the live one
// chi fills in during dispatch stays untouched.
func spanName(routes chi.Routes, r *http.Request) string {
	if routes == nil {
		return r.Method
	}
	if pattern := routes.Find(chi.NewRouteContext(), r.Method, r.URL.Path); pattern != "" {
		return r.Method + " " + pattern
	}
	return r.Method
}
