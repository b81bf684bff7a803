package otel

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPMiddleware returns a chi-compatible middleware that creates spans for
// HTTP requests. Health probes and websocket upgrades are excluded: probes
// fire every few seconds and upgrades produce a single long-lived span that
// only distorts latency histograms.
func HTTPMiddleware(serviceName string) func(http.Handler) http.Handler {
	filter := otelhttp.WithFilter(func(r *http.Request) bool {
		return r.URL.Path != "/healthz" && r.URL.Path != "/ws"
	})
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName, filter)
	}
}
