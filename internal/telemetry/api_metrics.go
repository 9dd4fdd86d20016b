package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// APIMetricsMeterName is the name used for the mirror API meter
	APIMetricsMeterName = "github.com/stacklok/inventory-mirror/api"

	unknownRoute = "unknown_route"
	kindParam    = "kind"
)

// APIMetrics counts and times requests to the read-only mirror API
type APIMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
}

// NewAPIMetrics creates the API instruments on provider.
// If provider is nil, it returns nil and Middleware passes requests through.
func NewAPIMetrics(provider metric.MeterProvider) (*APIMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(APIMetricsMeterName)

	requests, err := meter.Int64Counter(
		"inv_mirror_api_requests_total",
		metric.WithDescription("Mirror API requests by route, status class and mirrored kind"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	// Reads are served from the local store, so buckets stop well below a second
	duration, err := meter.Float64Histogram(
		"inv_mirror_api_request_duration_seconds",
		metric.WithDescription("Mirror API request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1),
	)
	if err != nil {
		return nil, err
	}

	return &APIMetrics{requests: requests, duration: duration}, nil
}

// Middleware records one request and one duration sample per request
func (m *APIMetrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		opt := metric.WithAttributes(requestAttributes(r, ww.Status())...)
		m.requests.Add(r.Context(), 1, opt)
		m.duration.Record(r.Context(), time.Since(start).Seconds(), opt)
	})
}

// requestAttributes labels a finished request. The kind is only kept for
// successful requests so unknown path values never become label values.
func requestAttributes(r *http.Request, status int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("method", r.Method),
		attribute.String("route", routePattern(r)),
		attribute.String("status_class", statusClass(status)),
	}
	if kind := routeKind(r, status); kind != "" {
		attrs = append(attrs, attribute.String("kind", kind))
	}
	return attrs
}

func routeKind(r *http.Request, status int) string {
	if status >= http.StatusBadRequest {
		return ""
	}
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return ""
	}
	return rctx.URLParam(kindParam)
}

// statusClass folds a status code into 2xx, 4xx and so on.
// A handler that never wrote a header answered 200.
func statusClass(status int) string {
	if status == 0 {
		status = http.StatusOK
	}
	return fmt.Sprintf("%dxx", status/100)
}

// routePattern returns the chi route pattern, or unknown_route outside a chi router
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return unknownRoute
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		return pattern
	}
	return unknownRoute
}
