package observe

import (
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// statusRecorder wraps [http.ResponseWriter] to capture the status code
// written by the downstream handler.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the wrapped writer so http.ResponseController (and websocket
// upgrades that need http.Hijacker) can reach it.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// routeLabel reduces a request path to the registered route it hits, keeping
// metric cardinality bounded. Unknown paths collapse to "other" so a scanner
// probing random URLs cannot mint new timeseries.
func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/conversations"):
		return "/v1/conversations"
	case strings.HasPrefix(path, "/v1/analytics"):
		return "/v1/analytics"
	case path == "/metrics", path == "/healthz", path == "/readyz":
		return path
	default:
		return "other"
	}
}

// Middleware returns an [http.Handler] wrapper that extracts W3C Trace
// Context from incoming headers (starting a new trace otherwise), opens a
// server span for the request, echoes the trace ID back as X-Correlation-ID,
// records request duration to [Metrics.HTTPRequestDuration] keyed by route,
// and logs completion.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			route := routeLabel(r.URL.Path)

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, r.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.HTTPRoute(route),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			cid := CorrelationID(ctx)
			if cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			duration := time.Since(start)
			m.HTTPRequestDuration.Record(ctx, duration.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("route", route),
				),
			)
			span.SetAttributes(semconv.HTTPResponseStatusCode(rec.statusCode))

			// Websocket upgrades stay open for the life of a conversation, so
			// this line fires when the session is over, not at accept time.
			Logger(ctx).Info("http request",
				"method", r.Method,
				"route", route,
				"status", rec.statusCode,
				"duration_ms", duration.Milliseconds(),
			)
		})
	}
}
