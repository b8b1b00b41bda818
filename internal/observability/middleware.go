package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// HTTPMiddleware records request metrics and a server span per request.
// Either argument may be nil.
func HTTPMiddleware(metrics *Metrics, tracer *Tracer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx := tracer.Extract(r.Context(), HTTPHeaderCarrier(r.Header))
			ctx, span := tracer.StartSpan(ctx, SpanHTTPRequest,
				WithSpanKind(SpanKindServer),
				WithAttributes(map[string]any{
					AttrHTTPMethod: r.Method,
					AttrHTTPURL:    r.URL.String(),
				}),
			)
			defer span.End()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			metrics.HTTPRequestTotal(ctx, r.Method, routePattern(r), strconv.Itoa(status))
			metrics.HTTPRequestDuration(ctx, r.Method, routePattern(r), time.Since(start))

			span.SetAttribute(AttrHTTPStatusCode, status)
			if status >= 400 {
				span.SetStatus(SpanStatusError, http.StatusText(status))
			} else {
				span.SetStatus(SpanStatusOK, "")
			}
		})
	}
}

// routePattern prefers the matched chi pattern so path labels stay bounded.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
