package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aaoferreira/vault-v2/internal/observability"
)

// statusWriter captures the response status for logging and metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// observe records per-route request counts, latency, and an access log
// line. The route label is the chi pattern, not the raw path, to keep
// metric cardinality bounded.
func observe(metrics *observability.Metrics, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}
			elapsed := time.Since(start)

			if metrics != nil {
				metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(sw.status)).Inc()
				metrics.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
			}
			log.Debug().Str("method", r.Method).Str("route", route).
				Int("status", sw.status).Dur("elapsed", elapsed).Msg("request")
		})
	}
}
