package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	orchmetrics "github.com/kraklabs/lora-orchestrator/internal/metrics"
)

// Metrics instruments every request with the shared request-count and
// duration vectors, labeled by route template (not raw path, to keep
// cardinality bounded) and method.
func Metrics(m *orchmetrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			route := routeTemplate(r)
			duration := time.Since(start).Seconds()
			m.RequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rw.statusCode)).Inc()
			m.RequestDuration.WithLabelValues(route, r.Method).Observe(duration)
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
