package gateway

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/viant/nexus/tracing"
)

// responseWriter captures the status code for logging and metrics.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack keeps the websocket upgrade working through the middleware chain.
func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

func (s *Service) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		route := routeTemplate(r)

		ctx, span := tracing.StartSpan(r.Context(), fmt.Sprintf("gateway %s %s", r.Method, route), "SERVER")
		span.WithAttributes(map[string]string{
			"http.method": r.Method,
			"http.route":  route,
		})

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r.WithContext(ctx))

		elapsed := time.Since(started)
		span.SetStatusFromHTTPCode(wrapped.statusCode)
		span.End()

		recordHTTPRequest(r.Method, route, wrapped.statusCode, elapsed)
		s.logger.Info("request", map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapped.statusCode,
			"duration_ms": elapsed.Milliseconds(),
		})
	})
}

func (s *Service) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health and metrics stay reachable for probes and scrapers.
		if s.config.APIKeyHash == "" || r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" || !verifyAPIKey(key, s.config.APIKeyHash) {
			s.respondError(w, http.StatusUnauthorized, "missing or invalid api key", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// routeTemplate returns the matched mux pattern (e.g. /v1/requests/{id}) so
// metric labels stay low-cardinality; it falls back to the raw path.
func routeTemplate(r *http.Request) string {
	if current := mux.CurrentRoute(r); current != nil {
		if template, err := current.GetPathTemplate(); err == nil {
			return template
		}
	}
	return r.URL.Path
}
