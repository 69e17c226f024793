package server

import (
	"crypto/subtle"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/propagation"

	"github.com/haasonsaas/cmdguard/internal/observability"
)

const (
	requestIDHeader = "X-Request-ID"
	tokenHeader     = "X-Cmdguard-Token"
)

// requestIDMiddleware propagates or assigns a request ID.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(observability.AddRequestID(r.Context(), id)))
	})
}

// observeMiddleware traces, logs and records metrics for each request.
func (s *Server) observeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ctx := s.tracer.ExtractContext(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := s.tracer.TraceHTTPRequest(ctx, r.Method, r.URL.Path)
		defer span.End()

		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		req := r.WithContext(ctx)
		next.ServeHTTP(wrapped, req)

		route := req.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.tracer.SetAttributes(span, "http.status_code", wrapped.status, "http.route", route)
		s.metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(wrapped.status), time.Since(start))
		s.logger.DebugContext(ctx, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// authMiddleware enforces the configured API token.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}

		provided := r.Header.Get(tokenHeader)
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			provided = strings.TrimSpace(auth[7:])
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.token)) != 1 {
			s.logger.WarnContext(r.Context(), "rejected unauthenticated request", "path", r.URL.Path)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware rejects clients that exceed their token bucket.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := s.limiter.Allow(clientKey(r))
		if !ok {
			seconds := int(math.Ceil(wait.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			s.logger.WarnContext(r.Context(), "rate limited", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}
