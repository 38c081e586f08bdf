package handlers

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/sky940714/shophub/internal/logging"
)

const requestIDHeader = "X-Request-ID"

// statusRecorder remembers the status and size of a response.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusRecorder) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *statusRecorder) code() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// RequestLogger assigns a request id, stores a request-scoped logger in the
// context and records one log line plus latency metrics per request.
func (h *Handlers) RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := requestIDFromRequest(r)
		// Downstream middleware reads the id back from the request.
		r.Header.Set(requestIDHeader, requestID)
		w.Header().Set(requestIDHeader, requestID)

		route := routeLabel(r)
		logger := h.logger.With(requestLogAttrs(r, requestID, route)...)
		ctx := logging.WithLogger(r.Context(), logger)

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r.WithContext(ctx))

		status := rec.code()
		elapsed := time.Since(start)
		if route == "" {
			route = "unknown"
		}

		h.metrics.ObserveHTTP(route, r.Method, status, elapsed.Seconds())

		meter := sentry.NewMeter(ctx).WithCtx(ctx)
		attrs := sentry.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
		)
		meter.Count("http.server.requests", 1, attrs)
		meter.Distribution("http.server.duration", float64(elapsed.Milliseconds()), sentry.WithUnit(sentry.UnitMillisecond), attrs)
		if status >= http.StatusInternalServerError {
			meter.Count("http.server.errors", 1, attrs)
		}

		logger.Log(ctx, completionLevel(r.URL.Path, status), "request completed",
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
			"bytes", rec.bytes,
		)
	})
}

func requestLogAttrs(r *http.Request, requestID, route string) []any {
	attrs := []any{
		"request_id", requestID,
		"method", r.Method,
		"path", r.URL.Path,
		"remote_ip", clientIP(r),
	}
	if route != "" {
		attrs = append(attrs, "route", route)
	}
	if ua := strings.TrimSpace(r.UserAgent()); ua != "" {
		attrs = append(attrs, "user_agent", ua)
	}
	if r.ContentLength > 0 {
		attrs = append(attrs, "content_length", r.ContentLength)
	}
	return attrs
}

// completionLevel keeps probes and scrapes at debug unless they fail.
func completionLevel(path string, status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case (path == "/health" || path == "/metrics") && status < http.StatusBadRequest:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

func requestIDFromRequest(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(requestIDHeader)); id != "" && len(id) <= 128 {
		return id
	}
	return uuid.NewString()
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-Ip")); realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// routeLabel prefers the mux route name over its path template so metric
// labels stay low-cardinality.
func routeLabel(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return ""
	}
	if name := route.GetName(); name != "" {
		return name
	}
	if tpl, err := route.GetPathTemplate(); err == nil {
		return tpl
	}
	return ""
}
