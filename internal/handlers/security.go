package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"

	"github.com/sky940714/shophub/internal/config"
	"github.com/sky940714/shophub/internal/observability"
)

const (
	corsAllowedMethods = "GET, POST, PUT, DELETE, OPTIONS"
	corsAllowedHeaders = "Authorization, Content-Type, X-Request-ID"
	corsMaxAgeSeconds  = "600"
)

// SecurityHeaders sets baseline security headers for all responses.
func (h *Handlers) SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := w.Header()
		headers.Set("X-Content-Type-Options", "nosniff")
		headers.Set("X-Frame-Options", "DENY")
		headers.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		headers.Set("Cross-Origin-Opener-Policy", "same-origin")

		next.ServeHTTP(w, r)
	})
}

// CORS lets the storefront and admin front ends call the API. Only origins
// listed in CORS_ALLOWED_ORIGINS or the service's own BASE_URL get the
// allow headers; preflights from anywhere else are refused. Requests without
// an Origin header, such as gateway callbacks, pass through untouched.
func (h *Handlers) CORS(next http.Handler) http.Handler {
	allowed := allowedOrigins(h.config)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
		headers := w.Header()
		headers.Add("Vary", "Origin")

		if _, ok := allowed[normalizeOrigin(origin)]; !ok {
			if preflight {
				meter := observability.MeterFromContext(r.Context())
				meter.Count("security.cors.blocked", 1, sentry.WithAttributes(attribute.String("origin", origin)))
				h.loggerFromContext(r.Context()).Warn("blocked cross-origin preflight", "origin", origin, "path", r.URL.Path)
				w.WriteHeader(http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		headers.Set("Access-Control-Allow-Origin", origin)
		headers.Set("Access-Control-Allow-Credentials", "true")
		if preflight {
			headers.Set("Access-Control-Allow-Methods", corsAllowedMethods)
			headers.Set("Access-Control-Allow-Headers", corsAllowedHeaders)
			headers.Set("Access-Control-Max-Age", corsMaxAgeSeconds)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		headers.Set("Access-Control-Expose-Headers", "X-Request-ID")
		next.ServeHTTP(w, r)
	})
}

func allowedOrigins(cfg *config.Config) map[string]struct{} {
	origins := map[string]struct{}{}
	if cfg == nil {
		return origins
	}

	for _, raw := range cfg.AllowedOrigins {
		if origin := normalizeOrigin(raw); origin != "" {
			origins[origin] = struct{}{}
		}
	}
	if origin := normalizeOrigin(cfg.BaseURL); origin != "" {
		origins[origin] = struct{}{}
	}
	return origins
}

// normalizeOrigin reduces a URL to its lower-cased scheme://host[:port].
func normalizeOrigin(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}
	return strings.ToLower(parsed.Scheme + "://" + parsed.Host)
}
