package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"

	"github.com/sky940714/shophub/internal/auth"
	"github.com/sky940714/shophub/internal/logging"
	"github.com/sky940714/shophub/internal/observability"
)

type principalContextKey struct{}

func withPrincipal(ctx context.Context, p auth.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext returns the caller authenticated by RequireMember or
// RequireAdmin.
func PrincipalFromContext(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(auth.Principal)
	return p, ok
}

// RequireMember rejects requests without a valid storefront token.
func (h *Handlers) RequireMember(next http.Handler) http.Handler {
	return h.authenticate(false, next)
}

// RequireAdmin additionally requires the admin role.
func (h *Handlers) RequireAdmin(next http.Handler) http.Handler {
	return h.authenticate(true, next)
}

func (h *Handlers) authenticate(adminOnly bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		meter := observability.MeterFromContext(ctx)

		principal, err := h.verifier.Verify(tokenFromRequest(r))
		if err != nil {
			reason := "invalid"
			switch {
			case errors.Is(err, auth.ErrTokenMissing):
				reason = "missing"
			case errors.Is(err, auth.ErrTokenExpired):
				reason = "expired"
			}
			meter.Count("auth.rejected", 1, sentry.WithAttributes(attribute.String("reason", reason)))
			h.loggerFromContext(ctx).Info("rejected unauthenticated request", "reason", reason)
			h.writeJSON(w, r, http.StatusUnauthorized, errorResponse{Error: "authentication required"})
			return
		}

		if adminOnly && !principal.IsAdmin() {
			meter.Count("auth.rejected", 1, sentry.WithAttributes(attribute.String("reason", "forbidden")))
			h.loggerFromContext(ctx).Warn("member attempted admin route", "member_id", principal.MemberID)
			h.writeJSON(w, r, http.StatusForbidden, errorResponse{Error: "admin access required"})
			return
		}

		meter.SetAttributes(
			attribute.Int64("user.id", principal.MemberID),
			attribute.String("user.role", string(principal.Role)),
		)
		ctx, _ = logging.With(ctx, h.logger, "member_id", principal.MemberID, "role", string(principal.Role))
		ctx = withPrincipal(ctx, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// tokenFromRequest reads the bearer header. GET requests may instead pass
// access_token so pages opened in a new window (label printing) can
// authenticate.
func tokenFromRequest(r *http.Request) string {
	if token := auth.BearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	if r.Method == http.MethodGet {
		return strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	return ""
}
