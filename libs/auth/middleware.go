package auth

import (
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/clinicsched/libs/tenancy"
)

// Header names used when a trusted gateway (or a dev setup with auth disabled) forwards the
// caller identity instead of a bearer token.
const (
	HeaderUserID         = "X-User-Id"
	HeaderOrganizationID = "X-Organization-Id"
	HeaderRole           = "X-Role"
)

// RequireAuth verifies the bearer token and stores the caller principal in the request context.
func RequireAuth(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") || len(strings.TrimSpace(authHeader)) <= len("Bearer ") {
				http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
				return
			}

			token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
			claims, err := v.Verify(r.Context(), token)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if strings.TrimSpace(claims.OrganizationID) == "" {
				http.Error(w, "token carries no organization", http.StatusForbidden)
				return
			}

			ctx := tenancy.WithPrincipal(r.Context(), tenancy.Principal{
				UserID:         claims.Subject,
				OrganizationID: claims.OrganizationID,
				Role:           claims.Role,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TrustHeaders builds the principal from forwarded identity headers. Only for deployments where
// an upstream component has already authenticated the caller.
func TrustHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID := strings.TrimSpace(r.Header.Get(HeaderOrganizationID))
		if orgID == "" {
			http.Error(w, "missing "+HeaderOrganizationID, http.StatusUnauthorized)
			return
		}
		ctx := tenancy.WithPrincipal(r.Context(), tenancy.Principal{
			UserID:         strings.TrimSpace(r.Header.Get(HeaderUserID)),
			OrganizationID: orgID,
			Role:           strings.TrimSpace(r.Header.Get(HeaderRole)),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := tenancy.PrincipalFromContext(r.Context())
			if !ok || !p.HasRole(roles...) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
