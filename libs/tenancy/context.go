// Package tenancy carries the caller's organization (tenant) and identity through a request.
package tenancy

import "context"

type ctxKey int

const principalKey ctxKey = iota

// Principal is the authenticated caller as seen by the scheduling core.
type Principal struct {
	UserID         string
	OrganizationID string
	Role           string
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok && p.OrganizationID != ""
}

// OrganizationID extracts the tenant id if present.
func OrganizationID(ctx context.Context) (string, bool) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return "", false
	}
	return p.OrganizationID, true
}

// HasRole reports whether the principal holds one of roles.
func (p Principal) HasRole(roles ...string) bool {
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}
