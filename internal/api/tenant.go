package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/felipemaragno/hookline/internal/observability"
)

const (
	HeaderTenantID = "X-Tenant-ID"
	HeaderAPIKeyID = "X-API-Key-ID"
)

var ErrUnresolvedTenant = errors.New("tenant could not be resolved")

// Tenant is the caller identity the gateway in front of the service
// established.
type Tenant struct {
	ID       string
	APIKeyID string
}

// TenantResolver extracts the caller's tenant from a request.
type TenantResolver interface {
	Resolve(r *http.Request) (Tenant, error)
}

// HeaderResolver trusts the X-Tenant-ID and X-API-Key-ID headers set by an
// authenticating gateway.
type HeaderResolver struct{}

func (HeaderResolver) Resolve(r *http.Request) (Tenant, error) {
	t := Tenant{
		ID:       r.Header.Get(HeaderTenantID),
		APIKeyID: r.Header.Get(HeaderAPIKeyID),
	}
	if t.ID == "" {
		return Tenant{}, ErrUnresolvedTenant
	}
	return t, nil
}

type tenantKey struct{}

// RequireTenant rejects requests without a resolvable tenant with 401.
func (h *Handler) RequireTenant(resolver TenantResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t, err := resolver.Resolve(r)
			if err != nil {
				h.respondError(w, http.StatusUnauthorized, err.Error())
				return
			}
			ctx := context.WithValue(r.Context(), tenantKey{}, t)
			ctx = observability.ContextWithTenant(ctx, t.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func tenantFrom(ctx context.Context) Tenant {
	t, _ := ctx.Value(tenantKey{}).(Tenant)
	return t
}
