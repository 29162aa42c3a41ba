package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/backoffice-relay/api/responses"
	pkgerrors "github.com/angelmondragon/backoffice-relay/pkg/errors"
	"github.com/angelmondragon/backoffice-relay/pkg/logger"
	"github.com/angelmondragon/backoffice-relay/pkg/security"
	"github.com/angelmondragon/backoffice-relay/pkg/tenant"
)

const TenantHeader = "X-Tenant-ID"

// AdminAuth admits bearer tokens from the admin allowlist. Missing or
// malformed credentials are 401, a well-formed unknown token is 403.
func AdminAuth(tokens *security.TokenSet, hasher *security.ActorHasher, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			if !tokens.Contains(token) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "access denied"))
				return
			}

			hash := hasher.Hash(token)
			ctx := WithActor(r.Context(), hash, RoleAdmin)
			if logg != nil {
				ctx = logg.WithActorRole(ctx, RoleAdmin)
				ctx = logg.WithField(ctx, "actor_token_hash", hash)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ServiceAuth admits bearer tokens from the service allowlist and requires
// an allowed X-Tenant-ID. Credential failures map like AdminAuth.
func ServiceAuth(tokens *security.TokenSet, hasher *security.ActorHasher, tenants *tenant.Allowlist, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			if !tokens.Contains(token) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "access denied"))
				return
			}

			tenantID, reason := tenants.Validate(r.Header.Get(TenantHeader))
			switch reason {
			case tenant.ReasonOK:
			case tenant.ReasonMissing:
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "tenant_missing"))
				return
			case tenant.ReasonMalformed:
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "tenant_malformed"))
				return
			default:
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeTenantUnknown, "tenant_unknown"))
				return
			}

			ctx := WithActor(r.Context(), hasher.Hash(token), RoleService)
			ctx = WithTenantID(ctx, tenantID)
			if logg != nil {
				ctx = logg.WithActorRole(ctx, RoleService)
				ctx = logg.WithTenantID(ctx, tenantID.String())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(raw) < 7 || !strings.EqualFold(raw[:7], "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(raw[7:])
	return token, token != ""
}
