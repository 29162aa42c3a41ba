package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/angelmondragon/backoffice-relay/api/responses"
	pkgerrors "github.com/angelmondragon/backoffice-relay/pkg/errors"
	"github.com/angelmondragon/backoffice-relay/pkg/logger"
)

// TenantRateLimit throttles each tenant to perMinute requests. It must run
// after ServiceAuth so the tenant is known; requests without one fall back to
// the client IP.
func TenantRateLimit(perMinute int, logg *logger.Logger) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		perMinute,
		time.Minute,
		httprate.WithKeyFuncs(tenantKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
		}),
	)
}

func tenantKey(r *http.Request) (string, error) {
	if id, ok := TenantIDFromContext(r.Context()); ok {
		return "tenant:" + id.String(), nil
	}
	return httprate.KeyByIP(r)
}
