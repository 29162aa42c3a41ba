package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/backoffice-relay/pkg/logger"
)

const (
	TraceIDHeader  = "X-Trace-ID"
	maxTraceIDSize = 128
)

// TraceID reuses the caller's X-Trace-ID or generates one, echoes it on the
// response and attaches it to the request context and log fields.
func TraceID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := strings.TrimSpace(r.Header.Get(TraceIDHeader))
			if traceID == "" || len(traceID) > maxTraceIDSize {
				traceID = uuid.NewString()
			}

			w.Header().Set(TraceIDHeader, traceID)

			ctx := withTraceID(r.Context(), traceID)
			if logg != nil {
				ctx = logg.WithTraceID(ctx, traceID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
