package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/backoffice-relay/api/middleware"
	"github.com/angelmondragon/backoffice-relay/api/responses"
	"github.com/angelmondragon/backoffice-relay/api/validators"
	"github.com/angelmondragon/backoffice-relay/internal/deadletter"
	"github.com/angelmondragon/backoffice-relay/pkg/enums"
	pkgerrors "github.com/angelmondragon/backoffice-relay/pkg/errors"
	"github.com/angelmondragon/backoffice-relay/pkg/logger"
	"github.com/angelmondragon/backoffice-relay/pkg/metrics"
	"github.com/angelmondragon/backoffice-relay/pkg/tenant"
)

// OutboxCounter reports row counts per status.
type OutboxCounter interface {
	CountByStatus(ctx context.Context, tenantID *uuid.UUID) (map[enums.OutboxStatus]int64, error)
}

// MetricsSource exposes an in-process metrics snapshot.
type MetricsSource interface {
	Snapshot() metrics.Snapshot
}

// TenantSource exposes the active tenant allowlist.
type TenantSource interface {
	Info() tenant.Info
}

// ReplayRequest is the body of POST /ops/dlq/replay. Every field is optional.
type ReplayRequest struct {
	IDs    []string `json:"ids" validate:"omitempty,max=500,unique,dive,uuid"`
	DryRun *bool    `json:"dry_run"`
	Limit  int      `json:"limit" validate:"omitempty,min=1,max=500"`
}

type deadLetterList struct {
	Items []deadletter.Entry `json:"items"`
}

type outboxCounts struct {
	TenantID *uuid.UUID       `json:"tenant_id,omitempty"`
	Counts   map[string]int64 `json:"counts"`
}

func ListDeadLetters(svc deadletter.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := optionalTenant(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.QueryLimit(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		entries, err := svc.List(r.Context(), tenantID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, deadLetterList{Items: entries})
	}
}

// ReplayDeadLetters previews or commits a replay. dry_run defaults to true.
func ReplayDeadLetters(svc deadletter.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := optionalTenant(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req ReplayRequest
		if err := validators.DecodeJSONBody(r, &req, true); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ids := make([]uuid.UUID, 0, len(req.IDs))
		for _, raw := range req.IDs {
			ids = append(ids, uuid.MustParse(raw))
		}

		result, err := svc.Replay(r.Context(), deadletter.ReplayParams{
			IDs:      ids,
			DryRun:   req.DryRun,
			Limit:    req.Limit,
			TenantID: tenantID,
			TraceID:  middleware.TraceIDFromContext(r.Context()),
			Actor: deadletter.Actor{
				TokenHash: middleware.ActorHashFromContext(r.Context()),
				Role:      middleware.RoleFromContext(r.Context()),
			},
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func OutboxStatusCounts(counter OutboxCounter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := optionalTenant(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		counts, err := counter.CountByStatus(r.Context(), tenantID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count outbox"))
			return
		}
		out := outboxCounts{TenantID: tenantID, Counts: make(map[string]int64, len(counts))}
		for status, n := range counts {
			out.Counts[string(status)] = n
		}
		responses.WriteSuccess(w, out)
	}
}

func MetricsSnapshot(source MetricsSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, source.Snapshot())
	}
}

func TenantAllowlist(source TenantSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, source.Info())
	}
}

// optionalTenant reads the X-Tenant-ID filter used by the ops routes.
func optionalTenant(r *http.Request) (*uuid.UUID, error) {
	return validators.OptionalUUIDHeader(r, middleware.TenantHeader, "tenant_malformed")
}
