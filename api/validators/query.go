package validators

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/backoffice-relay/pkg/errors"
)

// QueryLimit reads ?limit=. Zero means the caller did not set one; the
// services apply their own default and clamp to the configured maximum, so
// only non-numeric and non-positive values are rejected here.
func QueryLimit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "limit must be numeric").WithDetails(map[string]any{"field": "limit"})
	}
	if value < 1 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "limit must be at least 1").WithDetails(map[string]any{"field": "limit", "min": 1})
	}
	return value, nil
}

// OptionalUUIDHeader parses header as a non-nil uuid. A missing header yields
// nil; anything unparseable is reported with reason as the message.
func OptionalUUIDHeader(r *http.Request, header, reason string) (*uuid.UUID, error) {
	raw := strings.TrimSpace(r.Header.Get(header))
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, reason).WithDetails(map[string]any{"header": header})
	}
	return &id, nil
}
