package responses

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	pkgerrors "github.com/angelmondragon/backoffice-relay/pkg/errors"
	"github.com/angelmondragon/backoffice-relay/pkg/logger"
)

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccess(w, map[string]string{"hello": "world"})

	if got := w.Code; got != http.StatusOK {
		t.Fatalf("expected status 200 but got %d", got)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}

	var body SuccessEnvelope
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode success envelope: %v", err)
	}
	if body.Data.(map[string]any)["hello"] != "world" {
		t.Fatalf("unexpected payload %v", body.Data)
	}
}

func TestWriteErrorMapsTypedError(t *testing.T) {
	w := httptest.NewRecorder()
	err := pkgerrors.New(pkgerrors.CodeValidation, "bad input").
		WithDetails(map[string]string{"field": "limit"})
	WriteError(context.Background(), nil, w, err)

	if got := w.Code; got != http.StatusBadRequest {
		t.Fatalf("expected status 400 but got %d", got)
	}
	var body ErrorEnvelope
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != string(pkgerrors.CodeValidation) || body.Error.Message != "bad input" {
		t.Fatalf("unexpected error body %+v", body.Error)
	}
	if body.Error.Details == nil {
		t.Fatal("expected details for validation errors")
	}
}

func TestWriteErrorUsesPublicMessageForCursorAndTenant(t *testing.T) {
	cases := map[pkgerrors.Code]struct {
		status  int
		message string
	}{
		pkgerrors.CodeInvalidCursor: {http.StatusBadRequest, "invalid_cursor"},
		pkgerrors.CodeTenantUnknown: {http.StatusForbidden, "tenant_unknown"},
	}
	for code, want := range cases {
		w := httptest.NewRecorder()
		WriteError(context.Background(), nil, w, pkgerrors.New(code, "internal detail"))
		if w.Code != want.status {
			t.Fatalf("%s: expected %d got %d", code, want.status, w.Code)
		}
		if !strings.Contains(w.Body.String(), `"message":"`+want.message+`"`) {
			t.Fatalf("%s: unexpected body %s", code, w.Body.String())
		}
	}
}

func TestWriteErrorHidesInternalDetails(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "test", Output: buf})
	w := httptest.NewRecorder()
	WriteError(context.Background(), logg, w, errors.New("dsn=postgres://secret"))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "secret") {
		t.Fatalf("internal error leaked: %s", w.Body.String())
	}
	if !strings.Contains(buf.String(), "request.error") {
		t.Fatalf("expected server error to be logged: %s", buf.String())
	}
}

func TestWriteErrorLogsPostgresFieldsForRejections(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "test", Output: buf})
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "outbox_events_idempotency_key_key"}
	err := pkgerrors.Wrap(pkgerrors.CodeConflict, fmt.Errorf("insert: %w", pgErr), "duplicate event")

	w := httptest.NewRecorder()
	WriteError(context.Background(), logg, w, err)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", w.Code)
	}
	var body ErrorEnvelope
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Message != "duplicate event" || body.Error.Details != nil {
		t.Fatalf("unexpected error body %+v", body.Error)
	}
	logged := buf.String()
	for _, want := range []string{"request.rejected", `"pg_code":"23505"`, "outbox_events_idempotency_key_key"} {
		if !strings.Contains(logged, want) {
			t.Fatalf("expected %q in log output: %s", want, logged)
		}
	}
}
