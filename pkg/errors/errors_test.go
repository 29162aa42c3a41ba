package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true},
		{code: CodeUnauthorized, status: http.StatusUnauthorized, publicMsg: "authentication required"},
		{code: CodeForbidden, status: http.StatusForbidden, publicMsg: "access denied"},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeConflict, status: http.StatusConflict, publicMsg: "conflict detected"},
		{code: CodeInvalidCursor, status: http.StatusBadRequest, publicMsg: "invalid_cursor"},
		{code: CodeTenantUnknown, status: http.StatusForbidden, publicMsg: "tenant_unknown"},
		{code: CodeInternal, status: http.StatusInternalServerError, publicMsg: "internal server error", retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", retryable: true, detailsOK: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestErrorConstructors(t *testing.T) {
	base := New(CodeValidation, "missing foo")
	if base.Code() != CodeValidation {
		t.Fatalf("expected validation code, got %s", base.Code())
	}
	if base.Message() != "missing foo" {
		t.Fatalf("unexpected message %q", base.Message())
	}
	if base.Details() != nil {
		t.Fatalf("details should be nil by default")
	}

	detail := map[string]any{"field": "foo"}
	base.WithDetails(detail)
	if base.Details() == nil {
		t.Fatalf("details should be preserved")
	}

	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeConflict, cause, "ctx")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Code() != CodeConflict {
		t.Fatalf("unexpected code %s", wrapped.Code())
	}
}

func TestAsReturnsTypedError(t *testing.T) {
	err := New(CodeForbidden, "no entry")
	if got := As(err); got == nil || got.Code() != CodeForbidden {
		t.Fatalf("As failed to return typed error")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should return nil")
	}
}

func TestPublicMessage(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{New(CodeValidation, "limit must be positive"), "limit must be positive"},
		{New(CodeValidation, ""), "validation failed"},
		{New(CodeInvalidCursor, "signature mismatch"), "invalid_cursor"},
		{New(CodeTenantUnknown, "tenant not in allowlist"), "tenant_unknown"},
		{Wrap(CodeInternal, stdErrors.New("dial tcp"), "unexpected"), "internal server error"},
	}
	for _, tt := range tests {
		if got := tt.err.PublicMessage(); got != tt.want {
			t.Fatalf("%s: expected %q got %q", tt.err.Code(), tt.want, got)
		}
	}
}

func TestCodeHelpers(t *testing.T) {
	inner := New(CodeInvalidCursor, "bad mac")
	outer := Wrap(CodeValidation, fmt.Errorf("decode: %w", inner), "query")

	if CodeOf(outer) != CodeValidation {
		t.Fatalf("expected outermost code, got %s", CodeOf(outer))
	}
	if !IsCode(outer, CodeInvalidCursor) {
		t.Fatal("expected nested cursor code to be found")
	}
	if IsCode(outer, CodeConflict) {
		t.Fatal("unexpected conflict code")
	}
	if CodeOf(stdErrors.New("plain")) != CodeInternal {
		t.Fatal("untyped errors should report internal")
	}
	if got := Newf(CodeNotFound, "event %d", 7).Message(); got != "event 7" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestDumpCapturesPgErrorFields(t *testing.T) {
	pgErr := &pgconn.PgError{
		Code:           "23505",
		ConstraintName: "processed_events_pkey",
		TableName:      "processed_events",
		Message:        "duplicate key value violates unique constraint",
	}
	err := Wrap(CodeConflict, fmt.Errorf("insert marker: %w", pgErr), "mark processed")

	dump := Dump(err)
	if dump.Code != CodeConflict {
		t.Fatalf("expected conflict code, got %s", dump.Code)
	}
	if dump.Postgres == nil || dump.Postgres.Code != "23505" || dump.Postgres.Constraint != "processed_events_pkey" {
		t.Fatalf("unexpected pg fields: %+v", dump.Postgres)
	}
	if len(dump.Chain) != 3 {
		t.Fatalf("expected 3 chain entries, got %d", len(dump.Chain))
	}
	if dump.Fields()["pg_table"] != "processed_events" {
		t.Fatalf("unexpected fields %v", dump.Fields())
	}
}

func TestDumpWithoutDriverErrorOmitsPostgres(t *testing.T) {
	dump := Dump(stdErrors.New("boom"))
	if dump.Postgres != nil {
		t.Fatalf("expected no postgres section, got %+v", dump.Postgres)
	}
	if _, ok := dump.Fields()["pg_code"]; ok {
		t.Fatal("pg fields should be absent")
	}
}
