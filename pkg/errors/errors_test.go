package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
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
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found", detailsOK: true},
		{code: CodeConflict, status: http.StatusConflict, publicMsg: "conflict detected"},
		{code: CodeStateConflict, status: http.StatusUnprocessableEntity, publicMsg: "state transition disallowed", detailsOK: true},
		{code: CodeTxConflict, status: http.StatusConflict, publicMsg: "concurrent update, retry the request", retryable: true},
		{code: CodeInsufficientStock, status: http.StatusUnprocessableEntity, publicMsg: "insufficient stock", detailsOK: true},
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

func TestIsCodeAndRetryable(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", New(CodeTxConflict, "serialization failure"))
	if !IsCode(wrapped, CodeTxConflict) {
		t.Fatalf("expected wrapped error to carry TX_CONFLICT")
	}
	if !IsRetryable(wrapped) {
		t.Fatalf("expected TX_CONFLICT to be retryable")
	}
	if IsRetryable(New(CodeInsufficientStock, "only 2 left")) {
		t.Fatalf("insufficient stock must not be retryable")
	}
	if IsRetryable(stdErrors.New("plain")) {
		t.Fatalf("untyped errors are not retryable")
	}
}

func TestDumpCollectsChain(t *testing.T) {
	err := Wrap(CodeDependency, stdErrors.New("connection reset"), "insert stock transaction")
	dump := Dump(err)
	if dump.Code != CodeDependency {
		t.Fatalf("expected dependency code, got %s", dump.Code)
	}
	if len(dump.Chain) != 2 {
		t.Fatalf("expected two chain entries, got %d", len(dump.Chain))
	}
	if dump.PGCode != "" {
		t.Fatalf("expected no pg code for non-pg error")
	}
}

func TestDumpReadsPostgresDiagnostics(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23514", ConstraintName: "products_current_stock_check", TableName: "products"}
	dump := Dump(fmt.Errorf("apply stock delta: %w", pgErr))
	if dump.PGCode != "23514" || dump.PGConstraint != "products_current_stock_check" {
		t.Fatalf("unexpected pg diagnostics: %+v", dump)
	}
	fields := dump.Fields()
	if fields["pg_table"] != "products" {
		t.Fatalf("expected pg_table field, got %v", fields)
	}
	if _, ok := fields["sqlite_code"]; ok {
		t.Fatalf("sqlite fields must be omitted for pg errors")
	}
}

func TestDumpReadsSQLiteDiagnostics(t *testing.T) {
	liteErr := sqlite3.Error{Code: sqlite3.ErrBusy, ExtendedCode: sqlite3.ErrBusySnapshot}
	dump := Dump(fmt.Errorf("begin: %w", liteErr))
	if dump.SQLiteCode == "" || dump.SQLiteExtended == "" {
		t.Fatalf("expected sqlite diagnostics, got %+v", dump)
	}
	if dump.PGCode != "" {
		t.Fatalf("pg code must stay empty for sqlite errors")
	}
}

func TestDumpFieldsSkipsSingleEntryChain(t *testing.T) {
	fields := Dump(stdErrors.New("boom")).Fields()
	if fields["error"] != "boom" {
		t.Fatalf("expected error message field, got %v", fields)
	}
	if _, ok := fields["error_chain"]; ok {
		t.Fatalf("single-entry chain should not be logged")
	}
	if _, ok := fields["error_code"]; ok {
		t.Fatalf("untyped error has no code")
	}
}
