package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"

	"github.com/cabinet/cabinet/internal/platform/db"
)

var errBadTransition = errors.New("invalid status transition")

func TestHTTP(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
		msg  string
	}{
		{"not found", NotFound("patient"), http.StatusNotFound, "patient not found"},
		{"invalid", Invalid("start is required"), http.StatusBadRequest, "start is required"},
		{"conflict", Conflict(errBadTransition, "cannot complete a cancelled appointment"), http.StatusConflict, "cannot complete a cancelled appointment"},
		{"denied", Denied("tenant mismatch"), http.StatusForbidden, "tenant mismatch"},
		{"wrapped", fmt.Errorf("service: %w", NotFound("invoice")), http.StatusNotFound, "invoice not found"},
		{"no tenant db", db.ErrNoTenantDB, http.StatusServiceUnavailable, "tenant database unavailable"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal server error"},
		{"passthrough", echo.NewHTTPError(http.StatusTeapot, "tea"), http.StatusTeapot, "tea"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			he, ok := HTTP(tt.err).(*echo.HTTPError)
			if !ok {
				t.Fatalf("expected *echo.HTTPError")
			}
			if he.Code != tt.code || he.Message != tt.msg {
				t.Errorf("got %d %v, want %d %s", he.Code, he.Message, tt.code, tt.msg)
			}
		})
	}

	if HTTP(nil) != nil {
		t.Error("expected nil for nil error")
	}
}

func TestConflictKeepsCause(t *testing.T) {
	err := Conflict(errBadTransition, "nope")
	if !errors.Is(err, errBadTransition) || !errors.Is(err, ErrConflict) {
		t.Errorf("expected both kind and cause to match: %v", err)
	}
}

func TestFromPG(t *testing.T) {
	if !errors.Is(FromPG(pgx.ErrNoRows, "patient"), ErrNotFound) {
		t.Error("expected ErrNoRows to map to not found")
	}
	if !errors.Is(FromPG(&pgconn.PgError{Code: "23505"}, "tenant"), ErrConflict) {
		t.Error("expected unique violation to map to conflict")
	}
	if !errors.Is(FromPG(&pgconn.PgError{Code: "23503"}, "invoice"), ErrInvalid) {
		t.Error("expected foreign key violation to map to invalid")
	}
	other := errors.New("connection reset")
	if got := FromPG(other, "patient"); !errors.Is(got, other) {
		t.Errorf("expected wrapped original error, got %v", got)
	}
	if FromPG(nil, "x") != nil {
		t.Error("expected nil")
	}
}
