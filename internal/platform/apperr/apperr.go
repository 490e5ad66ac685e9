// Package apperr classifies domain errors so handlers can map them onto HTTP
// statuses without knowing where they came from.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"

	"github.com/cabinet/cabinet/internal/platform/db"
)

var (
	ErrNotFound = errors.New("not found")
	ErrInvalid  = errors.New("invalid request")
	ErrConflict = errors.New("conflict")
	ErrDenied   = errors.New("forbidden")
)

// Error carries a client-safe message, its kind and an optional domain cause.
type Error struct {
	Kind  error
	Cause error
	Msg   string
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

func NotFound(what string) error {
	return &Error{Kind: ErrNotFound, Msg: what + " not found"}
}

func Invalid(format string, args ...any) error {
	return &Error{Kind: ErrInvalid, Msg: fmt.Sprintf(format, args...)}
}

// Conflict reports a state conflict. cause is a domain sentinel such as an
// invalid status transition and may be nil.
func Conflict(cause error, format string, args ...any) error {
	return &Error{Kind: ErrConflict, Cause: cause, Msg: fmt.Sprintf(format, args...)}
}

func Denied(format string, args ...any) error {
	return &Error{Kind: ErrDenied, Msg: fmt.Sprintf(format, args...)}
}

// FromPG maps pgx errors onto error kinds. what names the record.
func FromPG(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return NotFound(what)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return Conflict(nil, "%s already exists", what)
		case "23503":
			return Invalid("%s references a record that does not exist", what)
		case "23514", "22P02":
			return Invalid("invalid %s", what)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

// HTTP converts err into an *echo.HTTPError. Unclassified errors become 500
// with the original error kept as internal.
func HTTP(err error) error {
	if err == nil {
		return nil
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}

	msg := err.Error()
	var ae *Error
	if errors.As(err, &ae) {
		msg = ae.Msg
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, msg)
	case errors.Is(err, ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, msg)
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, msg)
	case errors.Is(err, ErrDenied):
		return echo.NewHTTPError(http.StatusForbidden, msg)
	case errors.Is(err, db.ErrNoTenantDB):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "tenant database unavailable").SetInternal(err)
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
}
