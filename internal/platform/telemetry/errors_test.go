package telemetry

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func renderError(t *testing.T, method string, err error) (int, errorResponse) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(method, "/api/x", nil), rec)
	c.Set("request_id", "req-1")

	HTTPErrorHandler(zerolog.Nop(), false)(err, c)

	var body errorResponse
	if method != http.MethodHead {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return rec.Code, body
}

func TestHTTPErrorHandler(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    int
		message string
	}{
		{"client error", echo.NewHTTPError(http.StatusConflict, "slot taken"), http.StatusConflict, "slot taken"},
		{"non-string message", echo.NewHTTPError(http.StatusBadRequest, map[string]int{"x": 1}), http.StatusBadRequest, "Bad Request"},
		{"plain error hides details", errors.New("pq: password authentication failed"), http.StatusInternalServerError, "Internal Server Error"},
		{"500 hides message", echo.NewHTTPError(http.StatusInternalServerError, "stack trace here"), http.StatusInternalServerError, "Internal Server Error"},
		{"503 keeps message", echo.NewHTTPError(http.StatusServiceUnavailable, "tenant database unavailable"), http.StatusServiceUnavailable, "tenant database unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := renderError(t, http.MethodGet, tt.err)
			if code != tt.code {
				t.Errorf("expected %d, got %d", tt.code, code)
			}
			if body.Error != tt.message {
				t.Errorf("expected message %q, got %q", tt.message, body.Error)
			}
			if body.RequestID != "req-1" {
				t.Errorf("expected request id, got %q", body.RequestID)
			}
		})
	}
}

func TestHTTPErrorHandler_Head(t *testing.T) {
	code, _ := renderError(t, http.MethodHead, echo.ErrNotFound)
	if code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestInit_NoDSN(t *testing.T) {
	enabled, err := Init(Options{})
	if err != nil || enabled {
		t.Errorf("expected disabled without error, got %v %v", enabled, err)
	}
}

func TestScrubEvent(t *testing.T) {
	ev := &sentry.Event{
		Request: &sentry.Request{Data: "{\"ssn\":1}", Cookies: "cabinet_session=abc", Headers: map[string]string{"Cookie": "x"}},
		User:    sentry.User{ID: "u1", Email: "doc@example.com"},
	}
	out := scrubEvent(ev, nil)
	if out.Request.Data != "" || out.Request.Cookies != "" || out.Request.Headers != nil {
		t.Errorf("request not scrubbed: %+v", out.Request)
	}
	if out.User.Email != "" || out.User.ID != "u1" {
		t.Errorf("unexpected user %+v", out.User)
	}
}
