package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/cabinet/cabinet/internal/platform/session"
)

func runWithSession(t *testing.T, sess *session.Session, mw echo.MiddlewareFunc) (int, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if sess != nil {
		req = req.WithContext(session.WithSession(req.Context(), sess))
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := mw(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})(c)
	if he, ok := err.(*echo.HTTPError); ok {
		return he.Code, err
	}
	return rec.Code, err
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name string
		sess *session.Session
		want int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"pre-login session", &session.Session{ID: "x", OAuthState: "s"}, http.StatusUnauthorized},
		{"matching role", &session.Session{UserID: "u", Roles: []string{session.RolePractitioner}}, http.StatusOK},
		{"second role", &session.Session{UserID: "u", Roles: []string{session.RoleAdmin}}, http.StatusOK},
		{"wrong role", &session.Session{UserID: "u", Roles: []string{session.RoleStaff}}, http.StatusForbidden},
		{"no roles", &session.Session{UserID: "u"}, http.StatusForbidden},
		{"superadmin", &session.Session{UserID: "u", Roles: []string{session.RoleSuperAdmin}}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := runWithSession(t, tt.sess, RequireRole(session.RolePractitioner, session.RoleAdmin))
			if code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, code)
			}
		})
	}
}

func TestRequireRole_ErrorMessage(t *testing.T) {
	_, err := runWithSession(t, &session.Session{UserID: "u"}, RequireRole("a", "b"))
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if he.Message != "required role: a or b" {
		t.Errorf("unexpected message %v", he.Message)
	}
}

func TestRequireSession(t *testing.T) {
	if code, _ := runWithSession(t, nil, RequireSession()); code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", code)
	}
	if code, _ := runWithSession(t, &session.Session{UserID: "u"}, RequireSession()); code != http.StatusOK {
		t.Errorf("expected 200, got %d", code)
	}
}

func TestDevSession(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	var got *session.Session
	err := DevSession("demo")(func(c echo.Context) error {
		got = session.FromContext(c.Request().Context())
		return nil
	})(c)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || !got.HasRole(session.RoleSuperAdmin) || got.TenantSlug != "demo" {
		t.Fatalf("unexpected dev session %+v", got)
	}
	if UserIDFromContext(session.WithSession(context.Background(), got)) != "dev-user" {
		t.Error("expected dev-user id")
	}
}

func TestDevSession_KeepsExisting(t *testing.T) {
	e := echo.New()
	real := &session.Session{UserID: "u1", Roles: []string{session.RoleStaff}}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(session.WithSession(req.Context(), real))
	c := e.NewContext(req, httptest.NewRecorder())

	err := DevSession("demo")(func(c echo.Context) error {
		if session.FromContext(c.Request().Context()) != real {
			t.Error("expected existing session to be kept")
		}
		return nil
	})(c)
	if err != nil {
		t.Fatal(err)
	}
	if RolesFromContext(context.Background()) != nil {
		t.Error("expected nil roles without a session")
	}
}
