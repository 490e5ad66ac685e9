package tenant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cabinet/cabinet/internal/platform/db"
	"github.com/cabinet/cabinet/internal/platform/session"
)

func newTestServer() (*echo.Echo, *Service) {
	svc, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()
	api := e.Group("/api")
	h.RegisterRoutes(api, api.Group("/admin"), api.Group(""))
	return e, svc
}

func asUser(req *http.Request, roles ...string) *http.Request {
	sess := &session.Session{UserID: "u1", TenantSlug: "clinic-a", Roles: roles}
	return req.WithContext(session.WithSession(req.Context(), sess))
}

func TestHandler_CreateTenant(t *testing.T) {
	e, _ := newTestServer()
	body := `{"slug":"clinic-a","name":"Clinic A","database_url":"` + testDSN + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/admin/tenants", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, asUser(req, session.RoleSuperAdmin))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "secret") || strings.Contains(rec.Body.String(), "database_url") {
		t.Errorf("database url must never be serialised: %s", rec.Body.String())
	}
}

func TestHandler_AdminRequiresSuperadmin(t *testing.T) {
	e, _ := newTestServer()

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodGet, "/api/admin/tenants", nil), session.RoleAdmin))
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for tenant admin, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for anonymous, got %d", rec.Code)
	}
}

func TestHandler_SuspendTenant(t *testing.T) {
	e, svc := newTestServer()
	tn, _ := svc.Create(context.Background(), CreateInput{Slug: "clinic-a", Name: "A", DatabaseURL: testDSN, Status: StatusActive})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodPost, "/api/admin/tenants/"+tn.ID.String()+"/suspend", nil), session.RoleSuperAdmin))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got Tenant
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Status != StatusSuspended {
		t.Errorf("expected suspended, got %s", got.Status)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodPost, "/api/admin/tenants/"+uuid.NewString()+"/suspend", nil), session.RoleSuperAdmin))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_Stats(t *testing.T) {
	e, svc := newTestServer()
	svc.Create(context.Background(), CreateInput{Slug: "clinic-a", Name: "A", DatabaseURL: testDSN})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil), session.RoleSuperAdmin))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var st Stats
	json.Unmarshal(rec.Body.Bytes(), &st)
	if st.Tenants != 1 {
		t.Errorf("expected 1 tenant, got %d", st.Tenants)
	}
}

func TestHandler_CurrentTenant(t *testing.T) {
	svc, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()

	info := &db.TenantInfo{ID: uuid.New(), Slug: "clinic-a", Name: "A", Status: StatusActive, DatabaseURL: testDSN}
	req := httptest.NewRequest(http.MethodGet, "/api/tenant", nil)
	req = req.WithContext(db.WithTenant(req.Context(), info, nil))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.CurrentTenant(c); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(rec.Body.String(), "secret") {
		t.Error("connection string leaked")
	}
}

func TestHandler_ListPlans(t *testing.T) {
	e, _ := newTestServer()
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/plans", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var plans []Plan
	json.Unmarshal(rec.Body.Bytes(), &plans)
	if len(plans) != 1 {
		t.Errorf("expected 1 active plan, got %d", len(plans))
	}
}
