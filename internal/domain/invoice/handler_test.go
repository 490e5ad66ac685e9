package invoice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cabinet/cabinet/internal/platform/session"
)

func newTestServer() (*echo.Echo, *Service) {
	svc, _ := newTestService()
	e := echo.New()
	NewHandler(svc).RegisterRoutes(e.Group("/api"))
	return e, svc
}

func do(e *echo.Echo, role, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req = req.WithContext(session.WithSession(req.Context(), &session.Session{UserID: "u1", Roles: []string{role}}))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_CreateAndIssue(t *testing.T) {
	e, _ := newTestServer()
	body := `{"patient_id":"` + uuid.NewString() + `","lines":[{"description":"Consultation","quantity":1,"unit_cents":2500}]}`

	rec := do(e, session.RoleStaff, http.MethodPost, "/api/invoices", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var inv Invoice
	json.Unmarshal(rec.Body.Bytes(), &inv)
	if inv.TotalCents != 2500 {
		t.Errorf("expected total 2500, got %d", inv.TotalCents)
	}

	rec = do(e, session.RoleStaff, http.MethodPost, "/api/invoices/"+inv.ID.String()+"/issue", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	json.Unmarshal(rec.Body.Bytes(), &inv)
	if inv.Number != "INV-2026-000001" {
		t.Errorf("unexpected number %s", inv.Number)
	}

	rec = do(e, session.RoleStaff, http.MethodPost, "/api/invoices/"+inv.ID.String()+"/issue", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
}

func TestHandler_VoidRequiresAdmin(t *testing.T) {
	e, svc := newTestServer()
	inv := consultation()
	svc.Create(context.Background(), inv)

	rec := do(e, session.RoleStaff, http.MethodPost, "/api/invoices/"+inv.ID.String()+"/void", "")
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
	rec = do(e, session.RoleAdmin, http.MethodPost, "/api/invoices/"+inv.ID.String()+"/void", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_ListByPatient(t *testing.T) {
	e, svc := newTestServer()
	inv := consultation()
	svc.Create(context.Background(), inv)
	svc.Create(context.Background(), consultation())

	rec := do(e, session.RoleStaff, http.MethodGet, "/api/invoices?patient_id="+inv.PatientID.String(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var page struct {
		Total int `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &page)
	if page.Total != 1 {
		t.Errorf("expected 1 invoice, got %d", page.Total)
	}

	rec = do(e, session.RoleStaff, http.MethodGet, "/api/invoices?patient_id=nope", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}
