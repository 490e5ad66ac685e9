package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/cabinet/cabinet/internal/platform/session"
)

// mockRecorder collects audit entries for assertions.
type mockRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
	err     error
}

func (m *mockRecorder) RecordAccess(_ context.Context, entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return m.err
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func runAudit(t *testing.T, rec AuditRecorder, method, target string, handler echo.HandlerFunc) (echo.Context, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, target, nil)
	sess := &session.Session{UserID: "user-1", Roles: []string{session.RolePractitioner}}
	req = req.WithContext(session.WithSession(req.Context(), sess))
	c := e.NewContext(req, httptest.NewRecorder())
	c.Set("request_id", "req-123")
	c.Set("tenant_id", "clinic-a")

	return c, Audit(zerolog.Nop(), rec)(handler)(c)
}

func TestAudit_RecordsPHIAccess(t *testing.T) {
	rec := &mockRecorder{}
	id := uuid.New().String()

	_, err := runAudit(t, rec, http.MethodGet, "/api/patients/"+id, func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.count() != 1 {
		t.Fatalf("expected 1 entry, got %d", rec.count())
	}

	got := rec.entries[0]
	if got.ResourceType != "patients" || got.ResourceID != id || got.PatientID != id {
		t.Errorf("unexpected resource fields %+v", got)
	}
	if got.Action != "read" || got.StatusCode != http.StatusOK {
		t.Errorf("unexpected action/status %s %d", got.Action, got.StatusCode)
	}
	if got.UserID != "user-1" || got.TenantSlug != "clinic-a" || got.RequestID != "req-123" {
		t.Errorf("unexpected identity fields %+v", got)
	}
}

func TestAudit_PatientFromQuery(t *testing.T) {
	rec := &mockRecorder{}
	pid := uuid.New().String()

	runAudit(t, rec, http.MethodPost, "/api/prescriptions?patient_id="+pid, func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadRequest, "bad")
	})
	if rec.count() != 1 {
		t.Fatalf("expected 1 entry, got %d", rec.count())
	}
	got := rec.entries[0]
	if got.PatientID != pid || got.Action != "create" || got.StatusCode != http.StatusBadRequest {
		t.Errorf("unexpected entry %+v", got)
	}
}

func TestAudit_SkipsNonPHIRoutes(t *testing.T) {
	rec := &mockRecorder{}
	for _, path := range []string{"/api/health", "/api/auth/me", "/api/webhooks/stripe", "/metrics"} {
		runAudit(t, rec, http.MethodGet, path, func(c echo.Context) error { return nil })
	}
	if rec.count() != 0 {
		t.Errorf("expected no entries, got %d", rec.count())
	}
}

func TestAudit_RecorderErrorDoesNotFailRequest(t *testing.T) {
	rec := &mockRecorder{err: errors.New("audit db down")}

	c, err := runAudit(t, rec, http.MethodGet, "/api/invoices", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	if err != nil {
		t.Fatalf("expected request to succeed, got %v", err)
	}
	if c.Response().Status != http.StatusOK {
		t.Errorf("expected 200, got %d", c.Response().Status)
	}
}

func TestAudit_PropagatesHandlerError(t *testing.T) {
	want := echo.NewHTTPError(http.StatusNotFound, "not found")
	_, err := runAudit(t, &mockRecorder{}, http.MethodDelete, "/api/appointments/x", func(c echo.Context) error {
		return want
	})
	if err != want {
		t.Errorf("expected handler error, got %v", err)
	}
}

func TestHTTPMethodToAction(t *testing.T) {
	tests := map[string]string{
		http.MethodGet:    "read",
		http.MethodHead:   "read",
		http.MethodPost:   "create",
		http.MethodPut:    "update",
		http.MethodPatch:  "update",
		http.MethodDelete: "delete",
	}
	for method, want := range tests {
		if got := httpMethodToAction(method); got != want {
			t.Errorf("httpMethodToAction(%s) = %s, want %s", method, got, want)
		}
	}
}

type fakeExecer struct {
	sql  string
	args []any
	err  error
}

func (f *fakeExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.sql = sql
	f.args = args
	return pgconn.NewCommandTag("INSERT 0 1"), f.err
}

func TestPGAuditRecorder(t *testing.T) {
	db := &fakeExecer{}
	r := NewPGAuditRecorder(db)

	err := r.RecordAccess(context.Background(), AuditEntry{Action: "read", ResourceType: "patients", StatusCode: 200})
	if err != nil {
		t.Fatal(err)
	}
	if len(db.args) != 13 {
		t.Fatalf("expected 13 args, got %d", len(db.args))
	}
	if db.args[0].(*string) != nil {
		t.Error("expected empty tenant to be NULL")
	}

	db.err = errors.New("insert failed")
	if err := r.RecordAccess(context.Background(), AuditEntry{}); err == nil {
		t.Error("expected error")
	}
}
