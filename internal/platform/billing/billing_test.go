package billing

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/cabinet/cabinet/internal/domain/tenant"
	"github.com/cabinet/cabinet/internal/platform/apperr"
	"github.com/cabinet/cabinet/internal/platform/db"
	"github.com/cabinet/cabinet/internal/platform/session"
)

const testSecret = "whsec_test_secret"

type mockTenants struct {
	mu        sync.Mutex
	tenant    *tenant.Tenant
	plans     map[uuid.UUID]*tenant.Plan
	attached  []string
	applied   []tenant.SubscriptionUpdate
	pastDue   []string
	paid      []string
	failApply error
}

func newMockTenants() *mockTenants {
	return &mockTenants{
		tenant: &tenant.Tenant{ID: uuid.New(), Slug: "clinic", Status: tenant.StatusTrialing},
		plans:  make(map[uuid.UUID]*tenant.Plan),
	}
}

func (m *mockTenants) Get(_ context.Context, id uuid.UUID) (*tenant.Tenant, error) {
	if id != m.tenant.ID {
		return nil, apperr.NotFound("tenant")
	}
	return m.tenant, nil
}

func (m *mockTenants) GetPlan(_ context.Context, id uuid.UUID) (*tenant.Plan, error) {
	p, ok := m.plans[id]
	if !ok {
		return nil, apperr.NotFound("plan")
	}
	return p, nil
}

func (m *mockTenants) AttachCustomer(_ context.Context, id uuid.UUID, customerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id != m.tenant.ID {
		return apperr.NotFound("tenant")
	}
	m.attached = append(m.attached, customerID)
	return nil
}

func (m *mockTenants) ApplySubscription(_ context.Context, u tenant.SubscriptionUpdate) (*tenant.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failApply != nil {
		return nil, m.failApply
	}
	m.applied = append(m.applied, u)
	return &tenant.Subscription{StripeSubscriptionID: u.StripeSubscriptionID, Status: u.Status}, nil
}

func (m *mockTenants) MarkPastDue(_ context.Context, customerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pastDue = append(m.pastDue, customerID)
	return nil
}

func (m *mockTenants) MarkPaid(_ context.Context, customerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paid = append(m.paid, customerID)
	return nil
}

type memoryEvents struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemoryEvents() *memoryEvents { return &memoryEvents{seen: make(map[string]bool)} }

func (m *memoryEvents) Record(_ context.Context, id, _ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[id] {
		return false, nil
	}
	m.seen[id] = true
	return true, nil
}

func (m *memoryEvents) Forget(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, id)
	return nil
}

func newWebhookServer() (*echo.Echo, *mockTenants, *memoryEvents) {
	tenants := newMockTenants()
	events := newMemoryEvents()
	e := echo.New()
	NewWebhookHandler(testSecret, tenants, events, zerolog.Nop()).RegisterRoutes(e.Group("/api"))
	return e, tenants, events
}

func eventPayload(id, eventType string, object interface{}) []byte {
	raw, _ := json.Marshal(object)
	return []byte(fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"api_version":"2023-10-16","data":{"object":%s}}`, id, eventType, raw))
}

func signedHeader(payload []byte, secret string) string {
	now := time.Now()
	sig := webhook.ComputeSignature(now, payload, secret)
	return fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(sig))
}

func post(e *echo.Echo, payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", strings.NewReader(string(payload)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	e, tenants, _ := newWebhookServer()
	payload := eventPayload("evt_1", "invoice.paid", map[string]interface{}{"id": "in_1", "customer": "cus_1"})

	tests := []struct {
		name string
		sig  string
	}{
		{"missing", ""},
		{"garbage", "t=1,v1=deadbeef"},
		{"wrong secret", signedHeader(payload, "whsec_other")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := post(e, payload, tt.sig); rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
		})
	}
	if len(tenants.paid) != 0 {
		t.Error("unsigned events must not be processed")
	}
}

func TestWebhook_TooLarge(t *testing.T) {
	e, _, _ := newWebhookServer()
	payload := []byte(`{"pad":"` + strings.Repeat("x", maxWebhookBytes) + `"}`)
	if rec := post(e, payload, signedHeader(payload, testSecret)); rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}
}

func TestWebhook_DuplicateProcessedOnce(t *testing.T) {
	e, tenants, _ := newWebhookServer()
	payload := eventPayload("evt_dup", "invoice.payment_failed", map[string]interface{}{"id": "in_1", "customer": "cus_42"})

	for i := 0; i < 3; i++ {
		if rec := post(e, payload, signedHeader(payload, testSecret)); rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d", i, rec.Code)
		}
	}
	if len(tenants.pastDue) != 1 || tenants.pastDue[0] != "cus_42" {
		t.Errorf("expected one past-due update for cus_42, got %v", tenants.pastDue)
	}
}

func TestWebhook_InvoicePaid(t *testing.T) {
	e, tenants, _ := newWebhookServer()
	payload := eventPayload("evt_paid", "invoice.paid", map[string]interface{}{"id": "in_2", "customer": "cus_7"})
	if rec := post(e, payload, signedHeader(payload, testSecret)); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(tenants.paid) != 1 || tenants.paid[0] != "cus_7" {
		t.Errorf("expected cus_7 marked paid, got %v", tenants.paid)
	}
}

func TestWebhook_CheckoutCompleted(t *testing.T) {
	e, tenants, _ := newWebhookServer()
	payload := eventPayload("evt_co", "checkout.session.completed", map[string]interface{}{
		"id":                  "cs_1",
		"client_reference_id": tenants.tenant.ID.String(),
		"customer":            "cus_new",
		"subscription":        "sub_1",
		"payment_status":      "paid",
	})
	if rec := post(e, payload, signedHeader(payload, testSecret)); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(tenants.attached) != 1 || tenants.attached[0] != "cus_new" {
		t.Errorf("expected customer attached, got %v", tenants.attached)
	}
	if len(tenants.applied) != 1 {
		t.Fatalf("expected one subscription update, got %d", len(tenants.applied))
	}
	u := tenants.applied[0]
	if u.TenantID != tenants.tenant.ID || u.StripeSubscriptionID != "sub_1" || u.Status != "active" {
		t.Errorf("unexpected update %+v", u)
	}
}

func TestWebhook_SubscriptionEvents(t *testing.T) {
	e, tenants, _ := newWebhookServer()
	periodEnd := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	sub := map[string]interface{}{
		"id":                   "sub_9",
		"customer":             "cus_9",
		"status":               "past_due",
		"current_period_end":   periodEnd.Unix(),
		"cancel_at_period_end": true,
		"metadata":             map[string]string{"tenant_id": tenants.tenant.ID.String()},
		"items": map[string]interface{}{
			"object": "list",
			"data":   []interface{}{map[string]interface{}{"id": "si_1", "price": map[string]interface{}{"id": "price_solo"}}},
		},
	}

	updated := eventPayload("evt_up", "customer.subscription.updated", sub)
	if rec := post(e, updated, signedHeader(updated, testSecret)); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	deleted := eventPayload("evt_del", "customer.subscription.deleted", sub)
	if rec := post(e, deleted, signedHeader(deleted, testSecret)); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	if len(tenants.applied) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(tenants.applied))
	}
	u := tenants.applied[0]
	if u.Status != "past_due" || u.StripePriceID != "price_solo" || u.CustomerID != "cus_9" || !u.CancelAtPeriodEnd {
		t.Errorf("unexpected update %+v", u)
	}
	if u.TenantID != tenants.tenant.ID {
		t.Errorf("expected tenant from metadata, got %s", u.TenantID)
	}
	if u.CurrentPeriodEnd == nil || !u.CurrentPeriodEnd.Equal(periodEnd) {
		t.Errorf("unexpected period end %v", u.CurrentPeriodEnd)
	}
	if tenants.applied[1].Status != string(stripe.SubscriptionStatusCanceled) {
		t.Errorf("expected deleted subscription to be canceled, got %s", tenants.applied[1].Status)
	}
}

func TestWebhook_UnknownTypeAcknowledged(t *testing.T) {
	e, _, _ := newWebhookServer()
	payload := eventPayload("evt_x", "customer.created", map[string]interface{}{"id": "cus_1"})
	if rec := post(e, payload, signedHeader(payload, testSecret)); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestWebhook_FailureReleasesEventForRetry(t *testing.T) {
	e, tenants, events := newWebhookServer()
	tenants.failApply = errors.New("db down")
	payload := eventPayload("evt_retry", "customer.subscription.created", map[string]interface{}{"id": "sub_1", "customer": "cus_1", "status": "active"})

	if rec := post(e, payload, signedHeader(payload, testSecret)); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if events.seen["evt_retry"] {
		t.Fatal("failed event must be forgotten")
	}

	tenants.failApply = nil
	if rec := post(e, payload, signedHeader(payload, testSecret)); rec.Code != http.StatusOK {
		t.Fatalf("retry: expected 200, got %d", rec.Code)
	}
	if len(tenants.applied) != 1 {
		t.Errorf("expected retry to apply the subscription once, got %d", len(tenants.applied))
	}
}

func TestWebhook_UnknownTenantAcknowledged(t *testing.T) {
	e, tenants, _ := newWebhookServer()
	tenants.failApply = apperr.NotFound("tenant")
	payload := eventPayload("evt_orphan", "customer.subscription.updated", map[string]interface{}{"id": "sub_1", "customer": "cus_unknown", "status": "active"})
	if rec := post(e, payload, signedHeader(payload, testSecret)); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestWebhook_UnattributableEventsAcknowledged(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		object    map[string]interface{}
	}{
		{"checkout without tenant reference", "checkout.session.completed",
			map[string]interface{}{"id": "cs_link", "customer": "cus_1", "payment_status": "paid"}},
		{"checkout without customer", "checkout.session.completed",
			map[string]interface{}{"id": "cs_nocus", "client_reference_id": uuid.NewString()}},
		{"invoice without customer", "invoice.payment_failed",
			map[string]interface{}{"id": "in_1"}},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, tenants, events := newWebhookServer()
			id := fmt.Sprintf("evt_unattributed_%d", i)
			payload := eventPayload(id, tt.eventType, tt.object)

			for attempt := 0; attempt < 3; attempt++ {
				rec := post(e, payload, signedHeader(payload, testSecret))
				if rec.Code != http.StatusOK {
					t.Fatalf("attempt %d: expected 200, got %d", attempt+1, rec.Code)
				}
			}
			if !events.seen[id] {
				t.Error("event should stay recorded")
			}
			if len(tenants.attached)+len(tenants.pastDue)+len(tenants.applied) != 0 {
				t.Error("nothing should be applied")
			}
		})
	}
}

func TestWebhook_InvalidSubscriptionAcknowledged(t *testing.T) {
	e, tenants, events := newWebhookServer()
	tenants.failApply = apperr.Invalid("subscription has neither tenant nor customer")
	payload := eventPayload("evt_bare_sub", "customer.subscription.updated", map[string]interface{}{"id": "sub_1", "status": "active"})

	if rec := post(e, payload, signedHeader(payload, testSecret)); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !events.seen["evt_bare_sub"] {
		t.Error("event should stay recorded")
	}
}

// ---------------------------------------------------------------------------
// Checkout
// ---------------------------------------------------------------------------

type fakeSessions struct {
	params *stripe.CheckoutSessionParams
	err    error
}

func (f *fakeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.CheckoutSession{ID: "cs_test", URL: "https://checkout.stripe.test/cs_test"}, nil
}

func newCheckoutServer(tenants *mockTenants, sessions *fakeSessions) *echo.Echo {
	e := echo.New()
	g := e.Group("/api", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := db.WithTenant(c.Request().Context(), tenants.tenant.Info(), nil)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	NewCheckoutHandler(sessions, tenants, "https://app.example").RegisterRoutes(g)
	return e
}

func checkout(e *echo.Echo, roles []string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/billing/checkout", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(session.WithSession(req.Context(), &session.Session{UserID: uuid.NewString(), TenantSlug: "clinic", Roles: roles}))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestCheckout_CreatesSession(t *testing.T) {
	tenants := newMockTenants()
	customer := "cus_existing"
	tenants.tenant.StripeCustomerID = &customer
	price := "price_solo"
	plan := &tenant.Plan{ID: uuid.New(), Code: "solo", StripePriceID: &price, Active: true}
	tenants.plans[plan.ID] = plan
	sessions := &fakeSessions{}
	e := newCheckoutServer(tenants, sessions)

	rec := checkout(e, []string{session.RoleAdmin}, `{"plan_id":"`+plan.ID.String()+`"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp checkoutResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.URL == "" || resp.SessionID != "cs_test" {
		t.Errorf("unexpected response %+v", resp)
	}

	p := sessions.params
	if *p.ClientReferenceID != tenants.tenant.ID.String() {
		t.Errorf("expected tenant reference, got %s", *p.ClientReferenceID)
	}
	if *p.LineItems[0].Price != "price_solo" || *p.Customer != "cus_existing" {
		t.Errorf("unexpected params %+v", p)
	}
	if p.SubscriptionData.Metadata["tenant_id"] != tenants.tenant.ID.String() {
		t.Error("expected tenant id in subscription metadata")
	}
	if !strings.HasPrefix(*p.SuccessURL, "https://app.example/") {
		t.Errorf("unexpected success url %s", *p.SuccessURL)
	}
}

func TestCheckout_Errors(t *testing.T) {
	tenants := newMockTenants()
	inactive := &tenant.Plan{ID: uuid.New(), Code: "legacy"}
	tenants.plans[inactive.ID] = inactive
	price := "price_solo"
	active := &tenant.Plan{ID: uuid.New(), Code: "solo", StripePriceID: &price, Active: true}
	tenants.plans[active.ID] = active

	tests := []struct {
		name     string
		roles    []string
		body     string
		stripeErr error
		code     int
	}{
		{"non admin", []string{session.RoleStaff}, `{"plan_id":"` + active.ID.String() + `"}`, nil, http.StatusForbidden},
		{"missing plan", []string{session.RoleAdmin}, `{}`, nil, http.StatusBadRequest},
		{"unknown plan", []string{session.RoleAdmin}, `{"plan_id":"` + uuid.NewString() + `"}`, nil, http.StatusNotFound},
		{"inactive plan", []string{session.RoleAdmin}, `{"plan_id":"` + inactive.ID.String() + `"}`, nil, http.StatusBadRequest},
		{"stripe down", []string{session.RoleAdmin}, `{"plan_id":"` + active.ID.String() + `"}`, errors.New("boom"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newCheckoutServer(tenants, &fakeSessions{err: tt.stripeErr})
			if rec := checkout(e, tt.roles, tt.body); rec.Code != tt.code {
				t.Errorf("expected %d, got %d: %s", tt.code, rec.Code, rec.Body.String())
			}
		})
	}
}
