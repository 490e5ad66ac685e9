// Package server assembles the HTTP API: middleware chain, services and routes.
package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/cabinet/cabinet/internal/config"
	"github.com/cabinet/cabinet/internal/domain/invoice"
	"github.com/cabinet/cabinet/internal/domain/patient"
	"github.com/cabinet/cabinet/internal/domain/prescription"
	"github.com/cabinet/cabinet/internal/domain/scheduling"
	"github.com/cabinet/cabinet/internal/domain/teleconsult"
	"github.com/cabinet/cabinet/internal/domain/tenant"
	"github.com/cabinet/cabinet/internal/domain/user"
	"github.com/cabinet/cabinet/internal/platform/auth"
	"github.com/cabinet/cabinet/internal/platform/billing"
	"github.com/cabinet/cabinet/internal/platform/db"
	"github.com/cabinet/cabinet/internal/platform/jobs"
	"github.com/cabinet/cabinet/internal/platform/middleware"
	"github.com/cabinet/cabinet/internal/platform/session"
	"github.com/cabinet/cabinet/internal/platform/telemetry"
	"github.com/cabinet/cabinet/internal/platform/websocket"
	"github.com/cabinet/cabinet/migrations"
)

const (
	webhookPath   = "/api/webhooks/stripe"
	socketPath    = "/api/teleconsult/ws"
	bodyLimit     = "1M"
	requestBudget = 30 * time.Second
)

// Deps are the process-wide resources the server is built from.
type Deps struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Registry *db.Registry
	Sessions session.Store
	Version  string
	// Sentry enables error reporting middleware.
	Sentry bool

	// Optional overrides, mostly for tests.
	Audit    middleware.AuditRecorder
	Checkout billing.SessionCreator
	Events   billing.EventStore
}

type Server struct {
	Echo    *echo.Echo
	Jobs    *jobs.Scheduler
	Hub     *websocket.Hub
	Tenants *tenant.Service
}

// ProvisionTenant returns a function applying the tenant migrations to a new
// tenant database through the registry.
func ProvisionTenant(registry *db.Registry) tenant.ProvisionFunc {
	return func(ctx context.Context, databaseURL string) error {
		pool, err := registry.ForTenant(ctx, databaseURL)
		if err != nil {
			return err
		}
		_, err = db.NewMigrator(pool, migrations.FS, migrations.TenantDir).Up(ctx)
		return err
	}
}

func New(d Deps) (*Server, error) {
	cfg := d.Config
	logger := d.Logger
	mgmt := d.Registry.Management()

	// Management services
	tenantSvc := tenant.NewService(
		tenant.NewTenantRepoPG(mgmt),
		tenant.NewPlanRepoPG(mgmt),
		tenant.NewSubscriptionRepoPG(mgmt),
		d.Registry,
		ProvisionTenant(d.Registry),
		logger,
	)
	userSvc := user.NewService(user.NewRepoPG(mgmt), d.Sessions, logger)

	// Tenant services
	hub := websocket.NewHub(websocket.Options{MaxPerRoom: 4, AllowedOrigins: cfg.CORSOrigins, Logger: logger})
	teleSvc := teleconsult.NewService(teleconsult.NewRepoPG(), signingKey(cfg, logger), cfg.TeleconsultTokenTTL, hub)
	invoiceSvc := invoice.NewService(invoice.NewRepoPG())

	scheduler := jobs.NewScheduler(tenantSvc, d.Registry, logger,
		jobs.Task{Name: "teleconsult.expire", Run: teleSvc.ExpireStale},
		jobs.Task{Name: "invoice.overdue", Run: invoiceSvc.MarkOverdue},
	)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	// X-Forwarded-For is honoured only when set by a private-network proxy
	e.IPExtractor = echo.ExtractIPFromXFFHeader()
	e.HTTPErrorHandler = telemetry.HTTPErrorHandler(logger, d.Sentry)

	sessions := session.NewManager(d.Sessions, session.CookieOptions{
		Name:   cfg.SessionCookie,
		TTL:    cfg.SessionTTL,
		Secure: cfg.CookieSecure,
	}, logger)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	if d.Sentry {
		e.Use(telemetry.Middleware())
	}
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders:     []string{"Content-Type", "X-Request-ID", "X-Tenant-ID", middleware.CSRFHeader},
		AllowCredentials: true,
	}))
	e.Use(echomw.BodyLimit(bodyLimit))
	e.Use(middleware.RequestTimeout(requestBudget, func(c echo.Context) bool {
		return c.Request().URL.Path == socketPath
	}))
	e.Use(sessions.Middleware())
	if cfg.IsDev() {
		logger.Warn().
			Str("env", cfg.Env).
			Str("dev_tenant", cfg.DevTenant).
			Msg("DEVELOPMENT MODE: every request without a session cookie is served as superadmin. Set ENV=production for any shared or public deployment")
		e.Use(auth.DevSession(cfg.DevTenant))
	}
	e.Use(middleware.CSRF(middleware.CSRFConfig{
		Secure: cfg.CookieSecure,
		Skipper: func(c echo.Context) bool {
			return c.Request().URL.Path == webhookPath
		},
	}))

	api := e.Group("/api", middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           10 * time.Minute,
		Skipper: func(c echo.Context) bool {
			return c.Request().URL.Path == "/api/health"
		},
	}))

	// Public
	billingStatus := "disabled"
	if cfg.BillingEnabled() {
		billingStatus = "configured"
	}
	api.GET("/health", db.HealthHandler(db.HealthOptions{
		Version:  d.Version,
		Registry: d.Registry,
		Checks: []db.HealthCheck{
			{Name: "database", Check: db.PingCheck(mgmt)},
			{Name: "session_store", Check: d.Sessions.Ping},
		},
		Static: map[string]string{"billing": billingStatus},
	}))
	api.GET("/csrf-token", middleware.CSRFTokenHandler)

	var provider auth.OAuthProvider
	if cfg.GoogleEnabled() {
		provider = auth.NewGoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
	}
	auth.NewHandler(provider, userSvc, sessions, cfg.FrontendURL, logger).RegisterRoutes(api)

	teleHandler := teleconsult.NewHandler(teleSvc, hub, d.Registry, tenantSvc)
	teleHandler.RegisterSocket(api)

	if cfg.BillingEnabled() || d.Events != nil {
		events := d.Events
		if events == nil {
			events = billing.NewPGEventStore(mgmt)
		}
		billing.NewWebhookHandler(cfg.StripeWebhookSecret, tenantSvc, events, logger).RegisterRoutes(api)
	}

	// Superadmin
	admin := api.Group("/admin", auth.RequireSession())

	// Tenant-scoped
	audit := d.Audit
	if audit == nil {
		audit = middleware.NewPGAuditRecorder(mgmt)
	}
	scoped := api.Group("", auth.RequireSession(), db.TenantMiddleware(d.Registry, tenantSvc), middleware.Audit(logger, audit))

	tenant.NewHandler(tenantSvc).RegisterRoutes(api, admin, scoped)
	user.NewHandler(userSvc).RegisterRoutes(scoped)
	patient.NewHandler(patient.NewService(patient.NewRepoPG())).RegisterRoutes(scoped)
	scheduling.NewHandler(scheduling.NewService(scheduling.NewAppointmentRepoPG())).RegisterRoutes(scoped)
	invoice.NewHandler(invoiceSvc).RegisterRoutes(scoped)
	prescription.NewHandler(prescription.NewService(prescription.NewRepoPG())).RegisterRoutes(scoped)
	teleHandler.RegisterRoutes(scoped)

	checkout := d.Checkout
	if checkout == nil && cfg.BillingEnabled() {
		checkout = billing.NewStripeSessions(cfg.StripeSecretKey)
	}
	if checkout != nil {
		billing.NewCheckoutHandler(checkout, tenantSvc, cfg.FrontendURL).RegisterRoutes(scoped)
	}

	return &Server{Echo: e, Jobs: scheduler, Hub: hub, Tenants: tenantSvc}, nil
}

// signingKey returns the configured teleconsult key. Outside production an
// unset key is replaced by a per-process random one.
func signingKey(cfg *config.Config, logger zerolog.Logger) []byte {
	if cfg.TeleconsultSigningKey != "" {
		return []byte(cfg.TeleconsultSigningKey)
	}
	if cfg.IsProduction() {
		return nil
	}
	logger.Warn().Msg("TELECONSULT_SIGNING_KEY not set, using an ephemeral key")
	return []byte(strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", ""))
}
