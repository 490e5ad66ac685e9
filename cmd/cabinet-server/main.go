package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cabinet/cabinet/internal/config"
	"github.com/cabinet/cabinet/internal/domain/tenant"
	"github.com/cabinet/cabinet/internal/platform/db"
	"github.com/cabinet/cabinet/internal/platform/logging"
	"github.com/cabinet/cabinet/internal/platform/session"
	"github.com/cabinet/cabinet/internal/platform/telemetry"
	"github.com/cabinet/cabinet/internal/server"
	"github.com/cabinet/cabinet/migrations"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:          "cabinet-server",
		Short:        "Medical practice API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// migrationDir maps a --target flag to its embedded directory.
func migrationDir(target string) (string, error) {
	switch target {
	case "management":
		return migrations.ManagementDir, nil
	case "tenant":
		return migrations.TenantDir, nil
	default:
		return "", fmt.Errorf("unknown migration target %q (want management or tenant)", target)
	}
}

// openTarget connects to the database a migrate command operates on. The
// returned cleanup closes every pool opened.
func openTarget(ctx context.Context, cfg *config.Config, target, slug string) (*pgxpool.Pool, func(), error) {
	mgmt, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	if target == "management" {
		return mgmt, mgmt.Close, nil
	}

	if slug == "" {
		mgmt.Close()
		return nil, nil, fmt.Errorf("--tenant is required for tenant migrations")
	}
	t, err := tenant.NewTenantRepoPG(mgmt).GetBySlug(ctx, slug)
	if err != nil {
		mgmt.Close()
		return nil, nil, fmt.Errorf("tenant %s: %w", slug, err)
	}
	pool, err := db.NewPool(ctx, t.DatabaseURL, cfg.TenantDBMaxConns, 0)
	if err != nil {
		mgmt.Close()
		return nil, nil, err
	}
	return pool, func() { pool.Close(); mgmt.Close() }, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, _ := cmd.Flags().GetString("target")
			slug, _ := cmd.Flags().GetString("tenant")
			dir, err := migrationDir(target)
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, closeAll, err := openTarget(ctx, cfg, target, slug)
			if err != nil {
				return err
			}
			defer closeAll()

			fmt.Printf("Running %s migrations\n", target)
			count, err := db.NewMigrator(pool, migrations.FS, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("target", "management", "Database to migrate: management or tenant")
	upCmd.Flags().String("tenant", "", "Tenant slug (tenant target only)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, _ := cmd.Flags().GetString("target")
			slug, _ := cmd.Flags().GetString("tenant")
			dir, err := migrationDir(target)
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, closeAll, err := openTarget(ctx, cfg, target, slug)
			if err != nil {
				return err
			}
			defer closeAll()

			statuses, err := db.NewMigrator(pool, migrations.FS, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			fmt.Printf("Migration status for %s\n", target)
			printStatus(os.Stdout, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("target", "management", "Database to inspect: management or tenant")
	statusCmd.Flags().String("tenant", "", "Tenant slug (tenant target only)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

// tenantService builds a tenant service over the management database for
// offline administration.
func tenantService(ctx context.Context, cfg *config.Config) (*tenant.Service, *db.Registry, error) {
	mgmt, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	registry := db.NewRegistry(mgmt, db.TenantPoolFactory(cfg.TenantDBMaxConns))
	svc := tenant.NewService(
		tenant.NewTenantRepoPG(mgmt),
		tenant.NewPlanRepoPG(mgmt),
		tenant.NewSubscriptionRepoPG(mgmt),
		registry,
		server.ProvisionTenant(registry),
		zerolog.Nop(),
	)
	return svc, registry, nil
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Register a tenant and optionally migrate its database",
		RunE: func(cmd *cobra.Command, args []string) error {
			var in tenant.CreateInput
			in.Slug, _ = cmd.Flags().GetString("slug")
			in.Name, _ = cmd.Flags().GetString("name")
			in.DatabaseURL, _ = cmd.Flags().GetString("database-url")
			in.Provision, _ = cmd.Flags().GetBool("provision")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			svc, registry, err := tenantService(ctx, cfg)
			if err != nil {
				return err
			}
			defer registry.Close()

			t, err := svc.Create(ctx, in)
			if err != nil {
				return err
			}
			fmt.Printf("Tenant %s created (id %s, status %s).\n", t.Slug, t.ID, t.Status)
			if !in.Provision {
				fmt.Printf("Migrate its database with: cabinet-server migrate up --target tenant --tenant %s\n", t.Slug)
			}
			return nil
		},
	}
	createCmd.Flags().String("slug", "", "URL-safe tenant identifier")
	createCmd.Flags().String("name", "", "Display name")
	createCmd.Flags().String("database-url", "", "Connection string of the tenant database")
	createCmd.Flags().Bool("provision", false, "Apply tenant migrations before registering")
	_ = createCmd.MarkFlagRequired("slug")
	_ = createCmd.MarkFlagRequired("database-url")
	cmd.AddCommand(createCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			svc, registry, err := tenantService(ctx, cfg)
			if err != nil {
				return err
			}
			defer registry.Close()

			tenants, total, err := svc.List(ctx, tenant.ListFilter{Status: status}, 500, 0)
			if err != nil {
				return err
			}
			printTenants(os.Stdout, tenants)
			fmt.Printf("%d tenant(s)\n", total)
			return nil
		},
	}
	listCmd.Flags().String("status", "", "Only list tenants with this status")
	cmd.AddCommand(listCmd)

	return cmd
}

func printTenants(w io.Writer, tenants []*tenant.Tenant) {
	fmt.Fprintf(w, "%-24s %-32s %-10s %s\n", "SLUG", "NAME", "STATUS", "CREATED")
	for _, t := range tenants {
		fmt.Fprintf(w, "%-24s %-32s %-10s %s\n", t.Slug, t.Name, t.Status, t.CreatedAt.Format("2006-01-02"))
	}
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Logger
	logger := logging.New(logging.Options{
		Level:   cfg.LogLevel,
		Console: cfg.IsDev(),
		File:    cfg.LogFile,
	})

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	sentryOn, err := telemetry.Init(telemetry.Options{
		DSN:         cfg.SentryDSN,
		Environment: cfg.Env,
		Release:     version,
	})
	if err != nil {
		logger.Error().Err(err).Msg("sentry init failed, continuing without error reporting")
	}
	defer telemetry.Flush(2 * time.Second)

	// Database
	ctx := context.Background()
	mgmt, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	registry := db.NewRegistry(mgmt, db.TenantPoolFactory(cfg.TenantDBMaxConns))
	defer registry.Close()
	logger.Info().Msg("connected to database")

	// Sessions
	store, err := session.NewStore(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to session store")
	}
	logger.Info().Str("store", store.Kind()).Msg("session store ready")

	srv, err := server.New(server.Deps{
		Config:   cfg,
		Logger:   logger,
		Registry: registry,
		Sessions: store,
		Version:  version,
		Sentry:   sentryOn,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server")
	}

	if err := srv.Jobs.Start(cfg.MaintenanceSchedule); err != nil {
		logger.Fatal().Err(err).Msg("failed to start maintenance jobs")
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("version", version).Msg("starting server")
		if err := srv.Echo.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Echo.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	srv.Jobs.Stop(shutdownCtx)
	logger.Info().Msg("server stopped")
	return nil
}
