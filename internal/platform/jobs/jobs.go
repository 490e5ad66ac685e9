// Package jobs runs periodic maintenance against every servable tenant.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/cabinet/cabinet/internal/domain/tenant"
	"github.com/cabinet/cabinet/internal/platform/db"
)

// Task is one maintenance step. Run receives a context bound to a tenant
// database and returns the number of records it changed.
type Task struct {
	Name string
	Run  func(ctx context.Context) (int64, error)
}

type TenantSource interface {
	ListServable(ctx context.Context) ([]*tenant.Tenant, error)
}

type PoolSource interface {
	ForTenant(ctx context.Context, connString string) (*pgxpool.Pool, error)
}

// Report summarises one maintenance run.
type Report struct {
	Tenants  int
	Failures int
	Changed  map[string]int64
}

type Scheduler struct {
	cron    *cron.Cron
	tenants TenantSource
	pools   PoolSource
	tasks   []Task
	logger  zerolog.Logger

	// TenantTimeout bounds the work done for a single tenant.
	TenantTimeout time.Duration

	mu      sync.Mutex
	running bool
}

func NewScheduler(tenants TenantSource, pools PoolSource, logger zerolog.Logger, tasks ...Task) *Scheduler {
	cl := cronLogger{logger}
	return &Scheduler{
		cron:          cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl)),
		tenants:       tenants,
		pools:         pools,
		tasks:         tasks,
		logger:        logger,
		TenantTimeout: time.Minute,
	}
}

// Start schedules RunOnce on spec and starts the cron loop.
func (s *Scheduler) Start(spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if _, err := s.cron.AddFunc(spec, func() { s.RunOnce(context.Background()) }); err != nil {
		return err
	}
	s.cron.Start()
	s.running = true
	s.logger.Info().Str("schedule", spec).Int("tasks", len(s.tasks)).Msg("maintenance scheduler started")
	return nil
}

// Stop stops scheduling and waits for a running job until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn().Msg("maintenance job still running at shutdown")
	}
	s.running = false
}

// RunOnce runs every task for every servable tenant. A failing tenant or
// task is logged and skipped.
func (s *Scheduler) RunOnce(ctx context.Context) Report {
	report := Report{Changed: make(map[string]int64)}
	tenants, err := s.tenants.ListServable(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("maintenance: list tenants")
		report.Failures++
		return report
	}

	for _, t := range tenants {
		report.Tenants++
		if !s.runTenant(ctx, t, &report) {
			report.Failures++
		}
	}

	s.logger.Info().
		Int("tenants", report.Tenants).
		Int("failures", report.Failures).
		Interface("changed", report.Changed).
		Msg("maintenance run finished")
	return report
}

func (s *Scheduler) runTenant(ctx context.Context, t *tenant.Tenant, report *Report) bool {
	log := s.logger.With().Str("tenant_id", t.Slug).Logger()

	ctx, cancel := context.WithTimeout(ctx, s.TenantTimeout)
	defer cancel()

	pool, err := s.pools.ForTenant(ctx, t.DatabaseURL)
	if err != nil {
		log.Error().Err(err).Msg("maintenance: tenant database unavailable")
		return false
	}
	ctx = db.WithTenant(ctx, t.Info(), pool)

	ok := true
	for _, task := range s.tasks {
		n, err := task.Run(ctx)
		if err != nil {
			log.Error().Err(err).Str("task", task.Name).Msg("maintenance task failed")
			ok = false
			continue
		}
		report.Changed[task.Name] += n
		if n > 0 {
			log.Info().Str("task", task.Name).Int64("changed", n).Msg("maintenance task applied")
		}
	}
	return ok
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct{ l zerolog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
