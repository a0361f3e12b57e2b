package server

import (
	"context"
	"fmt"
	"time"

	"hashmatch/internal/conf"
	"hashmatch/internal/service"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/robfig/cron/v3"
)

var _ transport.Server = (*Scheduler)(nil)

// Scheduler runs index build passes and cache refreshes on fixed
// intervals. It is registered with the app like any other server.
type Scheduler struct {
	cron    *cron.Cron
	admin   *service.AdminService
	rebuild time.Duration
	refresh time.Duration
	timeout time.Duration
	log     *log.Helper
}

// NewScheduler creates a Scheduler from the index configuration.
func NewScheduler(bc *conf.Bootstrap, admin *service.AdminService, logger log.Logger) *Scheduler {
	helper := log.NewHelper(log.With(logger, "module", "server/scheduler"))
	cl := cronLogger{helper}
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		admin:   admin,
		rebuild: bc.GetIndex().GetRebuildInterval(),
		refresh: bc.GetIndex().GetRefreshInterval(),
		timeout: 10 * bc.GetIndex().GetRebuildInterval(),
		log:     helper,
	}
}

// Start registers the jobs, kicks off an initial build and returns.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(every(s.rebuild), s.runBuild); err != nil {
		return fmt.Errorf("schedule index builds: %w", err)
	}
	if _, err := s.cron.AddFunc(every(s.refresh), s.runRefresh); err != nil {
		return fmt.Errorf("schedule index refresh: %w", err)
	}
	s.cron.Start()
	s.log.Infof("scheduler started: rebuild every %s, refresh every %s", s.rebuild, s.refresh)
	go s.runBuild()
	return nil
}

// Stop waits for running jobs to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.log.Warn("scheduler stop timeout")
		return ctx.Err()
	}
}

func (s *Scheduler) runBuild() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	results, err := s.admin.RebuildIndexes(ctx, "")
	for _, r := range results {
		if r.Built {
			s.log.Infof("rebuilt %s: %d entries to %s", r.SignalType, r.Entries, r.Checkpoint)
		}
	}
	if err != nil {
		s.log.Errorf("index build pass failed: %v", err)
	}
}

func (s *Scheduler) runRefresh() {
	ctx, cancel := context.WithTimeout(context.Background(), s.refresh)
	defer cancel()
	if err := s.admin.RefreshIndexes(ctx); err != nil {
		s.log.Warnf("index refresh failed: %v", err)
	}
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

// cronLogger adapts a kratos helper to cron.Logger.
type cronLogger struct {
	h *log.Helper
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.h.Debugw(append([]any{"msg", msg}, keysAndValues...)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.h.Errorw(append([]any{"msg", msg, "error", err}, keysAndValues...)...)
}
