// Package scheduler runs periodic billing of due subscriptions.
package scheduler

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"agentfin/internal/service"
)

// Scheduler triggers Biller.ProcessDueSubscriptions on a cron schedule.
type Scheduler struct {
	biller   *service.Biller
	schedule string
	cron     *cron.Cron
}

func New(biller *service.Biller, schedule string) *Scheduler {
	logger := cron.PrintfLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelError))
	return &Scheduler{
		biller:   biller,
		schedule: schedule,
		cron:     cron.New(cron.WithChain(cron.Recover(logger))),
	}
}

// Start registers the billing job and runs the cron loop until ctx is
// cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.schedule, func() { s.runBilling(ctx) }); err != nil {
		return err
	}
	s.cron.Start()
	slog.Info("billing scheduler started", "schedule", s.schedule)

	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}

// Stop implements the infrastructure.Server interface; shutdown runs via ctx
// in Start.
func (s *Scheduler) Stop(ctx context.Context) error {
	return nil
}

func (s *Scheduler) runBilling(ctx context.Context) {
	result, err := s.biller.ProcessDueSubscriptions(ctx)
	if err != nil {
		slog.Error("billing run failed", "error", err)
		return
	}
	if result.Processed > 0 || result.Failures > 0 {
		slog.Info("billing run finished", "processed", result.Processed, "failures", result.Failures)
	}
}
