package app

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Pruner drops expired state and reports how many entries were removed.
type Pruner interface {
	Prune() int
}

// Scheduler runs periodic housekeeping jobs for the worker.
type Scheduler struct {
	cron *cron.Cron
	log  *zap.Logger
}

// NewScheduler creates a cron scheduler whose jobs recover from panics.
func NewScheduler(log *zap.Logger) *Scheduler {
	cronLogger := cron.PrintfLogger(zap.NewStdLog(log))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))
	return &Scheduler{cron: c, log: log}
}

// SchedulePrune registers a job that prunes expired redelivery counters.
func (s *Scheduler) SchedulePrune(spec string, pruner Pruner) error {
	_, err := s.cron.AddFunc(spec, func() {
		if removed := pruner.Prune(); removed > 0 {
			s.log.Debug("Pruned expired redelivery counters", zap.Int("removed", removed))
		}
	})
	if err != nil {
		s.log.Error("failed to schedule redelivery prune job", zap.String("schedule", spec), zap.Error(err))
		return err
	}
	s.log.Info("scheduled redelivery prune job", zap.String("schedule", spec))
	return nil
}

// Start starts the cron scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler; the returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
