// Package schedule triggers periodic ingestion runs via cron.
package schedule

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/proofoffit/jobfeed-ingest/internal/ingest"
)

// Runner executes one ingestion cycle.
type Runner interface {
	Run(ctx context.Context) (ingest.RunResult, error)
}

// Scheduler fires the runner on a cron spec. Overlap protection comes from
// the distributed lock, not from the scheduler: a tick that lands while a
// run is in flight simply comes back skipped.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
}

// New builds a Scheduler from a standard five-field cron spec.
func New(spec string, runner Runner, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		result, err := runner.Run(context.Background())
		if err != nil {
			logger.Error("scheduled ingestion run failed", zap.Error(err))
			return
		}
		logger.Info("scheduled ingestion run finished",
			zap.String("run_id", result.RunID),
			zap.String("status", string(result.Status)))
	})
	if err != nil {
		return nil, fmt.Errorf("parse cron spec %q: %w", spec, err)
	}
	return &Scheduler{cron: c, logger: logger}, nil
}

// Start begins firing ticks in a background goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts future ticks and waits for the in-flight one to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
