package pipeline

import (
	"context"
	"log/slog"
	"time"

	"veil/internal/incident"
	"veil/internal/kanon"
)

// Scheduler drives the periodic maintenance the pipeline needs but must
// not run on its event path: bucket expiry sweeps and incident scans.
type Scheduler struct {
	engine   *kanon.Engine
	detector *incident.Detector

	sweepInterval time.Duration
	scanInterval  time.Duration
	logger        *slog.Logger
}

// NewScheduler constructs a scheduler over the bucket arena and the
// incident detector.
func NewScheduler(engine *kanon.Engine, detector *incident.Detector,
	sweepInterval, scanInterval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		engine:        engine,
		detector:      detector,
		sweepInterval: sweepInterval,
		scanInterval:  scanInterval,
		logger:        logger,
	}
}

// Run ticks until the context is canceled. Blocking; callers run it in a
// goroutine or an errgroup.
func (s *Scheduler) Run(ctx context.Context) error {
	sweep := time.NewTicker(s.sweepInterval)
	defer sweep.Stop()
	scan := time.NewTicker(s.scanInterval)
	defer scan.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sweep.C:
			s.RunSweep(ctx)
		case <-scan.C:
			s.RunScan(ctx)
		}
	}
}

// RunSweep expires stale buckets once.
func (s *Scheduler) RunSweep(ctx context.Context) {
	if expired := s.engine.Sweep(ctx); expired > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "bucket sweep", "expired", expired)
	}
}

// RunScan runs one incident scan.
func (s *Scheduler) RunScan(ctx context.Context) {
	s.detector.Scan(ctx)
}
