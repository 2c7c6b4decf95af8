package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/miradorstack/mirador-heal/internal/metrics"
)

// serviceDiscoveryWindow bounds which services count as active enough
// to sweep.
const serviceDiscoveryWindow = 24 * time.Hour

// Scheduler drives periodic sweeps across every active service.
type Scheduler struct {
	orchestrator *Orchestrator
	interval     time.Duration
	logger       *slog.Logger
	inFlight     atomic.Bool
}

func NewScheduler(orchestrator *Orchestrator, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scheduler{orchestrator: orchestrator, interval: interval, logger: logger}
}

// Run sweeps once immediately, then on every tick until the context is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep analyses every active service once and then runs maintenance.
// Only one sweep runs at a time; an overlapping request is dropped,
// not queued, so a slow sweep never builds a backlog.
func (s *Scheduler) Sweep(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		metrics.ObserveAnalysisSkipped()
		s.logger.Warn("sweep already in flight, skipping")
		return
	}
	defer s.inFlight.Store(false)

	services, err := s.orchestrator.store.GetServices(ctx, time.Now().UTC().Add(-serviceDiscoveryWindow))
	if err != nil {
		s.logger.Error("service discovery failed", "error", err)
		return
	}

	for _, service := range services {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.orchestrator.RunFullAnalysis(ctx, service); err != nil {
			s.logger.Error("analysis sweep failed", "service", service, "error", err)
		}
	}

	if err := s.orchestrator.RunMaintenance(ctx); err != nil {
		s.logger.Error("maintenance pass failed", "error", err)
	}
}
