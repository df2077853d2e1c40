package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// BreachEvaluator persists first-detected SLA breaches.
type BreachEvaluator interface {
	EvaluateBreaches(ctx context.Context, limit int) (int, error)
}

// SLASweeper periodically runs the breach evaluation.
type SLASweeper struct {
	evaluator BreachEvaluator
	interval  time.Duration
	batch     int
	logger    *zap.Logger
}

// NewSLASweeper creates a sweeper. A non-positive interval disables it.
func NewSLASweeper(evaluator BreachEvaluator, interval time.Duration, batch int, logger *zap.Logger) *SLASweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SLASweeper{
		evaluator: evaluator,
		interval:  interval,
		batch:     batch,
		logger:    logger.Named("sla_sweeper"),
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *SLASweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("sla sweep disabled")
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs a single evaluation pass.
func (s *SLASweeper) Sweep(ctx context.Context) {
	updated, err := s.evaluator.EvaluateBreaches(ctx, s.batch)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("sla sweep failed", zap.Error(err))
		}
		return
	}
	if updated > 0 {
		s.logger.Info("sla breaches recorded", zap.Int("tickets", updated))
	}
}
