// Package pipeline sequences the preprocessing and model application stages.
// Stages run one after another; the first failure stops the run.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"cityflow/vehown/services"
)

// Stage is one step of a run. It reports the number of rows it produced.
type Stage struct {
	Name string
	Run  func(ctx context.Context) (int, error)
}

// StageError names the stage a run failed in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("stage %q failed: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

// Runner executes stages in order, logging and timing each one.
type Runner struct {
	log     *zap.Logger
	metrics *services.Metrics
}

func NewRunner(logger *zap.Logger, metrics *services.Metrics) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = services.NewMetrics()
	}
	return &Runner{log: logger, metrics: metrics}
}

func (r *Runner) Metrics() *services.Metrics { return r.metrics }

// Run executes stages until one fails or ctx is cancelled between stages.
func (r *Runner) Run(ctx context.Context, stages []Stage) error {
	runStart := time.Now()
	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return &StageError{Stage: s.Name, Err: err}
		}
		r.log.Info("stage started", zap.String("stage", s.Name))
		start := time.Now()
		rows, err := s.Run(ctx)
		elapsed := time.Since(start)
		r.metrics.ObserveStage(s.Name, elapsed, rows, err)
		if err != nil {
			r.log.Error("stage failed", zap.String("stage", s.Name), zap.Duration("elapsed", elapsed), zap.Error(err))
			return &StageError{Stage: s.Name, Err: err}
		}
		r.log.Info("stage completed",
			zap.String("stage", s.Name),
			zap.Int("rows", rows),
			zap.Duration("elapsed", elapsed))
	}
	r.metrics.MarkSuccess(time.Now())
	r.log.Info("run completed", zap.Int("stages", len(stages)), zap.Duration("elapsed", time.Since(runStart)))
	return nil
}
