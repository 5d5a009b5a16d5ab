// Package scheduler runs the periodic maintenance work of the worker: the
// delivery sweep and queue lease recovery.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-enricher/internal/model"
)

// Task is one scheduled function. Spec uses robfig/cron syntax.
type Task struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Sweeper processes delivery objects outside any job.
type Sweeper interface {
	Sweep(ctx context.Context) (*model.SweepSummary, error)
}

// Recoverer re-queues messages whose lease expired.
type Recoverer interface {
	RecoverExpired(ctx context.Context) (int, error)
}

// SweepTask wraps a Sweeper.
func SweepTask(spec string, s Sweeper) Task {
	return Task{
		Name: "sweep",
		Spec: spec,
		Run: func(ctx context.Context) error {
			sum, err := s.Sweep(ctx)
			if err != nil {
				return err
			}
			if sum.Objects > 0 {
				zap.L().Info("scheduler: sweep complete",
					zap.Int("objects", sum.Objects),
					zap.Int("processed", sum.Processed),
					zap.Int("retained", sum.Retained),
					zap.Int("enriched", sum.Enriched),
				)
			}
			return nil
		},
	}
}

// RecoverTask wraps a Recoverer.
func RecoverTask(spec string, r Recoverer) Task {
	return Task{
		Name: "recover",
		Spec: spec,
		Run: func(ctx context.Context) error {
			n, err := r.RecoverExpired(ctx)
			if n > 0 {
				zap.L().Warn("scheduler: recovered expired messages", zap.Int("count", n))
			}
			return err
		},
	}
}

// Scheduler wraps robfig/cron. A task still running when its next tick
// fires is skipped for that tick.
type Scheduler struct {
	cron  *cron.Cron
	tasks []Task
}

// New creates a Scheduler for tasks.
func New(tasks ...Task) *Scheduler {
	logger := zapLogger{}
	return &Scheduler{
		cron:  cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger))),
		tasks: tasks,
	}
}

// Start registers every task, starts the cron loop and runs each task once
// immediately without waiting for the first tick.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs := make([]cron.Job, 0, len(s.tasks))
	for _, t := range s.tasks {
		job := cron.FuncJob(func() { run(ctx, t) })
		id, err := s.cron.AddJob(t.Spec, job)
		if err != nil {
			return eris.Wrapf(err, "scheduler: add %s (%q)", t.Name, t.Spec)
		}
		jobs = append(jobs, s.cron.Entry(id).WrappedJob)
	}

	s.cron.Start()
	zap.L().Info("scheduler: started", zap.Int("tasks", len(s.tasks)))

	for _, j := range jobs {
		go j.Run()
	}
	return nil
}

// Stop halts the schedule and waits up to timeout for running tasks.
func (s *Scheduler) Stop(timeout time.Duration) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-time.After(timeout):
		zap.L().Warn("scheduler: tasks still running at shutdown")
	}
	zap.L().Info("scheduler: stopped")
}

func run(ctx context.Context, t Task) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	if err := t.Run(ctx); err != nil {
		zap.L().Error("scheduler: task failed", zap.String("task", t.Name), zap.Error(err))
		return
	}
	zap.L().Debug("scheduler: task done", zap.String("task", t.Name), zap.Duration("duration", time.Since(start)))
}

// zapLogger adapts the global zap logger to cron.Logger.
type zapLogger struct{}

func (zapLogger) Info(msg string, keysAndValues ...any) {
	zap.L().Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (zapLogger) Error(err error, msg string, keysAndValues ...any) {
	zap.L().Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
