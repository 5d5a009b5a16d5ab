package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-enricher/internal/monitoring"
	"github.com/sells-group/lead-enricher/internal/pipeline"
	"github.com/sells-group/lead-enricher/internal/queue"
	"github.com/sells-group/lead-enricher/internal/scheduler"
)

var workerConcurrency int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume enrichment jobs and run the scheduled sweep",
	Long: "Runs a pool of queue consumers that drive each job through scrape, enrichment and " +
		"qualification. The same process sweeps out-of-band deliveries, recovers expired " +
		"queue leases and, when enabled, posts monitoring alerts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "worker", envOptions{queue: true, objects: true})
		if err != nil {
			return err
		}
		defer env.Close()

		workers := workerConcurrency
		if workers == 0 {
			workers = cfg.Worker.Concurrency
		}
		consumer := queue.NewConsumer(env.Queue, env.Store, jobHandler(env.Pipeline), queue.ConsumerConfig{
			Workers:     workers,
			MaxAttempts: cfg.Queue.MaxAttempts,
			Retryable:   pipeline.IsRetryable,
			Kind:        func(err error) string { return string(pipeline.Kind(err)) },
		})

		var wg sync.WaitGroup
		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store, env.Queue),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			wg.Add(1)
			go func() {
				defer wg.Done()
				checker.Run(ctx)
			}()
		}

		tasks := []scheduler.Task{scheduler.RecoverTask(cfg.Sweep.RecoverSchedule, env.Queue)}
		if cfg.Sweep.Enabled {
			tasks = append(tasks, scheduler.SweepTask(cfg.Sweep.Schedule, env.Pipeline))
		}
		sched := scheduler.New(tasks...)
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop(shutdownTimeout)

		err = consumer.Run(ctx)
		stop()
		wg.Wait()
		zap.L().Info("worker stopped")
		return err
	},
}

// jobHandler adapts the pipeline to a queue handler. The summary is
// persisted on the job row, so only the error matters here.
func jobHandler(p *pipeline.Pipeline) queue.Handler {
	return func(ctx context.Context, m *queue.Message) error {
		_, err := p.RunJob(ctx, pipeline.RequestFromMessage(m))
		return err
	}
}

func init() {
	workerCmd.Flags().IntVar(&workerConcurrency, "concurrency", 0, "concurrent jobs (default from config)")
	rootCmd.AddCommand(workerCmd)
}
