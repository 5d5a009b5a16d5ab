package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"go.uber.org/zap"

	"github.com/sells-group/lead-enricher/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker evaluates a metrics snapshot on a fixed interval and posts any
// triggered alerts. An alert type that already fired is held back until one
// interval has passed without it, so a stuck queue does not page every tick.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	clk       clock.Clock

	mu     sync.Mutex
	active map[AlertType]bool
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithClock replaces the wall clock, for tests.
func WithClock(c clock.Clock) CheckerOption {
	return func(ch *Checker) { ch.clk = c }
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig, opts ...CheckerOption) *Checker {
	c := &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		clk:       clock.New(),
		active:    make(map[AlertType]bool),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Checker) interval() time.Duration {
	if d := time.Duration(c.cfg.CheckIntervalSecs) * time.Second; d > 0 {
		return d
	}
	return defaultCheckInterval
}

// Run blocks until ctx is cancelled, checking once per interval.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting alert checker",
		zap.Duration("interval", c.interval()),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	ticker := c.clk.Ticker(c.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

// check returns the number of alerts delivered.
func (c *Checker) check(ctx context.Context, log *zap.Logger) int {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("monitoring: collect metrics", zap.Error(err))
		return 0
	}

	log.Debug("monitoring: snapshot",
		zap.Int("jobs_total", snap.JobsTotal),
		zap.Int("jobs_failed", snap.JobsFailed),
		zap.Int("jobs_in_progress", snap.JobsInProgress),
		zap.Float64("coverage", snap.Coverage),
		zap.Int64("queue_pending", snap.QueuePending),
		zap.Int("dlq_depth", snap.DLQDepth),
	)

	fresh := c.filterActive(c.alerter.Evaluate(snap))
	if len(fresh) == 0 {
		return 0
	}

	sent := c.alerter.SendAlerts(ctx, fresh)
	log.Info("monitoring: alerts sent",
		zap.Int("alerts_triggered", len(fresh)),
		zap.Int("alerts_sent", sent),
	)
	return sent
}

// filterActive drops alerts that were already raised on the previous check
// and clears types that have since recovered.
func (c *Checker) filterActive(alerts []Alert) []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[AlertType]bool, len(alerts))
	var fresh []Alert
	for _, a := range alerts {
		seen[a.Type] = true
		if !c.active[a.Type] {
			fresh = append(fresh, a)
		}
	}
	c.active = seen
	return fresh
}
