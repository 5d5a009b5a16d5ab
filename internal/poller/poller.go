// Package poller waits for a vendor snapshot to land in the object store and
// decodes it. The vendor never notifies on delivery, so the poller checks on
// a capped exponential schedule and gives up after a fixed attempt budget.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/facebookgo/clock"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-enricher/internal/resilience"
	"github.com/sells-group/lead-enricher/pkg/brightdata"
	"github.com/sells-group/lead-enricher/pkg/objstore"
)

// ErrTimeout means the delivery object never appeared within the attempt
// budget. Poll wraps it as a resilience.TransientError.
var ErrTimeout = eris.New("poller: delivery did not appear")

// ParseError means the delivery object exists but cannot be decoded. It is
// not retryable.
type ParseError struct {
	SnapshotID string
	Key        string
	Err        error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("poller: parse snapshot %s (%s): %v", e.SnapshotID, e.Key, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Config controls the polling schedule.
type Config struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	MaxAttempts  int
	// Directory is the delivery prefix inside the bucket.
	Directory string
}

// DefaultConfig waits 5s, then 1.5x longer after each miss up to 30s, for 60
// checks.
func DefaultConfig() Config {
	return Config{
		InitialDelay: 5 * time.Second,
		Multiplier:   1.5,
		MaxDelay:     30 * time.Second,
		MaxAttempts:  60,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.InitialDelay <= 0 {
		c.InitialDelay = def.InitialDelay
	}
	if c.Multiplier < 1 {
		c.Multiplier = def.Multiplier
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	return c
}

// Schedule returns the wait before each check.
func Schedule(cfg Config) []time.Duration {
	cfg = cfg.withDefaults()
	b := resilience.Backoff{Initial: cfg.InitialDelay, Multiplier: cfg.Multiplier, Max: cfg.MaxDelay}
	return b.Series(cfg.MaxAttempts)
}

// Budget is the total time Poll waits before giving up.
func Budget(cfg Config) time.Duration {
	var total time.Duration
	for _, d := range Schedule(cfg) {
		total += d
	}
	return total
}

// Clock is the subset of clock.Clock the poller needs.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Option configures a Poller.
type Option func(*Poller)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(p *Poller) { p.clock = c }
}

// Poller fetches snapshot deliveries from an object store.
type Poller struct {
	store objstore.Store
	cfg   Config
	clock Clock
}

// New creates a Poller reading from store.
func New(store objstore.Store, cfg Config, opts ...Option) *Poller {
	p := &Poller{
		store: store,
		cfg:   cfg.withDefaults(),
		clock: clock.New(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Key returns the object key polled for snapshotID.
func (p *Poller) Key(snapshotID string) string {
	return brightdata.DeliveryKey(p.cfg.Directory, snapshotID)
}

// Poll waits for the delivery of snapshotID and returns its records. Each
// check is preceded by the next wait in the schedule. Missing objects and
// read errors count as misses; a missing bucket ends the poll at once.
func (p *Poller) Poll(ctx context.Context, snapshotID string) ([]brightdata.Record, error) {
	key := p.Key(snapshotID)
	log := zap.L().With(zap.String("snapshot_id", snapshotID), zap.String("key", key))
	start := p.clock.Now()

	for i, delay := range Schedule(p.cfg) {
		select {
		case <-ctx.Done():
			return nil, eris.Wrapf(ctx.Err(), "poller: wait for snapshot %s", snapshotID)
		case <-p.clock.After(delay):
		}

		data, err := p.store.Get(ctx, key)
		if err != nil {
			if ctx.Err() != nil {
				return nil, eris.Wrapf(ctx.Err(), "poller: wait for snapshot %s", snapshotID)
			}
			if errors.Is(err, objstore.ErrBucketNotExist) {
				return nil, eris.Wrapf(err, "poller: snapshot %s", snapshotID)
			}
			if errors.Is(err, objstore.ErrNotExist) {
				log.Debug("poller: not delivered yet", zap.Int("attempt", i+1), zap.Duration("waited", delay))
			} else {
				log.Warn("poller: read failed, treating as miss", zap.Int("attempt", i+1), zap.Error(err))
			}
			continue
		}

		records, err := Decode(data)
		if err != nil {
			log.Error("poller: delivery is not parseable", zap.Int("bytes", len(data)), zap.Error(err))
			return nil, &ParseError{SnapshotID: snapshotID, Key: key, Err: err}
		}

		log.Info("poller: delivery found",
			zap.Int("attempt", i+1),
			zap.Int("records", len(records)),
			zap.Duration("elapsed", p.clock.Now().Sub(start)),
		)
		return records, nil
	}

	return nil, resilience.NewTransientError(
		eris.Wrapf(ErrTimeout, "poller: snapshot %s after %d checks (%s)",
			snapshotID, p.cfg.MaxAttempts, p.clock.Now().Sub(start)),
		0,
	)
}
