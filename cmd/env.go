package main

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-enricher/internal/pipeline"
	"github.com/sells-group/lead-enricher/internal/poller"
	"github.com/sells-group/lead-enricher/internal/queue"
	"github.com/sells-group/lead-enricher/internal/resilience"
	"github.com/sells-group/lead-enricher/internal/scorer"
	"github.com/sells-group/lead-enricher/internal/store"
	"github.com/sells-group/lead-enricher/pkg/brightdata"
	"github.com/sells-group/lead-enricher/pkg/objstore"
)

const (
	serviceBrightData = "brightdata"
	serviceAnthropic  = "anthropic"
)

// initStore opens the configured store backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "leads.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the store. Callers close it.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initQueue connects to Redis and returns the job queue over it.
func initQueue(ctx context.Context) (*queue.Queue, *redis.Client, error) {
	rdb, err := queue.NewRedisClient(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, nil, err
	}
	q := queue.New(rdb, queue.Config{
		Name:         cfg.Queue.Name,
		Visibility:   cfg.Queue.Visibility(),
		BlockTimeout: cfg.Queue.BlockTimeout(),
	})
	return q, rdb, nil
}

// initObjects opens the delivery bucket, or a local directory in
// development.
func initObjects(ctx context.Context) (objstore.Store, func() error, error) {
	switch cfg.Delivery.Type {
	case "local":
		s, err := objstore.NewLocal(cfg.Delivery.LocalDir)
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { return nil }, nil
	case "gcs", "":
		s, err := objstore.NewGCS(ctx, objstore.GCSConfig{
			Bucket:      cfg.Delivery.Bucket,
			Credentials: cfg.Delivery.Credentials,
			Endpoint:    cfg.Delivery.Endpoint,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, eris.Errorf("unsupported delivery type: %s", cfg.Delivery.Type)
	}
}

func retryConfig() resilience.RetryConfig {
	r := cfg.Resilience
	return resilience.FromRetryConfig(
		r.MaxRetries,
		time.Duration(r.InitialBackoffMs)*time.Millisecond,
		time.Duration(r.MaxBackoffMs)*time.Millisecond,
		r.BackoffMultiplier,
		r.JitterFraction,
	)
}

func circuitConfig() resilience.CircuitBreakerConfig {
	return resilience.FromCircuitConfig(
		cfg.Resilience.CircuitThreshold,
		time.Duration(cfg.Resilience.CircuitResetTimeoutMs)*time.Millisecond,
	)
}

// initJudge returns the Claude judge, or nil when no key is configured.
func initJudge(breakers *resilience.ServiceBreakers) scorer.Judge {
	j, err := scorer.NewAnthropicJudgeFromKey(cfg.Anthropic.Key, scorer.JudgeConfig{
		Model:         cfg.Anthropic.Model,
		MaxTokens:     cfg.Anthropic.MaxTokens,
		Temperature:   cfg.Anthropic.Temperature,
		RatePerSecond: cfg.Anthropic.RatePerSecond,
		Burst:         cfg.Anthropic.Burst,
	}, scorer.WithBreaker(breakers.Get(serviceAnthropic)), scorer.WithRetry(retryConfig()))
	if err != nil {
		zap.L().Warn("anthropic judge disabled, rubric scoring will fail", zap.Error(err))
		return nil
	}
	return j
}

// initVendor builds the Bright Data client behind its own breaker. Only
// vendor-side failures count toward opening it.
func initVendor() (brightdata.Client, *resilience.CircuitBreaker) {
	cbCfg := circuitConfig()
	cbCfg.ShouldTrip = pipeline.VendorTrips
	cbCfg.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("brightdata: circuit state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	cb := resilience.NewCircuitBreaker(cbCfg)

	opts := []brightdata.Option{
		brightdata.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.BrightData.TimeoutSecs) * time.Second}),
	}
	if cfg.BrightData.BaseURL != "" {
		opts = append(opts, brightdata.WithBaseURL(cfg.BrightData.BaseURL))
	}
	client := brightdata.NewClient(brightdata.Config{
		APIKey:    cfg.BrightData.Key,
		DatasetID: cfg.BrightData.DatasetID,
		Delivery: brightdata.Delivery{
			Type:      cfg.Delivery.Type,
			Bucket:    cfg.Delivery.Bucket,
			Directory: cfg.Delivery.Directory,
		},
	}, opts...)
	return pipeline.GuardVendor(client, cb), cb
}

// appEnv holds everything a long-running command needs.
type appEnv struct {
	Store     store.Store
	Queue     *queue.Queue // nil for store-only commands
	Objects   objstore.Store
	Pipeline  *pipeline.Pipeline
	Qualifier *scorer.Qualifier
	Breakers  *resilience.ServiceBreakers
	vendorCB  *resilience.CircuitBreaker
	closers   []func() error
}

// BreakerStates reports every circuit breaker for the health check.
func (e *appEnv) BreakerStates() map[string]string {
	states := e.Breakers.States()
	if e.vendorCB != nil {
		states[serviceBrightData] = e.vendorCB.State().String()
	}
	return states
}

// Close releases resources in reverse order of acquisition.
func (e *appEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			zap.L().Warn("close resource", zap.Error(err))
		}
	}
}

type envOptions struct {
	queue   bool
	objects bool
}

// initEnv validates config for mode, then opens the store and whatever
// else the mode needs, and builds the pipeline. Callers defer env.Close().
func initEnv(ctx context.Context, mode string, opts envOptions) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{
		Store:    st,
		Breakers: resilience.NewServiceBreakers(circuitConfig()),
		closers:  []func() error{st.Close},
	}

	if opts.queue {
		q, rdb, err := initQueue(ctx)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.Queue = q
		env.closers = append(env.closers, rdb.Close)
	}

	var poll pipeline.Poller
	if opts.objects {
		objects, closeObjects, err := initObjects(ctx)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.Objects = objects
		env.closers = append(env.closers, closeObjects)
		poll = poller.New(objects, poller.Config{
			InitialDelay: cfg.Poller.InitialDelay(),
			Multiplier:   cfg.Poller.Multiplier,
			MaxDelay:     cfg.Poller.MaxDelay(),
			MaxAttempts:  cfg.Poller.MaxAttempts,
			Directory:    cfg.Delivery.Directory,
		})
	}

	vendor, vendorCB := initVendor()
	env.vendorCB = vendorCB
	env.Qualifier = scorer.NewQualifier(initJudge(env.Breakers), st, cfg.Pipeline.QualifyConcurrency)
	env.Pipeline = pipeline.New(pipeline.Config{
		Concurrency:       cfg.Pipeline.Concurrency,
		JobTimeout:        cfg.Pipeline.JobTimeout(),
		DeliveryDirectory: cfg.Delivery.Directory,
	}, st, vendor, poll, env.Objects, env.Qualifier)

	return env, nil
}
