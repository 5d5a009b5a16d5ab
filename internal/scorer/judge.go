package scorer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-enricher/internal/model"
	"github.com/sells-group/lead-enricher/internal/resilience"
	"github.com/sells-group/lead-enricher/pkg/anthropic"
)

// ErrJudgeNotConfigured is returned when no judge credentials are set.
var ErrJudgeNotConfigured = eris.New("scorer: judge not configured")

// Judge scores one enrichment payload against one rubric.
type Judge interface {
	Score(ctx context.Context, payload json.RawMessage, rubric *model.Rubric) (*Verdict, error)
}

// JudgeConfig configures an AnthropicJudge.
type JudgeConfig struct {
	Model       string
	MaxTokens   int64
	Temperature float64
	// RatePerSecond and Burst bound judge calls across all workers.
	RatePerSecond float64
	Burst         int
}

func (c JudgeConfig) withDefaults() JudgeConfig {
	if c.Model == "" {
		c.Model = "claude-sonnet-4-5-20250929"
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1024
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 2
	}
	if c.Burst <= 0 {
		c.Burst = 4
	}
	return c
}

// AnthropicJudge scores with Claude. Calls go through a rate limiter, a
// circuit breaker and a retry loop for transient failures.
type AnthropicJudge struct {
	client  anthropic.Client
	cfg     JudgeConfig
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
	limiter *resilience.AdaptiveLimiter
}

// JudgeOption configures an AnthropicJudge.
type JudgeOption func(*AnthropicJudge)

// WithBreaker shares a circuit breaker, typically from
// resilience.ServiceBreakers.
func WithBreaker(cb *resilience.CircuitBreaker) JudgeOption {
	return func(j *AnthropicJudge) { j.breaker = cb }
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) JudgeOption {
	return func(j *AnthropicJudge) { j.retry = cfg }
}

// NewAnthropicJudge creates a judge backed by client. A nil client means
// the judge has no credentials.
func NewAnthropicJudge(client anthropic.Client, cfg JudgeConfig, opts ...JudgeOption) (*AnthropicJudge, error) {
	if client == nil {
		return nil, ErrJudgeNotConfigured
	}
	cfg = cfg.withDefaults()
	j := &AnthropicJudge{
		client:  client,
		cfg:     cfg,
		breaker: resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
		retry:   resilience.DefaultRetryConfig(),
		limiter: resilience.NewAdaptiveLimiter(cfg.RatePerSecond, cfg.Burst),
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.retry.OnRetry == nil {
		j.retry.OnRetry = resilience.RetryLogger("anthropic", "qualify")
	}
	j.retry.ShouldRetry = func(err error) bool {
		return !errors.Is(err, resilience.ErrCircuitOpen) && resilience.IsTransient(err)
	}
	return j, nil
}

// NewAnthropicJudgeFromKey builds the SDK client from apiKey.
func NewAnthropicJudgeFromKey(apiKey string, cfg JudgeConfig, opts ...JudgeOption) (*AnthropicJudge, error) {
	if apiKey == "" {
		return nil, ErrJudgeNotConfigured
	}
	return NewAnthropicJudge(anthropic.NewClient(apiKey), cfg, opts...)
}

// Score asks the judge for a verdict. A response without a parseable score
// is returned as an error wrapping ErrNoJSON or ErrBadVerdict.
func (j *AnthropicJudge) Score(ctx context.Context, payload json.RawMessage, rubric *model.Rubric) (*Verdict, error) {
	prompt, err := BuildPrompt(payload, rubric)
	if err != nil {
		return nil, err
	}

	temp := j.cfg.Temperature
	req := anthropic.MessageRequest{
		Model:       j.cfg.Model,
		MaxTokens:   j.cfg.MaxTokens,
		System:      []anthropic.SystemBlock{{Text: systemPrompt, CacheControl: &anthropic.CacheControl{TTL: "5m"}}},
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
	}

	resp, err := resilience.DoVal(ctx, j.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		if err := j.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "scorer: rate limit wait")
		}
		return resilience.ExecuteVal(ctx, j.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			resp, err := j.client.CreateMessage(ctx, req)
			if err != nil {
				status := anthropic.StatusCode(err)
				if status == http.StatusTooManyRequests {
					j.limiter.OnRateLimit()
				}
				// 529 is Anthropic's overloaded status.
				if status == 529 {
					return nil, resilience.NewTransientError(err, status)
				}
				return nil, resilience.ClassifyHTTP(err, status)
			}
			j.limiter.OnSuccess()
			return resp, nil
		})
	})
	if err != nil {
		return nil, eris.Wrapf(err, "scorer: judge rubric %d", rubric.ID)
	}

	resp.Usage.LogCost(j.cfg.Model, "qualify")

	v, err := ParseVerdict(resp.Text())
	if err != nil {
		zap.L().Warn("scorer: unparseable judge response",
			zap.Int64("rubric_id", rubric.ID),
			zap.String("stop_reason", resp.StopReason),
			zap.Error(err),
		)
		return nil, eris.Wrapf(err, "scorer: parse verdict for rubric %d", rubric.ID)
	}
	return v, nil
}
