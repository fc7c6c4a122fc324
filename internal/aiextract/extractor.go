// Package aiextract obtains ESG metrics from a language model with
// exponential-backoff retries, a per-attempt timeout and strict reply
// validation.
package aiextract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/esg-extract/internal/cost"
	"github.com/sells-group/esg-extract/internal/model"
	"github.com/sells-group/esg-extract/internal/resilience"
	"github.com/sells-group/esg-extract/pkg/anthropic"
)

// Kind classifies a terminal extraction failure.
type Kind string

const (
	// KindExhausted means every attempt failed with a retryable error, or
	// the service was known to be down. Callers fall back.
	KindExhausted Kind = "exhausted"
	// KindPermanent means the service rejected the request outright.
	KindPermanent Kind = "permanent"
)

// Error is the terminal error of Extract.
type Error struct {
	Kind     Kind
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("aiextract: %s after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// FallbackAllowed reports whether a degraded strategy may stand in for the
// model. Only exhaustion allows it.
func (e *Error) FallbackAllowed() bool {
	return e.Kind == KindExhausted
}

// IsExhausted reports whether err is an exhausted-retries Error.
func IsExhausted(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindExhausted
}

// IsPermanent reports whether err is a permanent Error.
func IsPermanent(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindPermanent
}

// Config controls the model call.
type Config struct {
	Model          string
	MaxTokens      int64
	Temperature    float64
	AttemptTimeout time.Duration
	MaxInputChars  int
	Retry          resilience.RetryConfig
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithBreaker routes every call through cb.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(e *Extractor) { e.breaker = cb }
}

// WithCostCalculator prices token usage on the returned Extraction.
func WithCostCalculator(c *cost.Calculator) Option {
	return func(e *Extractor) { e.calc = c }
}

// Extractor is the AI extraction strategy.
type Extractor struct {
	client  anthropic.Client
	cfg     Config
	breaker *resilience.CircuitBreaker
	calc    *cost.Calculator
}

// New creates an Extractor.
func New(client anthropic.Client, cfg Config, opts ...Option) *Extractor {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.Retry.ShouldRetry == nil {
		cfg.Retry.ShouldRetry = isClassifiedTransient
	}
	if cfg.Retry.OnRetry == nil {
		cfg.Retry.OnRetry = resilience.RetryLogger("anthropic", "extract")
	}
	e := &Extractor{client: client, cfg: cfg}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Name implements the pipeline strategy interface.
func (e *Extractor) Name() string {
	return model.StrategyAI
}

// Extract runs the retry loop and returns the validated result. The
// returned Extraction is non-nil even on error so callers can log the
// attempts and tokens spent.
func (e *Extractor) Extract(ctx context.Context, text string) (*model.Extraction, error) {
	ext := &model.Extraction{Strategy: model.StrategyAI}

	input, truncated := Truncate(text, e.cfg.MaxInputChars)
	if truncated {
		zap.L().Warn("aiextract: input truncated",
			zap.Int("max_chars", e.cfg.MaxInputChars),
			zap.Int("original_bytes", len(text)),
		)
		ext.Warnings = append(ext.Warnings,
			fmt.Sprintf("document text truncated to %d characters; later content was not analyzed", e.cfg.MaxInputChars))
	}

	req := anthropic.MessageRequest{
		Model:       e.cfg.Model,
		MaxTokens:   e.cfg.MaxTokens,
		System:      systemPrompt,
		Messages:    []anthropic.Message{{Role: "user", Content: BuildPrompt(input)}},
		Temperature: &e.cfg.Temperature,
	}

	var usage anthropic.TokenUsage
	result, st, err := resilience.Run(ctx, e.cfg.Retry, func(ctx context.Context) (*model.ESGExtractionResult, error) {
		return e.attempt(ctx, req, &usage)
	})

	ext.Attempts = st.Attempt
	ext.InputTokens = usage.InputTokens
	ext.OutputTokens = usage.OutputTokens
	ext.CostUSD = e.calc.Claude(e.cfg.Model, usage.InputTokens, usage.OutputTokens)

	if err != nil {
		if ctx.Err() != nil {
			return ext, eris.Wrap(ctx.Err(), "aiextract: cancelled")
		}
		kind := KindPermanent
		if isClassifiedTransient(err) || errors.Is(err, resilience.ErrCircuitOpen) {
			kind = KindExhausted
		}
		zap.L().Warn("aiextract: extraction failed",
			zap.String("kind", string(kind)),
			zap.Int("attempts", st.Attempt),
			zap.Duration("waited", st.Waited),
			zap.Error(err),
		)
		return ext, &Error{Kind: kind, Attempts: st.Attempt, Err: err}
	}

	ext.Result = result
	zap.L().Info("aiextract: extraction succeeded",
		zap.Int("attempts", st.Attempt),
		zap.Int("populated", result.Populated()),
		zap.Int64("input_tokens", usage.InputTokens),
		zap.Int64("output_tokens", usage.OutputTokens),
	)
	return ext, nil
}

// attempt makes one model call and parses the reply. Unparseable replies
// are returned as transient so the retry loop tries again.
func (e *Extractor) attempt(ctx context.Context, req anthropic.MessageRequest, usage *anthropic.TokenUsage) (*model.ESGExtractionResult, error) {
	call := func(ctx context.Context) (*anthropic.MessageResponse, error) {
		actx := ctx
		if e.cfg.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, e.cfg.AttemptTimeout)
			defer cancel()
		}
		resp, err := e.client.CreateMessage(actx, req)
		if err != nil {
			return nil, classify(ctx, actx, err)
		}
		return resp, nil
	}

	var (
		resp *anthropic.MessageResponse
		err  error
	)
	if e.breaker != nil {
		resp, err = resilience.ExecuteVal(ctx, e.breaker, call)
	} else {
		resp, err = call(ctx)
	}
	if err != nil {
		return nil, err
	}
	usage.Add(resp.Usage)

	switch r := ParseReply(resp.Text()).(type) {
	case ParsedOK:
		return r.Result, nil
	case ParseFailed:
		zap.L().Warn("aiextract: unusable model reply", zap.String("reason", r.Reason))
		return nil, resilience.NewTransientError(eris.Errorf("aiextract: unusable reply: %s", r.Reason), 0)
	default:
		return nil, eris.Errorf("aiextract: unexpected parse result %T", r)
	}
}

// isClassifiedTransient accepts only errors classify marked transient, so
// a 4xx whose message mentions a rate limit is still permanent.
func isClassifiedTransient(err error) bool {
	var te *resilience.TransientError
	return errors.As(err, &te)
}

// classify marks err transient when the attempt timed out, the API answered
// with a retryable status, or the message signals overload. A known status
// code takes precedence over the message.
func classify(parent, attempt context.Context, err error) error {
	if parent.Err() != nil {
		return err
	}
	if errors.Is(attempt.Err(), context.DeadlineExceeded) {
		return resilience.NewTransientError(eris.Wrap(err, "aiextract: attempt timed out"), 0)
	}
	if status := anthropic.StatusCode(err); status != 0 {
		if resilience.IsTransientHTTPStatus(status) {
			return resilience.NewTransientError(err, status)
		}
		return err
	}
	if resilience.IsTransient(err) {
		return resilience.NewTransientError(err, 0)
	}
	return err
}
