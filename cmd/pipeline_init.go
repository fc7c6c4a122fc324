package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/esg-extract/internal/aiextract"
	"github.com/sells-group/esg-extract/internal/api"
	"github.com/sells-group/esg-extract/internal/cost"
	"github.com/sells-group/esg-extract/internal/health"
	"github.com/sells-group/esg-extract/internal/heuristic"
	"github.com/sells-group/esg-extract/internal/monitoring"
	"github.com/sells-group/esg-extract/internal/pipeline"
	"github.com/sells-group/esg-extract/internal/resilience"
	"github.com/sells-group/esg-extract/internal/store"
	"github.com/sells-group/esg-extract/internal/textextract"
	"github.com/sells-group/esg-extract/pkg/anthropic"
)

// pipelineEnv holds the store, the pipeline and its collaborators needed
// by the extract and serve commands.
type pipelineEnv struct {
	Store     store.Store
	Pipeline  *pipeline.Pipeline
	Health    *health.Checker // nil when health checks are disabled
	Collector *monitoring.Collector
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// healthChecker returns the checker as an interface, nil when disabled.
func (pe *pipelineEnv) healthChecker() api.HealthChecker {
	if pe.Health == nil {
		return nil
	}
	return pe.Health
}

func newAnthropicClient() (anthropic.Client, error) {
	if cfg.Anthropic.Key == "" {
		return nil, eris.New("anthropic API key is required (ESG_ANTHROPIC_KEY)")
	}
	return anthropic.NewClient(anthropic.Config{
		APIKey:         cfg.Anthropic.Key,
		BaseURL:        cfg.Anthropic.BaseURL,
		RequestTimeout: secs(cfg.Anthropic.AttemptTimeoutSecs),
	}), nil
}

func newHealthChecker(client anthropic.Client) *health.Checker {
	return health.NewChecker(client, health.Config{
		Model:    cfg.Anthropic.Model,
		Timeout:  secs(cfg.Health.TimeoutSecs),
		CacheTTL: secs(cfg.Health.CacheTTLSecs),
	})
}

// initPipeline sets up the store, the Anthropic client and both
// extraction strategies, and builds the Pipeline. Callers should defer
// env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := newAnthropicClient()
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	aiOpts := []aiextract.Option{
		aiextract.WithCostCalculator(cost.NewCalculator(cost.FromConfig(cfg.Pricing))),
	}
	if cbCfg := resilience.FromCircuitConfig(cfg.Circuit.FailureThreshold, cfg.Circuit.ResetTimeoutSecs); cbCfg != nil {
		cbCfg.OnStateChange = resilience.StateLogger("anthropic")
		aiOpts = append(aiOpts, aiextract.WithBreaker(resilience.NewCircuitBreaker(*cbCfg)))
	}

	ai := aiextract.New(client, aiextract.Config{
		Model:          cfg.Anthropic.Model,
		MaxTokens:      cfg.Anthropic.MaxTokens,
		Temperature:    cfg.Anthropic.Temperature,
		AttemptTimeout: secs(cfg.Anthropic.AttemptTimeoutSecs),
		MaxInputChars:  cfg.Anthropic.MaxInputChars,
		Retry: resilience.FromRetryConfig(
			cfg.Retry.MaxAttempts,
			cfg.Retry.InitialBackoffMs,
			cfg.Retry.MaxBackoffMs,
			cfg.Retry.Multiplier,
			cfg.Retry.JitterFraction,
		),
	}, aiOpts...)

	env := &pipelineEnv{
		Store:     st,
		Collector: monitoring.NewCollector(st),
	}

	pipeOpts := []pipeline.Option{
		pipeline.WithPriorLookup(st),
		pipeline.WithRunRecorder(st),
	}
	if cfg.Health.Enabled {
		env.Health = newHealthChecker(client)
		pipeOpts = append(pipeOpts, pipeline.WithHealth(env.Health))
	}

	env.Pipeline = pipeline.New(
		textextract.NewRegistry(cfg.Extract.PDFMaxPages),
		ai,
		heuristic.New(),
		pipeline.Config{
			FallbackEnabled: cfg.Extract.FallbackEnabled,
			MaxUploadBytes:  cfg.Extract.MaxUploadBytes,
			FallbackReserve: secs(cfg.Extract.FallbackReserveSecs),
		},
		pipeOpts...,
	)

	zap.L().Debug("pipeline initialized",
		zap.String("model", cfg.Anthropic.Model),
		zap.String("store", cfg.Store.Driver),
		zap.Bool("health_checks", cfg.Health.Enabled),
		zap.Bool("fallback", cfg.Extract.FallbackEnabled),
	)

	return env, nil
}

func secs(n int) time.Duration {
	return time.Duration(n) * time.Second
}
