// Package health probes AI service availability before the pipeline spends
// a retry budget on it.
package health

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/esg-extract/pkg/anthropic"
)

const (
	probePrompt   = "reply with OK"
	expectedToken = "OK"
)

// Status is the outcome of one probe.
type Status struct {
	Up        bool          `json:"up"`
	Reply     string        `json:"reply,omitempty"`
	Error     string        `json:"error,omitempty"`
	Latency   time.Duration `json:"latency_ns"`
	CheckedAt time.Time     `json:"checked_at"`
	Cached    bool          `json:"cached"`
}

// Config configures a Checker.
type Config struct {
	Model    string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// Checker sends a trivial prompt and reports the service up only when the
// reply contains OK. A probe makes exactly one call.
type Checker struct {
	client anthropic.Client
	cfg    Config

	mu      sync.Mutex
	last    *Status
	nowFunc func() time.Time
}

// NewChecker creates a Checker. A zero CacheTTL probes on every Check.
func NewChecker(client anthropic.Client, cfg Config) *Checker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Checker{client: client, cfg: cfg, nowFunc: time.Now}
}

// Check returns the cached status while it is fresh and probes otherwise.
func (c *Checker) Check(ctx context.Context) Status {
	c.mu.Lock()
	if c.last != nil && c.cfg.CacheTTL > 0 && c.nowFunc().Sub(c.last.CheckedAt) < c.cfg.CacheTTL {
		s := *c.last
		c.mu.Unlock()
		s.Cached = true
		return s
	}
	c.mu.Unlock()

	s := c.Probe(ctx)

	c.mu.Lock()
	c.last = &s
	c.mu.Unlock()
	return s
}

// Up is Check reduced to a bool.
func (c *Checker) Up(ctx context.Context) bool {
	return c.Check(ctx).Up
}

// Probe calls the service once, bypassing the cache.
func (c *Checker) Probe(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := c.nowFunc()
	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     c.cfg.Model,
		MaxTokens: 8,
		Messages:  []anthropic.Message{{Role: "user", Content: probePrompt}},
	})
	s := Status{CheckedAt: c.nowFunc()}
	s.Latency = s.CheckedAt.Sub(start)

	if err != nil {
		s.Error = err.Error()
		zap.L().Warn("health: ai probe failed", zap.Error(err), zap.Duration("latency", s.Latency))
		return s
	}

	s.Reply = strings.TrimSpace(resp.Text())
	s.Up = strings.Contains(s.Reply, expectedToken)
	if !s.Up {
		zap.L().Warn("health: unexpected ai probe reply", zap.String("reply", s.Reply))
	}
	return s
}
