// Package monitoring summarizes the extraction run log and raises alerts
// when fallback, failure or spend cross configured thresholds.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/esg-extract/internal/model"
)

// maxRunsPerWindow bounds a single collection.
const maxRunsPerWindow = 10000

// MetricsSnapshot holds a point-in-time view of extraction outcomes.
type MetricsSnapshot struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Fallback  int `json:"fallback"`
	Failed    int `json:"failed"`

	// Rates are over finished runs.
	FallbackRate float64 `json:"fallback_rate"`
	FailureRate  float64 `json:"failure_rate"`

	AIAttempts   int     `json:"ai_attempts"`
	AvgAttempts  float64 `json:"avg_attempts"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	AvgPopulated float64 `json:"avg_populated"`

	ErrorCodes map[model.ErrorCode]int `json:"error_codes,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Finished is the number of runs that reached a terminal state.
func (s *MetricsSnapshot) Finished() int {
	return s.Succeeded + s.Fallback + s.Failed
}

// RunLister is the slice of the store the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter model.RunFilter) ([]model.ExtractionRun, error)
}

// Collector gathers metrics from the run log.
type Collector struct {
	runs    RunLister
	nowFunc func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs, nowFunc: time.Now}
}

// Collect gathers a snapshot over the last lookbackHours. A userID narrows
// the snapshot to one user; empty means all users.
func (c *Collector) Collect(ctx context.Context, lookbackHours int, userID string) (*MetricsSnapshot, error) {
	now := c.nowFunc().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	filter := model.RunFilter{UserID: userID, Limit: maxRunsPerWindow}
	if lookbackHours > 0 {
		filter.Since = now.Add(-time.Duration(lookbackHours) * time.Hour)
	}
	runs, err := c.runs.ListRuns(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	var populated int
	for _, r := range runs {
		snap.Total++
		switch r.State {
		case model.StateSuccess:
			snap.Succeeded++
		case model.StateFallbackUsed:
			snap.Fallback++
		case model.StateFailed:
			snap.Failed++
			if r.ErrorCode != "" {
				if snap.ErrorCodes == nil {
					snap.ErrorCodes = make(map[model.ErrorCode]int)
				}
				snap.ErrorCodes[r.ErrorCode]++
			}
		}
		snap.AIAttempts += r.Attempts
		snap.InputTokens += r.InputTokens
		snap.OutputTokens += r.OutputTokens
		snap.CostUSD += r.CostUSD
		populated += r.Populated
	}

	if finished := snap.Finished(); finished > 0 {
		snap.FallbackRate = float64(snap.Fallback) / float64(finished)
		snap.FailureRate = float64(snap.Failed) / float64(finished)
	}
	if snap.Total > 0 {
		snap.AvgAttempts = float64(snap.AIAttempts) / float64(snap.Total)
	}
	if ok := snap.Succeeded + snap.Fallback; ok > 0 {
		snap.AvgPopulated = float64(populated) / float64(ok)
	}

	return snap, nil
}
