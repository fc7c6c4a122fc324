package model

import "time"

// State is a step of the extraction state machine.
type State string

const (
	StateReceived      State = "received"
	StateTextExtracted State = "text_extracted"
	StateAIAttempted   State = "ai_attempted"
	StateSuccess       State = "success"
	StateFallbackUsed  State = "fallback_used"
	StateFailed        State = "failed"
)

// IsTerminal reports whether s ends the state machine.
func (s State) IsTerminal() bool {
	switch s {
	case StateSuccess, StateFallbackUsed, StateFailed:
		return true
	default:
		return false
	}
}

// ExtractionRun is the audit entry written for every pipeline run.
type ExtractionRun struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Year         int       `json:"year"`
	Filename     string    `json:"filename"`
	MIMEType     string    `json:"mime_type"`
	State        State     `json:"state"`
	Strategy     string    `json:"strategy,omitempty"`
	Attempts     int       `json:"attempts"`
	ErrorCode    ErrorCode `json:"error_code,omitempty"`
	Populated    int       `json:"populated"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	DurationMs   int64     `json:"duration_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	UserID string    `json:"user_id,omitempty"`
	State  State     `json:"state,omitempty"`
	Since  time.Time `json:"since,omitzero"`
	Limit  int       `json:"limit,omitempty"`
}
