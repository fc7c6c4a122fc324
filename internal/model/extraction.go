package model

// Strategy names recorded on runs and outcomes.
const (
	StrategyAI        = "ai"
	StrategyHeuristic = "heuristic"
)

// Extraction is what a strategy returns for one text: the result plus the
// bookkeeping needed for the run log.
type Extraction struct {
	Result       *ESGExtractionResult `json:"result"`
	Strategy     string               `json:"strategy"`
	Attempts     int                  `json:"attempts"`
	InputTokens  int64                `json:"input_tokens,omitempty"`
	OutputTokens int64                `json:"output_tokens,omitempty"`
	CostUSD      float64              `json:"cost_usd,omitempty"`
	Warnings     []string             `json:"warnings,omitempty"`
}
