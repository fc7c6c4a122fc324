// Package heuristic extracts ESG metrics from plain text with fixed
// keyword/number/unit patterns. It backs the pipeline when the AI path is
// unavailable and trades recall for having no external dependency.
package heuristic

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/esg-extract/internal/model"
)

// number matches "45,670", "125.3" or "12". The gap before it excludes
// digits so the first number after the keyword is taken.
const number = `((?:\d{1,3}(?:,\d{3})+|\d+)(?:\.\d+)?)`

type rule struct {
	key     model.MetricKey
	pattern *regexp.Regexp
	// scale maps a lower-cased unit capture to a multiplier into the
	// canonical unit. Units not listed use 1.
	scale map[string]float64
}

func newRule(key model.MetricKey, keyword, unit string, scale map[string]float64) rule {
	expr := `(?i)\b(?:` + keyword + `)[^\d]{0,80}?` + number + `\s*(` + unit + `)`
	return rule{key: key, pattern: regexp.MustCompile(expr), scale: scale}
}

var rules = []rule{
	newRule(model.KeyCarbonEmissions,
		`carbon|co2e?\s+emissions|ghg|greenhouse\s+gas`,
		`(?:metric\s+)?(?:tonnes|tons|tco2e?|t)\b`, nil),
	newRule(model.KeyWaterConsumption,
		`water`,
		`cubic\s+met(?:er|re)s?|m3|m³|megalit(?:er|re)s?`,
		map[string]float64{"megaliters": 1000, "megalitres": 1000, "megaliter": 1000, "megalitre": 1000}),
	newRule(model.KeyEnergyUsage,
		`energy|electricity`,
		`[kmg]wh\b`,
		map[string]float64{"mwh": 1e3, "gwh": 1e6}),
	newRule(model.KeyWasteGenerated,
		`waste`,
		`(?:metric\s+)?(?:tonnes|tons|t)\b`, nil),
	newRule(model.KeyEmployeeTurnoverRate,
		`turnover|attrition`,
		`%|percent\b`, nil),
	newRule(model.KeyWorkplaceAccidents,
		`accidents?|injuries|recordable\s+incidents`,
		`(?:accidents?|incidents?|injuries|cases|recorded|recordables?)\b`, nil),
	newRule(model.KeyFemaleRepresentation,
		`female|women`,
		`%|percent\b`, nil),
	newRule(model.KeyBoardIndependence,
		`independen(?:t|ce)`,
		`%|percent\b`, nil),
}

// Extractor is the pattern-based extraction strategy. It holds no state;
// the same text always yields the same result.
type Extractor struct{}

// New creates an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Name implements the pipeline strategy interface.
func (e *Extractor) Name() string {
	return model.StrategyHeuristic
}

// Extract implements the pipeline strategy interface. It never fails.
func (e *Extractor) Extract(_ context.Context, text string) (*model.Extraction, error) {
	return &model.Extraction{
		Result:   Extract(text),
		Strategy: model.StrategyHeuristic,
	}, nil
}

// Extract returns a fully shaped result. For each metric the first match in
// text wins; metrics without a match stay null. Minority representation and
// executive compensation ratio are never filled.
func Extract(text string) *model.ESGExtractionResult {
	out := model.NewESGExtractionResult()
	for _, r := range rules {
		v, ok := r.match(text)
		if ok {
			out.Set(r.key, v)
		}
	}
	return out
}

func (r rule) match(text string) (float64, bool) {
	m := r.pattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	v, err := parseNumber(m[1])
	if err != nil {
		return 0, false
	}
	if f, ok := r.scale[strings.ToLower(strings.TrimSpace(m[2]))]; ok {
		v *= f
	}
	return v, true
}

func parseNumber(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
}
