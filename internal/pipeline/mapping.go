package pipeline

import (
	"math"

	"github.com/sells-group/esg-extract/internal/model"
)

// MapRecord translates an extraction result into the flat record shape.
// Only carbon emissions, electricity (from energy usage) and board
// independence map directly. Female headcount is derived from the
// representation percent when prior already holds total employees. Every
// other field stays nil for manual entry.
func MapRecord(result *model.ESGExtractionResult, prior *model.Record) model.Record {
	var rec model.Record
	if result == nil {
		return rec
	}

	if v, ok := result.Value(model.KeyCarbonEmissions); ok {
		rec.CarbonEmissions = model.Float(v)
	}
	if v, ok := result.Value(model.KeyEnergyUsage); ok {
		rec.TotalElectricityConsumption = model.Float(v)
	}
	if v, ok := result.Value(model.KeyBoardIndependence); ok {
		rec.IndependentBoardMembersPercent = model.Float(v)
	}
	if pct, ok := result.Value(model.KeyFemaleRepresentation); ok && prior != nil && prior.TotalEmployees != nil {
		rec.FemaleEmployees = model.Int(int(math.Round(pct / 100 * float64(*prior.TotalEmployees))))
	}

	return rec
}
