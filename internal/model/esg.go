package model

import "math"

// Canonical units for every leaf metric. Both extraction paths emit these
// regardless of what the source document used.
const (
	UnitTonnesCO2e  = "tonnes CO2e"
	UnitCubicMeters = "cubic meters"
	UnitKWh         = "kWh"
	UnitTonnes      = "tonnes"
	UnitPercent     = "%"
	UnitCount       = "count"
	UnitRatio       = "ratio"
)

// MetricKey is the dotted path of a leaf metric in ESGExtractionResult.
type MetricKey string

const (
	KeyCarbonEmissions            MetricKey = "environmental.carbon_emissions"
	KeyWaterConsumption           MetricKey = "environmental.water_consumption"
	KeyEnergyUsage                MetricKey = "environmental.energy_usage"
	KeyWasteGenerated             MetricKey = "environmental.waste_generated"
	KeyEmployeeTurnoverRate       MetricKey = "social.employee_turnover_rate"
	KeyWorkplaceAccidents         MetricKey = "social.workplace_accidents"
	KeyFemaleRepresentation       MetricKey = "social.diversity_and_inclusion.female_representation"
	KeyMinorityRepresentation     MetricKey = "social.diversity_and_inclusion.minority_representation"
	KeyBoardIndependence          MetricKey = "governance.board_independence"
	KeyExecutiveCompensationRatio MetricKey = "governance.executive_compensation_ratio"
)

// MetricKeys lists every leaf in schema order.
var MetricKeys = []MetricKey{
	KeyCarbonEmissions,
	KeyWaterConsumption,
	KeyEnergyUsage,
	KeyWasteGenerated,
	KeyEmployeeTurnoverRate,
	KeyWorkplaceAccidents,
	KeyFemaleRepresentation,
	KeyMinorityRepresentation,
	KeyBoardIndependence,
	KeyExecutiveCompensationRatio,
}

// CanonicalUnit returns the unit string the schema fixes for key.
func CanonicalUnit(key MetricKey) string {
	switch key {
	case KeyCarbonEmissions:
		return UnitTonnesCO2e
	case KeyWaterConsumption:
		return UnitCubicMeters
	case KeyEnergyUsage:
		return UnitKWh
	case KeyWasteGenerated:
		return UnitTonnes
	case KeyWorkplaceAccidents:
		return UnitCount
	case KeyExecutiveCompensationRatio:
		return UnitRatio
	default:
		return UnitPercent
	}
}

// Metric is a single {value, unit} leaf. A nil Value encodes as JSON null.
type Metric struct {
	Value *float64 `json:"value"`
	Unit  string   `json:"unit"`
}

// Environmental groups the environmental metrics.
type Environmental struct {
	CarbonEmissions  Metric `json:"carbon_emissions"`
	WaterConsumption Metric `json:"water_consumption"`
	EnergyUsage      Metric `json:"energy_usage"`
	WasteGenerated   Metric `json:"waste_generated"`
}

// DiversityAndInclusion groups the workforce diversity metrics.
type DiversityAndInclusion struct {
	FemaleRepresentation   Metric `json:"female_representation"`
	MinorityRepresentation Metric `json:"minority_representation"`
}

// Social groups the social metrics.
type Social struct {
	EmployeeTurnoverRate  Metric                `json:"employee_turnover_rate"`
	WorkplaceAccidents    Metric                `json:"workplace_accidents"`
	DiversityAndInclusion DiversityAndInclusion `json:"diversity_and_inclusion"`
}

// Governance groups the governance metrics.
type Governance struct {
	BoardIndependence          Metric `json:"board_independence"`
	ExecutiveCompensationRatio Metric `json:"executive_compensation_ratio"`
}

// ESGExtractionResult is the fixed-shape output of every extraction strategy.
// All groups and leaves are value fields, so the full key shape is always
// present when encoded; missing data is a nil Value.
type ESGExtractionResult struct {
	Environmental Environmental `json:"environmental"`
	Social        Social        `json:"social"`
	Governance    Governance    `json:"governance"`
}

// NewESGExtractionResult returns a result with every value null and every
// unit set to its canonical string.
func NewESGExtractionResult() *ESGExtractionResult {
	r := &ESGExtractionResult{}
	for _, k := range MetricKeys {
		r.Metric(k).Unit = CanonicalUnit(k)
	}
	return r
}

// Metric returns a pointer to the leaf addressed by key, or nil for an
// unknown key.
func (r *ESGExtractionResult) Metric(key MetricKey) *Metric {
	switch key {
	case KeyCarbonEmissions:
		return &r.Environmental.CarbonEmissions
	case KeyWaterConsumption:
		return &r.Environmental.WaterConsumption
	case KeyEnergyUsage:
		return &r.Environmental.EnergyUsage
	case KeyWasteGenerated:
		return &r.Environmental.WasteGenerated
	case KeyEmployeeTurnoverRate:
		return &r.Social.EmployeeTurnoverRate
	case KeyWorkplaceAccidents:
		return &r.Social.WorkplaceAccidents
	case KeyFemaleRepresentation:
		return &r.Social.DiversityAndInclusion.FemaleRepresentation
	case KeyMinorityRepresentation:
		return &r.Social.DiversityAndInclusion.MinorityRepresentation
	case KeyBoardIndependence:
		return &r.Governance.BoardIndependence
	case KeyExecutiveCompensationRatio:
		return &r.Governance.ExecutiveCompensationRatio
	default:
		return nil
	}
}

// Set stores v for key. Non-finite values are stored as null.
func (r *ESGExtractionResult) Set(key MetricKey, v float64) {
	m := r.Metric(key)
	if m == nil {
		return
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		m.Value = nil
		return
	}
	m.Value = Float(v)
}

// Value returns the value for key and whether it is present.
func (r *ESGExtractionResult) Value(key MetricKey) (float64, bool) {
	m := r.Metric(key)
	if m == nil || m.Value == nil {
		return 0, false
	}
	return *m.Value, true
}

// Populated counts leaves with a non-null value.
func (r *ESGExtractionResult) Populated() int {
	n := 0
	for _, k := range MetricKeys {
		if _, ok := r.Value(k); ok {
			n++
		}
	}
	return n
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
