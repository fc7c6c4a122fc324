package model

import (
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Record is the flat yearly ESG record owned by the persistence layer and
// keyed by (UserID, Year). An extraction produces a Record with only the
// fields the extraction schema can populate; the rest stay nil for manual
// entry.
type Record struct {
	ID     string `json:"id,omitempty"`
	UserID string `json:"userId"`
	Year   int    `json:"year"`

	// Environmental
	TotalElectricityConsumption     *float64 `json:"totalElectricityConsumption"`
	RenewableElectricityConsumption *float64 `json:"renewableElectricityConsumption"`
	TotalFuelConsumption            *float64 `json:"totalFuelConsumption"`
	CarbonEmissions                 *float64 `json:"carbonEmissions"`

	// Social
	TotalEmployees           *int     `json:"totalEmployees"`
	FemaleEmployees          *int     `json:"femaleEmployees"`
	AvgTrainingHours         *float64 `json:"avgTrainingHours"`
	CommunityInvestmentSpend *float64 `json:"communityInvestmentSpend"`

	// Governance
	IndependentBoardMembersPercent *float64 `json:"independentBoardMembersPercent"`
	HasDataPrivacyPolicy           *bool    `json:"hasDataPrivacyPolicy"`
	TotalRevenue                   *float64 `json:"totalRevenue"`

	// Derived, see Derive.
	CarbonIntensity           *float64 `json:"carbonIntensity"`
	RenewableElectricityRatio *float64 `json:"renewableElectricityRatio"`
	DiversityRatio            *float64 `json:"diversityRatio"`
	CommunitySpendRatio       *float64 `json:"communitySpendRatio"`

	CreatedAt time.Time `json:"createdAt,omitzero"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

// Derive recomputes the ratio fields. A ratio is nil unless both operands
// are present and non-zero.
func (r *Record) Derive() {
	r.CarbonIntensity = ratio(r.CarbonEmissions, r.TotalRevenue, 1)
	r.RenewableElectricityRatio = ratio(r.RenewableElectricityConsumption, r.TotalElectricityConsumption, 100)
	r.DiversityRatio = ratio(intToFloat(r.FemaleEmployees), intToFloat(r.TotalEmployees), 100)
	r.CommunitySpendRatio = ratio(r.CommunityInvestmentSpend, r.TotalRevenue, 100)
}

// Merge overlays every non-nil input field of src onto r. Identity,
// timestamps and derived fields are left alone; call Derive afterwards.
func (r *Record) Merge(src Record) {
	mergeFloat(&r.TotalElectricityConsumption, src.TotalElectricityConsumption)
	mergeFloat(&r.RenewableElectricityConsumption, src.RenewableElectricityConsumption)
	mergeFloat(&r.TotalFuelConsumption, src.TotalFuelConsumption)
	mergeFloat(&r.CarbonEmissions, src.CarbonEmissions)
	if src.TotalEmployees != nil {
		r.TotalEmployees = src.TotalEmployees
	}
	if src.FemaleEmployees != nil {
		r.FemaleEmployees = src.FemaleEmployees
	}
	mergeFloat(&r.AvgTrainingHours, src.AvgTrainingHours)
	mergeFloat(&r.CommunityInvestmentSpend, src.CommunityInvestmentSpend)
	mergeFloat(&r.IndependentBoardMembersPercent, src.IndependentBoardMembersPercent)
	if src.HasDataPrivacyPolicy != nil {
		r.HasDataPrivacyPolicy = src.HasDataPrivacyPolicy
	}
	mergeFloat(&r.TotalRevenue, src.TotalRevenue)
}

// Validate checks manually entered inputs: amounts and headcounts must be
// non-negative and the independent board share must lie in 0-100. Derived
// fields are ignored since Derive overwrites them.
func (r *Record) Validate() error {
	var problems []string
	for _, f := range []struct {
		name string
		v    *float64
	}{
		{"totalElectricityConsumption", r.TotalElectricityConsumption},
		{"renewableElectricityConsumption", r.RenewableElectricityConsumption},
		{"totalFuelConsumption", r.TotalFuelConsumption},
		{"carbonEmissions", r.CarbonEmissions},
		{"avgTrainingHours", r.AvgTrainingHours},
		{"communityInvestmentSpend", r.CommunityInvestmentSpend},
		{"totalRevenue", r.TotalRevenue},
	} {
		if f.v != nil && (*f.v < 0 || math.IsNaN(*f.v) || math.IsInf(*f.v, 0)) {
			problems = append(problems, f.name+" must be a non-negative number")
		}
	}
	if r.TotalEmployees != nil && *r.TotalEmployees < 0 {
		problems = append(problems, "totalEmployees must be a non-negative integer")
	}
	if r.FemaleEmployees != nil && *r.FemaleEmployees < 0 {
		problems = append(problems, "femaleEmployees must be a non-negative integer")
	}
	if p := r.IndependentBoardMembersPercent; p != nil && (*p < 0 || *p > 100 || math.IsNaN(*p)) {
		problems = append(problems, "independentBoardMembersPercent must be between 0 and 100")
	}
	if len(problems) > 0 {
		return eris.New(strings.Join(problems, "; "))
	}
	return nil
}

// Int returns a pointer to v.
func Int(v int) *int {
	return &v
}

// Bool returns a pointer to v.
func Bool(v bool) *bool {
	return &v
}

func ratio(num, den *float64, scale float64) *float64 {
	if num == nil || den == nil || *num == 0 || *den == 0 {
		return nil
	}
	return Float(*num / *den * scale)
}

func intToFloat(v *int) *float64 {
	if v == nil {
		return nil
	}
	return Float(float64(*v))
}

func mergeFloat(dst **float64, src *float64) {
	if src != nil {
		*dst = src
	}
}
