package store

import (
	"fmt"
	"strings"

	"github.com/sells-group/esg-extract/internal/model"
)

// recordColumns is the column order shared by recordArgs and recordDest.
var recordColumns = []string{
	"id",
	"user_id",
	"year",
	"total_electricity_consumption",
	"renewable_electricity_consumption",
	"total_fuel_consumption",
	"carbon_emissions",
	"total_employees",
	"female_employees",
	"avg_training_hours",
	"community_investment_spend",
	"independent_board_members_percent",
	"has_data_privacy_policy",
	"total_revenue",
	"carbon_intensity",
	"renewable_electricity_ratio",
	"diversity_ratio",
	"community_spend_ratio",
	"created_at",
	"updated_at",
}

var runColumns = []string{
	"id",
	"user_id",
	"year",
	"filename",
	"mime_type",
	"state",
	"strategy",
	"attempts",
	"error_code",
	"populated",
	"input_tokens",
	"output_tokens",
	"cost_usd",
	"duration_ms",
	"created_at",
}

var (
	recordSelectList = strings.Join(recordColumns, ", ")
	runSelectList    = strings.Join(runColumns, ", ")
)

func recordArgs(r *model.Record) []any {
	return []any{
		r.ID, r.UserID, r.Year,
		r.TotalElectricityConsumption,
		r.RenewableElectricityConsumption,
		r.TotalFuelConsumption,
		r.CarbonEmissions,
		r.TotalEmployees,
		r.FemaleEmployees,
		r.AvgTrainingHours,
		r.CommunityInvestmentSpend,
		r.IndependentBoardMembersPercent,
		r.HasDataPrivacyPolicy,
		r.TotalRevenue,
		r.CarbonIntensity,
		r.RenewableElectricityRatio,
		r.DiversityRatio,
		r.CommunitySpendRatio,
		r.CreatedAt, r.UpdatedAt,
	}
}

func recordDest(r *model.Record) []any {
	return []any{
		&r.ID, &r.UserID, &r.Year,
		&r.TotalElectricityConsumption,
		&r.RenewableElectricityConsumption,
		&r.TotalFuelConsumption,
		&r.CarbonEmissions,
		&r.TotalEmployees,
		&r.FemaleEmployees,
		&r.AvgTrainingHours,
		&r.CommunityInvestmentSpend,
		&r.IndependentBoardMembersPercent,
		&r.HasDataPrivacyPolicy,
		&r.TotalRevenue,
		&r.CarbonIntensity,
		&r.RenewableElectricityRatio,
		&r.DiversityRatio,
		&r.CommunitySpendRatio,
		&r.CreatedAt, &r.UpdatedAt,
	}
}

func runArgs(r *model.ExtractionRun) []any {
	return []any{
		r.ID, r.UserID, r.Year, r.Filename, r.MIMEType,
		string(r.State), r.Strategy, r.Attempts, string(r.ErrorCode), r.Populated,
		r.InputTokens, r.OutputTokens, r.CostUSD, r.DurationMs, r.CreatedAt,
	}
}

func runDest(r *model.ExtractionRun) []any {
	return []any{
		&r.ID, &r.UserID, &r.Year, &r.Filename, &r.MIMEType,
		&r.State, &r.Strategy, &r.Attempts, &r.ErrorCode, &r.Populated,
		&r.InputTokens, &r.OutputTokens, &r.CostUSD, &r.DurationMs, &r.CreatedAt,
	}
}

// upsertRecordSQL builds the insert-or-update statement keyed by
// (user_id, year). The row keeps its id and created_at on conflict.
func upsertRecordSQL(placeholder func(n int) string) string {
	ph := make([]string, len(recordColumns))
	for i := range recordColumns {
		ph[i] = placeholder(i + 1)
	}
	var set []string
	for _, c := range recordColumns[3:] {
		if c == "created_at" {
			continue
		}
		set = append(set, c+" = excluded."+c)
	}
	return "INSERT INTO esg_records (" + recordSelectList + ") VALUES (" + strings.Join(ph, ", ") + ")" +
		" ON CONFLICT (user_id, year) DO UPDATE SET " + strings.Join(set, ", ")
}

func insertRunSQL(placeholder func(n int) string) string {
	ph := make([]string, len(runColumns))
	for i := range runColumns {
		ph[i] = placeholder(i + 1)
	}
	return "INSERT INTO extraction_runs (" + runSelectList + ") VALUES (" + strings.Join(ph, ", ") + ")"
}

func sqlitePlaceholder(int) string { return "?" }

func postgresPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }
