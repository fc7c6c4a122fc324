package heuristic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/esg-extract/internal/model"
)

func TestExtract_CarbonAndWater(t *testing.T) {
	text := "Total carbon emissions were 125.3 tonnes CO2e and water consumption was 45,670 cubic meters."

	out := Extract(text)

	v, ok := out.Value(model.KeyCarbonEmissions)
	require.True(t, ok)
	assert.InDelta(t, 125.3, v, 1e-9)

	v, ok = out.Value(model.KeyWaterConsumption)
	require.True(t, ok)
	assert.InDelta(t, 45670, v, 1e-9)

	for _, key := range model.MetricKeys {
		if key == model.KeyCarbonEmissions || key == model.KeyWaterConsumption {
			continue
		}
		m := out.Metric(key)
		require.NotNil(t, m, key)
		assert.Nil(t, m.Value, key)
	}
	assert.Equal(t, 2, out.Populated())
}

func TestExtract_AllPatterns(t *testing.T) {
	text := `Sustainability report 2023.
Energy consumption reached 3.2 MWh across all facilities.
Waste generated: 1,200 tonnes.
Employee turnover rate was 12.5% this year.
Workplace accidents: 3 recorded.
Women make up 45% of our workforce.
The board is 70 percent independent directors, with independence at 80%.`

	out := Extract(text)

	tests := []struct {
		key  model.MetricKey
		want float64
	}{
		{model.KeyEnergyUsage, 3200},
		{model.KeyWasteGenerated, 1200},
		{model.KeyEmployeeTurnoverRate, 12.5},
		{model.KeyWorkplaceAccidents, 3},
		{model.KeyFemaleRepresentation, 45},
		{model.KeyBoardIndependence, 80},
	}
	for _, tt := range tests {
		t.Run(string(tt.key), func(t *testing.T) {
			v, ok := out.Value(tt.key)
			require.True(t, ok)
			assert.InDelta(t, tt.want, v, 1e-9)
		})
	}

	_, ok := out.Value(model.KeyMinorityRepresentation)
	assert.False(t, ok)
	_, ok = out.Value(model.KeyExecutiveCompensationRatio)
	assert.False(t, ok)
}

func TestExtract_FirstMatchWins(t *testing.T) {
	text := "Carbon emissions were 500 tonnes in total. Carbon emissions per site averaged 20 tonnes."

	v, ok := Extract(text).Value(model.KeyCarbonEmissions)
	require.True(t, ok)
	assert.InDelta(t, 500, v, 1e-9)
}

func TestExtract_CaseInsensitive(t *testing.T) {
	v, ok := Extract("WATER USE: 12 CUBIC METRES").Value(model.KeyWaterConsumption)
	require.True(t, ok)
	assert.InDelta(t, 12, v, 1e-9)
}

func TestExtract_RequiresUnit(t *testing.T) {
	out := Extract("Carbon emissions fell by 10 percent. Water use was 40.")
	assert.Equal(t, 0, out.Populated())
}

func TestExtract_AccidentsIgnoresYear(t *testing.T) {
	for _, text := range []string{
		"The number of workplace accidents in 2023 was 4.",
		"Workplace accidents (2023): 4",
	} {
		_, ok := Extract(text).Value(model.KeyWorkplaceAccidents)
		assert.False(t, ok, text)
	}

	tests := []struct {
		text string
		want float64
	}{
		{"Workplace accidents: 7 cases", 7},
		{"Lost-time injuries totalled 2 incidents", 2},
		{"Recordable incidents: 12 recordables", 12},
	}
	for _, tt := range tests {
		v, ok := Extract(tt.text).Value(model.KeyWorkplaceAccidents)
		require.True(t, ok, tt.text)
		assert.InDelta(t, tt.want, v, 1e-9, tt.text)
	}
}

func TestExtract_NoMatchesKeepsShape(t *testing.T) {
	for _, text := range []string{"", "nothing relevant here", "12345"} {
		out := Extract(text)
		require.NotNil(t, out)
		assert.Equal(t, 0, out.Populated())
		for _, key := range model.MetricKeys {
			m := out.Metric(key)
			require.NotNil(t, m)
			assert.Equal(t, model.CanonicalUnit(key), m.Unit)
		}
	}
}

func TestExtract_Idempotent(t *testing.T) {
	text := "Total carbon emissions were 125.3 tonnes CO2e and 40% female staff."
	assert.Equal(t, Extract(text), Extract(text))
}

func TestExtractor_Strategy(t *testing.T) {
	e := New()
	assert.Equal(t, model.StrategyHeuristic, e.Name())

	got, err := e.Extract(context.Background(), "energy usage of 1,500 kWh")
	require.NoError(t, err)
	assert.Equal(t, model.StrategyHeuristic, got.Strategy)
	assert.Zero(t, got.Attempts)

	v, ok := got.Result.Value(model.KeyEnergyUsage)
	require.True(t, ok)
	assert.InDelta(t, 1500, v, 1e-9)
}

func TestParseNumber(t *testing.T) {
	v, err := parseNumber("1,234,567.89")
	require.NoError(t, err)
	assert.InDelta(t, 1234567.89, v, 1e-6)

	_, err = parseNumber("abc")
	assert.Error(t, err)
}
