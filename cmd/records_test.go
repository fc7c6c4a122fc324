package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/esg-extract/internal/model"
	"github.com/sells-group/esg-extract/internal/monitoring"
	"github.com/sells-group/esg-extract/internal/store"
)

func TestParseYearArg(t *testing.T) {
	year, err := parseYearArg("2024")
	require.NoError(t, err)
	assert.Equal(t, 2024, year)

	for _, bad := range []string{"", "abc", "0", "-5"} {
		_, err := parseYearArg(bad)
		assert.Error(t, err, bad)
	}
}

func TestFormatRecordsTable(t *testing.T) {
	updated := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	recs := []model.Record{
		{Year: 2023, CarbonEmissions: model.Float(100), UpdatedAt: updated},
		{Year: 2024, TotalEmployees: model.Int(50), DiversityRatio: model.Float(40), UpdatedAt: updated},
	}

	var buf bytes.Buffer
	formatRecordsTable(&buf, recs)
	out := buf.String()

	assert.Contains(t, out, "YEAR")
	assert.Contains(t, out, "2023")
	assert.Contains(t, out, "40.0%")
	assert.Contains(t, out, "2025-03-01 09:30")
}

func TestFormatRecordDetail(t *testing.T) {
	rec := &model.Record{
		UserID:               "user-1",
		Year:                 2024,
		CarbonEmissions:      model.Float(125.3),
		HasDataPrivacyPolicy: model.Bool(true),
	}

	var buf bytes.Buffer
	formatRecordDetail(&buf, rec)
	out := buf.String()

	assert.Contains(t, out, "user-1")
	assert.Contains(t, out, "125.3")
	assert.Contains(t, out, "yes")
	assert.Contains(t, out, "Total revenue:")
}

func TestFormatStats(t *testing.T) {
	snap := &monitoring.MetricsSnapshot{
		Total:         10,
		Succeeded:     6,
		Fallback:      2,
		Failed:        2,
		FallbackRate:  0.2,
		FailureRate:   0.2,
		AIAttempts:    14,
		AvgAttempts:   1.4,
		CostUSD:       0.0123,
		ErrorCodes:    map[model.ErrorCode]int{model.CodeTooLarge: 1, model.CodeAIRejected: 1},
		LookbackHours: 24,
	}

	var buf bytes.Buffer
	formatStats(&buf, snap)
	out := buf.String()

	assert.Contains(t, out, "last 24h")
	assert.Contains(t, out, "2 (20.0%)")
	assert.Contains(t, out, "$0.0123")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("AIRejected")), bytes.Index(buf.Bytes(), []byte("TooLarge")))
}

func TestFormatStats_AllTime(t *testing.T) {
	var buf bytes.Buffer
	formatStats(&buf, &monitoring.MetricsSnapshot{})
	assert.Contains(t, buf.String(), "all time")
	assert.NotContains(t, buf.String(), "Errors:")
}

func setFlagsCmd(t *testing.T, flags map[string]string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "set"}
	addRecordInputFlags(cmd)
	for name, v := range flags {
		require.NoError(t, cmd.Flags().Set(name, v))
	}
	return cmd
}

func TestRecordFromFlags(t *testing.T) {
	rec, err := recordFromFlags(setFlagsCmd(t, map[string]string{
		"total-employees":           "200",
		"carbon-emissions":          "12.5",
		"independent-board-percent": "60",
		"data-privacy-policy":       "false",
	}))
	require.NoError(t, err)

	require.NotNil(t, rec.TotalEmployees)
	assert.Equal(t, 200, *rec.TotalEmployees)
	assert.InDelta(t, 12.5, *rec.CarbonEmissions, 1e-9)
	assert.InDelta(t, 60, *rec.IndependentBoardMembersPercent, 1e-9)
	require.NotNil(t, rec.HasDataPrivacyPolicy)
	assert.False(t, *rec.HasDataPrivacyPolicy)

	assert.Nil(t, rec.FemaleEmployees)
	assert.Nil(t, rec.TotalRevenue)
	assert.Nil(t, rec.TotalElectricityConsumption)
}

func TestRecordFromFlags_Invalid(t *testing.T) {
	for flag, v := range map[string]string{
		"independent-board-percent": "150",
		"total-revenue":             "-1",
		"female-employees":          "-3",
	} {
		_, err := recordFromFlags(setFlagsCmd(t, map[string]string{flag: v}))
		assert.Error(t, err, flag)
	}
}

func TestSaveManualRecord(t *testing.T) {
	ctx := context.Background()
	rec := model.Record{UserID: "cli", Year: 2024, TotalEmployees: model.Int(200)}

	records := &fakeRecords{}
	saved, err := saveManualRecord(ctx, records, rec, false)
	require.NoError(t, err)
	assert.Equal(t, "rec-1", saved.ID)
	assert.Len(t, records.merged, 1)
	assert.Empty(t, records.upserted)

	records = &fakeRecords{}
	saved, err = saveManualRecord(ctx, records, rec, true)
	require.NoError(t, err)
	assert.Equal(t, "rec-1", saved.ID)
	assert.Empty(t, records.merged)
	require.Len(t, records.upserted, 1)
	assert.Equal(t, 200, *records.upserted[0].TotalEmployees)

	_, err = saveManualRecord(ctx, &fakeRecords{err: errors.New("db down")}, rec, true)
	assert.ErrorContains(t, err, "records set")
}

func TestSaveManualRecord_SQLite(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "manual.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	_, err = saveManualRecord(ctx, st, model.Record{UserID: "cli", Year: 2024, TotalEmployees: model.Int(200), TotalRevenue: model.Float(1000)}, false)
	require.NoError(t, err)

	saved, err := saveManualRecord(ctx, st, model.Record{UserID: "cli", Year: 2024, FemaleEmployees: model.Int(50)}, false)
	require.NoError(t, err)
	assert.Equal(t, 200, *saved.TotalEmployees)
	assert.InDelta(t, 25, *saved.DiversityRatio, 1e-9)

	saved, err = saveManualRecord(ctx, st, model.Record{UserID: "cli", Year: 2024, CarbonEmissions: model.Float(10)}, true)
	require.NoError(t, err)
	assert.Nil(t, saved.TotalEmployees)

	stored, err := st.GetRecord(ctx, "cli", 2024)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Nil(t, stored.TotalRevenue)
	assert.InDelta(t, 10, *stored.CarbonEmissions, 1e-9)
}
