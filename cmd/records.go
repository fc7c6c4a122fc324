package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/esg-extract/internal/model"
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Inspect and edit stored ESG records",
	Long:  "Commands for listing, viewing, entering, and deleting a user's yearly ESG records.",
}

// -- records list --

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's records by year",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		user, format, err := recordsFlags(cmd)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		recs, err := st.ListRecords(ctx, user)
		if err != nil {
			return eris.Wrap(err, "records list")
		}

		if format != formatTable {
			if recs == nil {
				recs = []model.Record{}
			}
			return writeStructured(os.Stdout, format, recs)
		}
		if len(recs) == 0 {
			fmt.Fprintln(os.Stderr, "No records found.")
			return nil
		}
		formatRecordsTable(os.Stdout, recs)
		return nil
	},
}

// -- records get --

var recordsGetCmd = &cobra.Command{
	Use:   "get <year>",
	Short: "Show one year's record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		user, format, err := recordsFlags(cmd)
		if err != nil {
			return err
		}
		year, err := parseYearArg(args[0])
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rec, err := st.GetRecord(ctx, user, year)
		if err != nil {
			return eris.Wrap(err, "records get")
		}
		if rec == nil {
			return eris.Errorf("no record for user %q in %d", user, year)
		}

		if format == formatTable {
			formatRecordDetail(os.Stdout, rec)
			return nil
		}
		return writeStructured(os.Stdout, format, rec)
	},
}

// -- records delete --

var recordsDeleteCmd = &cobra.Command{
	Use:   "delete <year>",
	Short: "Delete one year's record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		user, _ := cmd.Flags().GetString("user")
		year, err := parseYearArg(args[0])
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.DeleteRecord(ctx, user, year); err != nil {
			return eris.Wrap(err, "records delete")
		}
		fmt.Fprintf(os.Stderr, "Deleted record for %s (%d).\n", user, year)
		return nil
	},
}

// -- records set --

var recordsSetCmd = &cobra.Command{
	Use:   "set <year>",
	Short: "Enter values for one year's record",
	Long:  "Writes manually entered fields. Only the flags given are changed; with --replace every field not given is cleared.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		user, format, err := recordsFlags(cmd)
		if err != nil {
			return err
		}
		year, err := parseYearArg(args[0])
		if err != nil {
			return err
		}
		rec, err := recordFromFlags(cmd)
		if err != nil {
			return err
		}
		rec.UserID, rec.Year = user, year
		replace, _ := cmd.Flags().GetBool("replace")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		saved, err := saveManualRecord(ctx, st, rec, replace)
		if err != nil {
			return err
		}
		if format == formatTable {
			formatRecordDetail(os.Stdout, saved)
			return nil
		}
		return writeStructured(os.Stdout, format, saved)
	},
}

// Manually entered fields settable by records set.
var (
	recordFloatFlags = []struct {
		name, usage string
		field       func(*model.Record) **float64
	}{
		{"total-electricity", "total electricity consumption (kWh)", func(r *model.Record) **float64 { return &r.TotalElectricityConsumption }},
		{"renewable-electricity", "renewable electricity consumption (kWh)", func(r *model.Record) **float64 { return &r.RenewableElectricityConsumption }},
		{"total-fuel", "total fuel consumption", func(r *model.Record) **float64 { return &r.TotalFuelConsumption }},
		{"carbon-emissions", "carbon emissions (t CO2e)", func(r *model.Record) **float64 { return &r.CarbonEmissions }},
		{"avg-training-hours", "average training hours per employee", func(r *model.Record) **float64 { return &r.AvgTrainingHours }},
		{"community-investment", "community investment spend", func(r *model.Record) **float64 { return &r.CommunityInvestmentSpend }},
		{"independent-board-percent", "independent board members (0-100)", func(r *model.Record) **float64 { return &r.IndependentBoardMembersPercent }},
		{"total-revenue", "total revenue", func(r *model.Record) **float64 { return &r.TotalRevenue }},
	}
	recordIntFlags = []struct {
		name, usage string
		field       func(*model.Record) **int
	}{
		{"total-employees", "total employees", func(r *model.Record) **int { return &r.TotalEmployees }},
		{"female-employees", "female employees", func(r *model.Record) **int { return &r.FemaleEmployees }},
	}
)

func addRecordInputFlags(cmd *cobra.Command) {
	for _, f := range recordFloatFlags {
		cmd.Flags().Float64(f.name, 0, f.usage)
	}
	for _, f := range recordIntFlags {
		cmd.Flags().Int(f.name, 0, f.usage)
	}
	cmd.Flags().Bool("data-privacy-policy", false, "the company has a data privacy policy")
}

// recordFromFlags builds a record from the input flags the user set. Unset
// flags stay nil.
func recordFromFlags(cmd *cobra.Command) (model.Record, error) {
	var rec model.Record
	fs := cmd.Flags()
	for _, f := range recordFloatFlags {
		if !fs.Changed(f.name) {
			continue
		}
		v, err := fs.GetFloat64(f.name)
		if err != nil {
			return rec, eris.Wrapf(err, "--%s", f.name)
		}
		*f.field(&rec) = model.Float(v)
	}
	for _, f := range recordIntFlags {
		if !fs.Changed(f.name) {
			continue
		}
		v, err := fs.GetInt(f.name)
		if err != nil {
			return rec, eris.Wrapf(err, "--%s", f.name)
		}
		*f.field(&rec) = model.Int(v)
	}
	if fs.Changed("data-privacy-policy") {
		v, err := fs.GetBool("data-privacy-policy")
		if err != nil {
			return rec, eris.Wrap(err, "--data-privacy-policy")
		}
		rec.HasDataPrivacyPolicy = model.Bool(v)
	}
	if err := rec.Validate(); err != nil {
		return rec, eris.Wrap(err, "records set")
	}
	return rec, nil
}

// manualStore is the part of the store records set writes through.
type manualStore interface {
	UpsertRecord(ctx context.Context, rec *model.Record) error
	MergeRecord(ctx context.Context, rec model.Record) (*model.Record, error)
}

// saveManualRecord merges rec into the stored record, or replaces it
// outright when replace is set.
func saveManualRecord(ctx context.Context, st manualStore, rec model.Record, replace bool) (*model.Record, error) {
	if replace {
		if err := st.UpsertRecord(ctx, &rec); err != nil {
			return nil, eris.Wrap(err, "records set")
		}
		return &rec, nil
	}
	saved, err := st.MergeRecord(ctx, rec)
	if err != nil {
		return nil, eris.Wrap(err, "records set")
	}
	return saved, nil
}

func recordsFlags(cmd *cobra.Command) (user, format string, err error) {
	user, _ = cmd.Flags().GetString("user")
	format, _ = cmd.Flags().GetString("format")
	return user, format, checkFormat(format, formatTable, formatJSON, formatYAML)
}

func parseYearArg(s string) (int, error) {
	year, err := strconv.Atoi(s)
	if err != nil || year <= 0 {
		return 0, eris.Errorf("invalid year %q", s)
	}
	return year, nil
}

func formatRecordsTable(w io.Writer, recs []model.Record) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "YEAR\tCO2 (t)\tELECTRICITY (kWh)\tRENEWABLE\tEMPLOYEES\tDIVERSITY\tCARBON INTENSITY\tUPDATED")
	for _, r := range recs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Year,
			fmtFloat(r.CarbonEmissions),
			fmtFloat(r.TotalElectricityConsumption),
			fmtPercent(r.RenewableElectricityRatio),
			fmtInt(r.TotalEmployees),
			fmtPercent(r.DiversityRatio),
			fmtFloat(r.CarbonIntensity),
			r.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	tw.Flush() //nolint:errcheck
}

func formatRecordDetail(w io.Writer, r *model.Record) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := [][2]string{
		{"User", r.UserID},
		{"Year", strconv.Itoa(r.Year)},
		{"Total electricity (kWh)", fmtFloat(r.TotalElectricityConsumption)},
		{"Renewable electricity", fmtFloat(r.RenewableElectricityConsumption)},
		{"Total fuel", fmtFloat(r.TotalFuelConsumption)},
		{"Carbon emissions (t CO2e)", fmtFloat(r.CarbonEmissions)},
		{"Total employees", fmtInt(r.TotalEmployees)},
		{"Female employees", fmtInt(r.FemaleEmployees)},
		{"Avg training hours", fmtFloat(r.AvgTrainingHours)},
		{"Community investment", fmtFloat(r.CommunityInvestmentSpend)},
		{"Independent board members", fmtPercent(r.IndependentBoardMembersPercent)},
		{"Data privacy policy", fmtBool(r.HasDataPrivacyPolicy)},
		{"Total revenue", fmtFloat(r.TotalRevenue)},
		{"Carbon intensity", fmtFloat(r.CarbonIntensity)},
		{"Renewable ratio", fmtPercent(r.RenewableElectricityRatio)},
		{"Diversity ratio", fmtPercent(r.DiversityRatio)},
		{"Community spend ratio", fmtPercent(r.CommunitySpendRatio)},
	}
	for _, row := range rows {
		fmt.Fprintf(tw, "%s:\t%s\n", row[0], row[1])
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	recordsCmd.PersistentFlags().String("user", "cli", "user whose records to read")
	recordsListCmd.Flags().String("format", formatTable, "output format: table, json or yaml")
	recordsGetCmd.Flags().String("format", formatTable, "output format: table, json or yaml")
	recordsSetCmd.Flags().String("format", formatTable, "output format: table, json or yaml")
	recordsSetCmd.Flags().Bool("replace", false, "clear every field not given instead of keeping stored values")
	addRecordInputFlags(recordsSetCmd)

	recordsCmd.AddCommand(recordsListCmd)
	recordsCmd.AddCommand(recordsGetCmd)
	recordsCmd.AddCommand(recordsSetCmd)
	recordsCmd.AddCommand(recordsDeleteCmd)
	rootCmd.AddCommand(recordsCmd)
}
