package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/esg-extract/internal/model"
	"github.com/sells-group/esg-extract/internal/monitoring"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize recent extraction runs",
	Long:  "Aggregates the run log: outcome counts, fallback and failure rates, AI attempts, token usage and cost.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		hours, _ := cmd.Flags().GetInt("hours")
		user, _ := cmd.Flags().GetString("user")
		format, _ := cmd.Flags().GetString("format")
		if err := checkFormat(format, formatTable, formatJSON, formatYAML); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		snap, err := monitoring.NewCollector(st).Collect(ctx, hours, user)
		if err != nil {
			return eris.Wrap(err, "stats")
		}

		if format == formatTable {
			formatStats(os.Stdout, snap)
			return nil
		}
		return writeStructured(os.Stdout, format, snap)
	},
}

func formatStats(w io.Writer, s *monitoring.MetricsSnapshot) {
	window := "all time"
	if s.LookbackHours > 0 {
		window = fmt.Sprintf("last %dh", s.LookbackHours)
	}
	fmt.Fprintf(w, "Extraction runs (%s)\n\n", window)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Total:\t%d\n", s.Total)
	fmt.Fprintf(tw, "Succeeded:\t%d\n", s.Succeeded)
	fmt.Fprintf(tw, "Fallback:\t%d (%.1f%%)\n", s.Fallback, s.FallbackRate*100)
	fmt.Fprintf(tw, "Failed:\t%d (%.1f%%)\n", s.Failed, s.FailureRate*100)
	fmt.Fprintf(tw, "AI attempts:\t%d (avg %.2f)\n", s.AIAttempts, s.AvgAttempts)
	fmt.Fprintf(tw, "Tokens:\t%d in / %d out\n", s.InputTokens, s.OutputTokens)
	fmt.Fprintf(tw, "Cost:\t$%.4f\n", s.CostUSD)
	fmt.Fprintf(tw, "Avg metrics found:\t%.1f\n", s.AvgPopulated)
	tw.Flush() //nolint:errcheck

	if len(s.ErrorCodes) == 0 {
		return
	}
	codes := make([]model.ErrorCode, 0, len(s.ErrorCodes))
	for c := range s.ErrorCodes {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })

	fmt.Fprintln(w, "\nErrors:")
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, c := range codes {
		fmt.Fprintf(tw, "  %s\t%d\n", c, s.ErrorCodes[c])
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	statsCmd.Flags().Int("hours", 24, "lookback window in hours (0 for all runs)")
	statsCmd.Flags().String("user", "", "restrict to one user")
	statsCmd.Flags().String("format", formatTable, "output format: table, json or yaml")
	rootCmd.AddCommand(statsCmd)
}
