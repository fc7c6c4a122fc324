package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/esg-extract/internal/health"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe the AI service",
	Long:  "Sends the availability prompt once and reports whether the model answered OK. Exits non-zero when the service is down.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		format, _ := cmd.Flags().GetString("format")
		if err := checkFormat(format, formatTable, formatJSON, formatYAML); err != nil {
			return err
		}

		client, err := newAnthropicClient()
		if err != nil {
			return err
		}

		st := newHealthChecker(client).Probe(cmd.Context())
		if format == formatTable {
			formatHealth(os.Stdout, st)
		} else if err := writeStructured(os.Stdout, format, st); err != nil {
			return err
		}

		if !st.Up {
			return eris.New("AI service is down")
		}
		return nil
	},
}

func formatHealth(w io.Writer, st health.Status) {
	state := "up"
	if !st.Up {
		state = "down"
	}
	fmt.Fprintf(w, "AI service: %s (%s)\n", state, st.Latency.Round(time.Millisecond))
	if st.Reply != "" {
		fmt.Fprintf(w, "Reply:      %q\n", st.Reply)
	}
	if st.Error != "" {
		fmt.Fprintf(w, "Error:      %s\n", st.Error)
	}
}

func init() {
	healthCmd.Flags().String("format", formatTable, "output format: table, json or yaml")
	rootCmd.AddCommand(healthCmd)
}
