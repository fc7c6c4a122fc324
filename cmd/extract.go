package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/esg-extract/internal/api"
	"github.com/sells-group/esg-extract/internal/model"
	"github.com/sells-group/esg-extract/internal/pipeline"
	"github.com/sells-group/esg-extract/internal/textextract"
)

// fileResult is the outcome for one input file.
type fileResult struct {
	File    string            `json:"file"`
	Outcome *pipeline.Outcome `json:"outcome"`
	Saved   *model.Record     `json:"saved_record,omitempty"`
}

var extractCmd = &cobra.Command{
	Use:   "extract FILE...",
	Short: "Extract ESG metrics from PDF or Excel reports",
	Long:  "Runs each file through the extraction pipeline and prints the outcome. With --save the mapped record is merged into the user's record for --year.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		year, _ := cmd.Flags().GetInt("year")
		user, _ := cmd.Flags().GetString("user")
		save, _ := cmd.Flags().GetBool("save")
		format, _ := cmd.Flags().GetString("format")
		concurrency, _ := cmd.Flags().GetInt("concurrency")

		if year <= 0 {
			return eris.New("--year must be a positive integer")
		}
		if err := checkFormat(format, formatTable, formatJSON, formatYAML); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		results, err := extractFiles(ctx, env.Pipeline, env.Store, args, year, user, save, concurrency)
		if err != nil {
			return err
		}

		if format == formatTable {
			formatExtractTable(os.Stdout, results)
		} else if err := writeStructured(os.Stdout, format, results); err != nil {
			return err
		}

		return batchError(results)
	},
}

// extractFiles runs the files concurrently. Pipeline failures are reported
// per file; only unexpected errors abort the batch.
func extractFiles(ctx context.Context, runner api.Runner, records api.RecordStore, paths []string, year int, user string, save bool, concurrency int) ([]fileResult, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	results := make([]fileResult, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, path := range paths {
		g.Go(func() error {
			doc, err := readDocument(path)
			if err != nil {
				return err
			}

			out, err := runner.Run(gctx, pipeline.Upload{Doc: doc, Year: year, UserID: user})
			var f *pipeline.Failure
			if err != nil && !(errors.As(err, &f) && out != nil) {
				return eris.Wrapf(err, "extract %s", path)
			}
			results[i] = fileResult{File: path, Outcome: out}

			if save && out.Record != nil {
				saved, err := records.MergeRecord(gctx, *out.Record)
				if err != nil {
					return eris.Wrapf(err, "save record for %s", path)
				}
				results[i].Saved = saved
			}

			zap.L().Info("extraction finished",
				zap.String("file", path),
				zap.String("run_id", out.RunID),
				zap.String("state", string(out.State)),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// readDocument loads a file into memory and resolves its type from the
// extension or content.
func readDocument(path string) (model.UploadedDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.UploadedDocument{}, eris.Wrapf(err, "read %s", path)
	}
	name := filepath.Base(path)
	return model.UploadedDocument{
		Data:     data,
		Filename: name,
		MIMEType: textextract.DetectMIME(name, "", data),
	}, nil
}

func countFailed(results []fileResult) int {
	n := 0
	for _, r := range results {
		if r.Outcome != nil && r.Outcome.State == model.StateFailed {
			n++
		}
	}
	return n
}

// batchError reports failed extractions so the command exits non-zero.
func batchError(results []fileResult) error {
	if n := countFailed(results); n > 0 {
		return eris.Errorf("%d of %d extractions failed", n, len(results))
	}
	return nil
}

func formatExtractTable(w io.Writer, results []fileResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tSTATE\tSTRATEGY\tMETRICS\tATTEMPTS\tCOST\tDETAIL")
	for _, r := range results {
		out := r.Outcome
		populated := 0
		if out.Result != nil {
			populated = out.Result.Populated()
		}
		detail := ""
		switch {
		case out.Failure != nil:
			detail = fmt.Sprintf("%s: %s", out.Failure.Code, out.Failure.Suggestion)
		case r.Saved != nil:
			detail = "saved"
		case len(out.Warnings) > 0:
			detail = out.Warnings[0]
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t$%.4f\t%s\n",
			r.File, out.State, dash(out.Strategy), populated, out.Attempts, out.CostUSD, detail)
	}
	tw.Flush() //nolint:errcheck
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	extractCmd.Flags().Int("year", 0, "reporting year the documents cover (required)")
	extractCmd.Flags().String("user", "cli", "user the records belong to")
	extractCmd.Flags().Bool("save", false, "merge extracted values into the stored record")
	extractCmd.Flags().String("format", formatTable, "output format: table, json or yaml")
	extractCmd.Flags().Int("concurrency", 2, "files processed in parallel")
	_ = extractCmd.MarkFlagRequired("year")
	rootCmd.AddCommand(extractCmd)
}
