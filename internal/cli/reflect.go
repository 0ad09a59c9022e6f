package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	apperrors "trade-reflector/internal/errors"
	"trade-reflector/internal/models"
	"trade-reflector/internal/pipeline"
	"trade-reflector/internal/store"
)

func addReflectionCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newPendingCmd(app))
	rootCmd.AddCommand(newHistoryCmd(app))
}

func newRunCmd(app *App) *cobra.Command {
	var (
		symbol      string
		minAgeHours int
		windowHours int
		limit       int
		dryRun      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Reflect on all eligible decisions",
		Long: `Analyze every pending decision that is old enough, oldest first.

Each decision is compared with the average close of the hours that followed it,
classified as gain, loss or neutral, and given a written reflection. A failing
decision is reported and skipped; it stays pending for the next run.

Do not run more than one instance against the same database at a time.`,
		Example: `  reflector run
  reflector run --symbol BTC --min-age 48
  reflector run --dry-run --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			ctx, stop := signal.NotifyContext(contextOrBackground(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := app.Store(ctx)
			if err != nil {
				return err
			}
			minAge := pick(minAgeHours, app.Config.Reflection.MinAgeHours)
			windows, err := app.Windows(ctx, minAge)
			if err != nil {
				return err
			}
			generator, err := app.Generator()
			if err != nil {
				return err
			}

			opts := pipeline.Options{
				MinAgeHours:       minAge,
				WindowHours:       pick(windowHours, app.Config.Reflection.WindowHours),
				Symbol:            symbol,
				Limit:             limit,
				DryRun:            dryRun,
				MinSamplesWarning: app.Config.Reflection.MinSamplesWarning,
			}

			report, runErr := pipeline.New(s, windows, generator, opts, app.Logger).Run(ctx)
			if report == nil {
				return runErr
			}

			if output.IsJSON() {
				if err := output.JSON(report); err != nil {
					return err
				}
			} else {
				printRunReport(output, report)
			}
			return runErr
		},
	}

	cmd.Flags().StringVarP(&symbol, "symbol", "s", "", "only decisions for this symbol")
	cmd.Flags().IntVar(&minAgeHours, "min-age", 0, "minimum decision age in hours (default from config)")
	cmd.Flags().IntVar(&windowHours, "window", 0, "price window length in hours (default from config)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum decisions to process")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "analyze without saving reflections")

	return cmd
}

func pick(flag, fallback int) int {
	if flag > 0 {
		return flag
	}
	return fallback
}

func printRunReport(output *Output, r *pipeline.RunReport) {
	title := "Reflection Run"
	if r.DryRun {
		title += " (dry run)"
	}
	output.Bold(title)
	output.Printf("  Considered:  %d\n", r.Stats.Considered)
	output.Printf("  Succeeded:   %d\n", r.Stats.Succeeded)
	output.Printf("  Failed:      %d\n", r.Stats.Failed)
	if len(r.FailuresByKind) > 0 {
		output.Printf("  Failures by kind: %s\n", formatFailureKinds(r.FailuresByKind))
	}
	output.Printf("  Outcomes:    %d gain / %d loss / %d neutral\n", r.Stats.Gains, r.Stats.Losses, r.Stats.Neutral)
	if r.Stats.Succeeded > 0 {
		output.Printf("  Mean P/L:    %s\n", output.Signed(r.Stats.AvgProfitLoss))
	}
	output.Printf("  Duration:    %s\n", FormatDuration(r.FinishedAt.Sub(r.StartedAt)))

	if len(r.Results) > 0 {
		output.Println()
		table := NewTable(output, "ID", "SYMBOL", "KIND", "RESULT", "P/L", "HOURS")
		for _, res := range r.Results {
			table.AddRow(
				strconv.FormatInt(res.DecisionID, 10),
				res.Symbol,
				string(res.Kind),
				output.Outcome(res.Classification),
				output.Signed(res.ProfitLoss),
				strconv.Itoa(res.Samples),
			)
		}
		table.Render()
	}

	if len(r.Failures) > 0 {
		output.Println()
		output.Warning("Failures")
		table := NewTable(output, "ID", "SYMBOL", "STAGE", "KIND", "ERROR")
		for _, f := range r.Failures {
			table.AddRow(
				strconv.FormatInt(f.DecisionID, 10),
				f.Symbol,
				f.Stage,
				string(f.Kind),
				TruncateString(f.Message, 80),
			)
		}
		table.Render()
	}
}

// formatFailureKinds renders per-kind failure counts in a stable order,
// e.g. "data_unavailable=2, generation_failure=1".
func formatFailureKinds(counts map[apperrors.ErrorKind]int) string {
	kinds := make([]string, 0, len(counts))
	for kind := range counts {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)

	parts := make([]string, len(kinds))
	for i, kind := range kinds {
		parts[i] = fmt.Sprintf("%s=%d", kind, counts[apperrors.ErrorKind(kind)])
	}
	return strings.Join(parts, ", ")
}

func newPendingCmd(app *App) *cobra.Command {
	var (
		symbol      string
		minAgeHours int
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List decisions awaiting reflection",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := contextOrBackground(cmd)

			s, err := app.Store(ctx)
			if err != nil {
				return err
			}

			decisions, err := s.Pending(ctx, store.PendingFilter{
				MinAgeHours: pick(minAgeHours, app.Config.Reflection.MinAgeHours),
				Symbol:      symbol,
				Limit:       limit,
			})
			if err != nil {
				return err
			}

			if output.IsJSON() {
				if decisions == nil {
					decisions = []models.Decision{}
				}
				return output.JSON(decisions)
			}

			if len(decisions) == 0 {
				output.Info("No decisions awaiting reflection")
				return nil
			}

			now := time.Now()
			table := NewTable(output, "ID", "TIME", "AGE", "SYMBOL", "KIND", "PRICE", "CONF", "REASON")
			for _, d := range decisions {
				table.AddRow(
					strconv.FormatInt(d.ID, 10),
					FormatDateTime(d.Timestamp),
					FormatDuration(d.Age(now)),
					d.Symbol,
					string(d.Kind),
					FormatPrice(d.Price),
					FormatConfidence(d.Confidence),
					TruncateString(d.Reason, 40),
				)
			}
			table.Render()
			output.Dim("%d pending", len(decisions))
			return nil
		},
	}

	cmd.Flags().StringVarP(&symbol, "symbol", "s", "", "only decisions for this symbol")
	cmd.Flags().IntVar(&minAgeHours, "min-age", 0, "minimum decision age in hours (default from config)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum decisions to list")

	return cmd
}

func newHistoryCmd(app *App) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent reflection runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := contextOrBackground(cmd)

			s, err := app.Store(ctx)
			if err != nil {
				return err
			}
			runs, err := s.RecentRuns(ctx, limit)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				if runs == nil {
					runs = []models.RunSummary{}
				}
				return output.JSON(runs)
			}
			if len(runs) == 0 {
				output.Info("No runs recorded yet")
				return nil
			}

			table := NewTable(output, "RUN", "STARTED", "DURATION", "CONSIDERED", "OK", "FAILED", "G/L/N", "MEAN P/L", "")
			for _, r := range runs {
				mode := ""
				if r.DryRun {
					mode = "dry run"
				}
				table.AddRow(
					strconv.FormatInt(r.ID, 10),
					FormatDateTime(r.StartedAt),
					FormatDuration(r.FinishedAt.Sub(r.StartedAt)),
					strconv.Itoa(r.Considered),
					strconv.Itoa(r.Succeeded),
					strconv.Itoa(r.Failed),
					fmt.Sprintf("%d/%d/%d", r.Gains, r.Losses, r.Neutral),
					output.Signed(r.AvgProfitLoss),
					mode,
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of runs to show")
	return cmd
}

// contextOrBackground guards commands executed without a context.
func contextOrBackground(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
