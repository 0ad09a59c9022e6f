package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"trade-reflector/internal/models"
	"trade-reflector/internal/store"
)

func addDiaryCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newDiaryCmd(app))
	rootCmd.AddCommand(newStatsCmd(app))
}

func newDiaryCmd(app *App) *cobra.Command {
	var (
		symbol string
		limit  int
		full   bool
	)

	cmd := &cobra.Command{
		Use:   "diary",
		Short: "Show analyzed decisions with their reflections",
		Long:  "Show analyzed decisions, latest reflection first.",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := contextOrBackground(cmd)

			s, err := app.Store(ctx)
			if err != nil {
				return err
			}
			decisions, err := s.Reflections(ctx, store.ReflectionFilter{Symbol: symbol, Limit: limit})
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
				output.Info("No reflections yet")
				return nil
			}

			for _, d := range decisions {
				printDiaryEntry(output, d, full)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&symbol, "symbol", "s", "", "only decisions for this symbol")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	cmd.Flags().BoolVar(&full, "full", false, "print reflections without truncation")

	return cmd
}

func printDiaryEntry(output *Output, d models.Decision, full bool) {
	a := d.Analysis
	output.Bold("#%d  %s %s @ %s  %s", d.ID, d.Kind, d.Symbol, FormatPrice(d.Price), FormatDateTime(d.Timestamp))
	output.Printf("  Result:     %s %s\n", output.Outcome(a.Classification), output.Signed(a.ProfitLoss))
	output.Printf("  Outcome:    %s\n", a.Summary)
	if d.Reason != "" {
		output.Printf("  Reasoning:  %s\n", TruncateString(d.Reason, 120))
	}
	text := a.Reflection
	if !full {
		text = TruncateString(text, 280)
	}
	output.Printf("  Reflection: %s\n", text)
	output.Dim("  reflected %s", FormatDateTime(a.ReflectedAt))
	output.Println()
}

func newStatsCmd(app *App) *cobra.Command {
	var symbol string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show outcome statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := contextOrBackground(cmd)

			s, err := app.Store(ctx)
			if err != nil {
				return err
			}
			stats, err := s.OutcomeStats(ctx, symbol)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(stats)
			}

			title := "Outcome Statistics"
			if symbol != "" {
				title += " - " + symbol
			}
			output.Bold(title)
			output.Printf("  Analyzed:    %d\n", stats.Analyzed)
			output.Printf("  Pending:     %d\n", stats.Pending)
			output.Printf("  Gains:       %d\n", stats.Gains)
			output.Printf("  Losses:      %d\n", stats.Losses)
			output.Printf("  Neutral:     %d\n", stats.Neutral)
			if stats.Analyzed > 0 {
				output.Printf("  Win Rate:    %s%%\n", strconv.FormatFloat(stats.WinRate, 'f', 1, 64))
				output.Printf("  Mean P/L:    %s\n", output.Signed(stats.AvgProfitLoss))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&symbol, "symbol", "s", "", "only decisions for this symbol")
	return cmd
}
