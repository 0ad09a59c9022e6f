package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"trade-reflector/internal/models"
)

func addDecisionCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newRecordCmd(app))
	rootCmd.AddCommand(newSchemaCmd(app))
}

func newRecordCmd(app *App) *cobra.Command {
	var (
		symbol     string
		kind       string
		price      float64
		confidence float64
		reason     string
		at         string
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a trading decision",
		Example: `  reflector record --symbol BTC --kind buy --price 95000000 --confidence 0.7 --reason "breakout"
  reflector record --symbol ETH --kind hold --at 2024-06-01T09:00:00Z`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := contextOrBackground(cmd)

			k, err := models.ParseDecisionKind(kind)
			if err != nil {
				return err
			}
			if k != models.KindHold && price <= 0 {
				return fmt.Errorf("--price is required for %s decisions", k)
			}

			d := &models.Decision{
				Symbol:     symbol,
				Kind:       k,
				Price:      price,
				Confidence: confidence,
				Reason:     reason,
			}
			if at != "" {
				ts, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at (want RFC3339): %w", err)
				}
				d.Timestamp = ts
			}

			s, err := app.Store(ctx)
			if err != nil {
				return err
			}
			if _, err := s.Record(ctx, d); err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(d)
			}
			output.Success("Recorded decision #%d: %s %s @ %s", d.ID, d.Kind, d.Symbol, FormatPrice(d.Price))
			return nil
		},
	}

	cmd.Flags().StringVarP(&symbol, "symbol", "s", "", "symbol, e.g. BTC")
	cmd.Flags().StringVarP(&kind, "kind", "k", "", "decision kind: buy, sell or hold")
	cmd.Flags().Float64VarP(&price, "price", "p", 0, "execution price")
	cmd.Flags().Float64Var(&confidence, "confidence", 0, "confidence score")
	cmd.Flags().StringVar(&reason, "reason", "", "rationale for the decision")
	cmd.Flags().StringVar(&at, "at", "", "decision time in RFC3339 (default now)")
	cmd.MarkFlagRequired("symbol")
	cmd.MarkFlagRequired("kind")

	return cmd
}

func newSchemaCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			// Store runs EnsureSchema when it opens the database.
			if _, err := app.Store(contextOrBackground(cmd)); err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]string{"driver": app.Config.Store.Driver, "status": "ok"})
			}
			output.Success("Schema is up to date (%s)", app.Config.Store.Driver)
			return nil
		},
	}
}
