package cli

import (
	"time"

	"github.com/spf13/cobra"

	"marketpulse/internal/etl"
)

func addETLCommands(rootCmd *cobra.Command, app *App) {
	etlCmd := &cobra.Command{
		Use:   "etl",
		Short: "Load and maintain daily price facts",
	}

	runCmd := &cobra.Command{
		Use:   "run [symbols...]",
		Short: "Fetch daily bars and upsert price facts",
		Long: `Fetch daily bars for the given symbols (or every registered instrument
with --all) and upsert them as price facts with derived moving averages.
Failures are per symbol; one bad feed does not abort the run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)
			all, _ := cmd.Flags().GetBool("all")
			days, _ := cmd.Flags().GetInt("days")
			workers, _ := cmd.Flags().GetInt("workers")

			symbols := args
			if all || len(symbols) == 0 {
				instruments, err := app.Store.ListInstruments(cmd.Context())
				if err != nil {
					return err
				}
				symbols = symbols[:0]
				for _, inst := range instruments {
					symbols = append(symbols, inst.ID)
				}
			}
			if len(symbols) == 0 {
				out.Warning("No instruments registered; run 'marketpulse seed' first")
				return nil
			}

			provider, err := newProvider(app.Config)
			if err != nil {
				return err
			}

			to := time.Now().UTC()
			from := to.AddDate(0, 0, -days)
			pipeline := etl.NewPipeline(app.Store, provider, app.Logger, workers)
			results := pipeline.Run(cmd.Context(), symbols, from, to)

			loaded, failed := 0, 0
			for _, r := range results {
				if r.Err != nil {
					failed++
					out.Error("%-8s failed: %v", r.InstrumentID, r.Err)
				} else {
					loaded += r.Rows
				}
			}

			if out.IsJSON() {
				return out.JSON(map[string]interface{}{
					"symbols": len(symbols), "rows": loaded, "failed": failed,
				})
			}
			out.Success("Loaded %d rows across %d symbols (%d failed)", loaded, len(symbols), failed)
			return nil
		},
	}
	runCmd.Flags().Bool("all", false, "load every registered instrument")
	runCmd.Flags().Int("days", app.Config.ETL.Days, "lookback window in days")
	runCmd.Flags().Int("workers", app.Config.ETL.Workers, "concurrent symbol loads")

	recomputeCmd := &cobra.Command{
		Use:   "recompute <symbol>",
		Short: "Rebuild moving averages over stored history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)

			provider, err := newProvider(app.Config)
			if err != nil {
				return err
			}

			pipeline := etl.NewPipeline(app.Store, provider, app.Logger, 1)
			rows, err := pipeline.RecomputeIndicators(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if out.IsJSON() {
				return out.JSON(map[string]interface{}{"instrument": args[0], "rows": rows})
			}
			out.Success("Recomputed indicators over %d rows for %s", rows, args[0])
			return nil
		},
	}

	etlCmd.AddCommand(runCmd, recomputeCmd)
	rootCmd.AddCommand(etlCmd)
}
