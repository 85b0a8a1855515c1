package cli

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"marketpulse/internal/models"
	"marketpulse/internal/signals"
)

func addSignalCommands(rootCmd *cobra.Command, app *App) {
	signalsCmd := &cobra.Command{
		Use:   "signals",
		Short: "Record and settle directional signals",
	}

	recordCmd := &cobra.Command{
		Use:   "record <symbol> <Bull|Bear> <probability>",
		Short: "Record a directional call for today",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)

			probability, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return err
			}
			entry, _ := cmd.Flags().GetFloat64("entry")
			target, _ := cmd.Flags().GetFloat64("target")
			stop, _ := cmd.Flags().GetFloat64("stop")
			dateFlag, _ := cmd.Flags().GetString("date")

			date := today()
			if dateFlag != "" {
				date, err = time.Parse(models.DateFormat, dateFlag)
				if err != nil {
					return err
				}
			}

			sig := models.Signal{
				InstrumentID: args[0],
				Date:         date,
				Direction:    models.Direction(args[1]),
				Probability:  probability,
				EntryPrice:   entry,
				TargetPrice:  target,
				StopPrice:    stop,
			}

			svc := signals.NewService(app.Store, app.Logger)
			if err := svc.Record(cmd.Context(), &sig); err != nil {
				return err
			}

			if out.IsJSON() {
				return out.JSON(sig)
			}
			out.Success("Recorded %s %s @ %.0f%% for %s",
				sig.InstrumentID, sig.Direction, probability*100, date.Format(models.DateFormat))
			return nil
		},
	}
	recordCmd.Flags().Float64("entry", 0, "entry price of the call")
	recordCmd.Flags().Float64("target", 0, "target price of the call")
	recordCmd.Flags().Float64("stop", 0, "stop price of the call")
	recordCmd.Flags().String("date", "", "signal date (YYYY-MM-DD, default today)")

	settleCmd := &cobra.Command{
		Use:   "settle",
		Short: "Settle past signals against realized closes",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)

			svc := signals.NewService(app.Store, app.Logger)
			result, err := svc.Settle(cmd.Context(), time.Now().UTC())
			if err != nil {
				return err
			}

			if out.IsJSON() {
				return out.JSON(result)
			}
			out.Success("Settled %d signals (%d waiting on price data)", result.Settled, result.Skipped)
			return nil
		},
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show accuracy statistics over settled signals",
		Long: `Show accuracy statistics over settled signals: a summary over the range
by default, or the per-date aggregates from the daily stats table with
--daily.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)
			from, to, err := rangeFlags(cmd)
			if err != nil {
				return err
			}

			if daily, _ := cmd.Flags().GetBool("daily"); daily {
				stats, err := app.Store.GetDailyStats(cmd.Context(), from, to)
				if err != nil {
					return err
				}
				if out.IsJSON() {
					return out.JSON(stats)
				}
				if len(stats) == 0 {
					out.Warning("No settled signals in range")
					return nil
				}
				for _, day := range stats {
					out.Printf("  %s  %2d/%2d  win %5.1f%%  avg %s\n",
						day.Date.Format(models.DateFormat), day.CorrectPredictions, day.TotalPredictions,
						day.WinRate*100, out.Signed(day.AvgReturn, percent(day.AvgReturn)))
				}
				return nil
			}

			svc := signals.NewService(app.Store, app.Logger)
			summary, err := svc.Summarize(cmd.Context(), from, to)
			if err != nil {
				return err
			}

			if out.IsJSON() {
				return out.JSON(summary)
			}
			if summary.Total == 0 {
				out.Warning("No settled signals in range")
				return nil
			}
			out.Bold("Signal performance %s → %s", from.Format(models.DateFormat), to.Format(models.DateFormat))
			out.Printf("  Signals:    %d\n", summary.Total)
			out.Printf("  Correct:    %d\n", summary.Correct)
			out.Printf("  Win rate:   %.1f%%\n", summary.WinRate*100)
			out.Printf("  Avg return: %s\n", out.Signed(summary.AvgReturn, percent(summary.AvgReturn)))
			out.Printf("  Stddev:     %.2f%%\n", summary.ReturnStdev*100)
			return nil
		},
	}
	statsCmd.Flags().String("from", "", "range start (YYYY-MM-DD, default 30 days ago)")
	statsCmd.Flags().String("to", "", "range end (YYYY-MM-DD, default today)")
	statsCmd.Flags().Bool("daily", false, "show the per-date aggregates instead of the summary")

	signalsCmd.AddCommand(recordCmd, settleCmd, statsCmd)
	rootCmd.AddCommand(signalsCmd)
}

func today() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func percent(v float64) string {
	return strconv.FormatFloat(v*100, 'f', 2, 64) + "%"
}

// rangeFlags parses --from/--to, defaulting to the trailing 30 days.
func rangeFlags(cmd *cobra.Command) (time.Time, time.Time, error) {
	fromFlag, _ := cmd.Flags().GetString("from")
	toFlag, _ := cmd.Flags().GetString("to")

	to := today()
	from := to.AddDate(0, 0, -30)

	var err error
	if fromFlag != "" {
		from, err = time.Parse(models.DateFormat, fromFlag)
		if err != nil {
			return from, to, err
		}
	}
	if toFlag != "" {
		to, err = time.Parse(models.DateFormat, toFlag)
		if err != nil {
			return from, to, err
		}
	}
	return from, to, nil
}
