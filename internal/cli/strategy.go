package cli

import (
	"github.com/spf13/cobra"

	"marketpulse/internal/models"
)

func addStrategyCommands(rootCmd *cobra.Command, app *App) {
	strategyCmd := &cobra.Command{
		Use:   "strategy",
		Short: "Inspect and tune strategy parameters",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the account's strategy parameters",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)

			cfg, err := app.Store.GetStrategyConfig(cmd.Context(), userFlag(cmd))
			if err != nil {
				return err
			}

			if out.IsJSON() {
				return out.JSON(cfg)
			}
			out.Bold("Strategy for %s", cfg.UserID)
			out.Printf("  Risk preference:      %s\n", cfg.RiskPreference)
			out.Printf("  Active strategy:      %s (%d/%d)\n", cfg.ActiveStrategy, cfg.Param1, cfg.Param2)
			out.Printf("  Stop loss:            %.1f%%\n", cfg.StopLossPct*100)
			out.Printf("  Take profit:          %.1f%%\n", cfg.TakeProfitPct*100)
			out.Printf("  Max position size:    %.0f\n", cfg.MaxPositionSize)
			out.Printf("  Confidence threshold: %.2f\n", cfg.ConfidenceThreshold)
			out.Printf("  Lot size:             %d\n", cfg.LotSize)
			return nil
		},
	}

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Update strategy parameters",
		Long: `Update strategy parameters. Only given flags change; everything else
keeps its current value.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)

			cfg, err := app.Store.GetStrategyConfig(cmd.Context(), userFlag(cmd))
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("risk") {
				v, _ := cmd.Flags().GetString("risk")
				cfg.RiskPreference = models.RiskPreference(v)
			}
			if cmd.Flags().Changed("strategy") {
				cfg.ActiveStrategy, _ = cmd.Flags().GetString("strategy")
			}
			if cmd.Flags().Changed("param1") {
				cfg.Param1, _ = cmd.Flags().GetInt("param1")
			}
			if cmd.Flags().Changed("param2") {
				cfg.Param2, _ = cmd.Flags().GetInt("param2")
			}
			if cmd.Flags().Changed("stop-loss") {
				cfg.StopLossPct, _ = cmd.Flags().GetFloat64("stop-loss")
			}
			if cmd.Flags().Changed("take-profit") {
				cfg.TakeProfitPct, _ = cmd.Flags().GetFloat64("take-profit")
			}
			if cmd.Flags().Changed("max-position") {
				cfg.MaxPositionSize, _ = cmd.Flags().GetFloat64("max-position")
			}
			if cmd.Flags().Changed("confidence") {
				cfg.ConfidenceThreshold, _ = cmd.Flags().GetFloat64("confidence")
			}
			if cmd.Flags().Changed("lot-size") {
				cfg.LotSize, _ = cmd.Flags().GetInt64("lot-size")
			}

			if err := app.Store.UpdateStrategyConfig(cmd.Context(), cfg); err != nil {
				return err
			}

			if out.IsJSON() {
				return out.JSON(cfg)
			}
			out.Success("Strategy updated for %s", cfg.UserID)
			return nil
		},
	}
	setCmd.Flags().String("risk", "", "risk preference (AVERSE|NEUTRAL|SEEKING)")
	setCmd.Flags().String("strategy", "", "active strategy name")
	setCmd.Flags().Int("param1", 0, "strategy parameter 1 (short window)")
	setCmd.Flags().Int("param2", 0, "strategy parameter 2 (long window)")
	setCmd.Flags().Float64("stop-loss", 0, "stop-loss fraction")
	setCmd.Flags().Float64("take-profit", 0, "take-profit fraction")
	setCmd.Flags().Float64("max-position", 0, "cash budget per position")
	setCmd.Flags().Float64("confidence", 0, "minimum signal probability to act on")
	setCmd.Flags().Int64("lot-size", 0, "order size rounding unit")

	strategyCmd.AddCommand(showCmd, setCmd)
	rootCmd.AddCommand(strategyCmd)
}
