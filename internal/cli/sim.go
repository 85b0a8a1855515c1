package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	apperrors "marketpulse/internal/errors"
	"marketpulse/internal/models"
	"marketpulse/internal/sim"
	"marketpulse/internal/store"
)

func addSimCommands(rootCmd *cobra.Command, app *App) {
	simCmd := &cobra.Command{
		Use:   "sim",
		Short: "Run the paper-trading simulation",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create a simulation account with seed cash",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)
			cash, _ := cmd.Flags().GetFloat64("cash")
			user := userFlag(cmd)

			err := app.Store.CreateAccount(cmd.Context(), user, cash)
			var uniq *apperrors.UniquenessError
			if apperrors.As(err, &uniq) {
				out.Warning("Account %s already exists", user)
				return nil
			}
			if err != nil {
				return err
			}

			if out.IsJSON() {
				return out.JSON(map[string]interface{}{"user": user, "cash": cash})
			}
			out.Success("Created account %s with %.2f cash", user, cash)
			return nil
		},
	}
	initCmd.Flags().Float64("cash", app.Config.Sim.InitialCash, "initial cash balance")

	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Place pending orders from today's signals and exit rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)
			date, err := dateFlag(cmd)
			if err != nil {
				return err
			}

			planner := sim.NewPlanner(app.Store, app.Fees, app.Logger)
			orders, err := planner.Plan(cmd.Context(), userFlag(cmd), date)
			if err != nil {
				return err
			}

			if out.IsJSON() {
				return out.JSON(orders)
			}
			if len(orders) == 0 {
				out.Warning("Nothing to plan for %s", date.Format(models.DateFormat))
				return nil
			}
			for _, o := range orders {
				out.Printf("  %-4s %-8s %6d @ %.2f\n", o.Side, o.InstrumentID, o.Shares, o.Price)
			}
			out.Success("Placed %d pending orders", len(orders))
			return nil
		},
	}
	planCmd.Flags().String("date", "", "planning date (YYYY-MM-DD, default today)")

	settleCmd := &cobra.Command{
		Use:   "settle",
		Short: "Execute pending orders against the day's bars and snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)
			date, err := dateFlag(cmd)
			if err != nil {
				return err
			}

			engine := sim.NewEngine(app.Store, app.Fees, app.Logger)
			result, err := engine.Settle(cmd.Context(), userFlag(cmd), date)
			if err != nil {
				return err
			}

			if out.IsJSON() {
				return out.JSON(result)
			}
			out.Success("Filled %d orders, cancelled %d", result.Filled, result.Cancelled)
			if result.Snapshot != nil {
				out.Printf("  Cash %.2f + stock %.2f = %.2f total\n",
					result.Snapshot.CashBalance, result.Snapshot.StockValue, result.Snapshot.TotalAssets)
			}
			return nil
		},
	}
	settleCmd.Flags().String("date", "", "settlement date (YYYY-MM-DD, default today)")

	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Write the end-of-day portfolio valuation",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)
			date, err := dateFlag(cmd)
			if err != nil {
				return err
			}

			snap, err := app.Store.SnapshotDay(cmd.Context(), userFlag(cmd), date)
			if err != nil {
				return err
			}

			if out.IsJSON() {
				return out.JSON(snap)
			}
			out.Success("Snapshot %s: cash %.2f + stock %.2f = %.2f",
				snap.Date.Format(models.DateFormat), snap.CashBalance, snap.StockValue, snap.TotalAssets)
			return nil
		},
	}
	snapshotCmd.Flags().String("date", "", "snapshot date (YYYY-MM-DD, default today)")

	accountCmd := &cobra.Command{
		Use:   "account",
		Short: "Show the account's cash and total assets",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)

			acc, err := app.Store.GetAccount(cmd.Context(), userFlag(cmd))
			if err != nil {
				return err
			}

			if out.IsJSON() {
				return out.JSON(acc)
			}
			out.Bold("Account %s", acc.UserID)
			out.Printf("  Cash:  %.2f\n", acc.CashBalance)
			out.Printf("  Total: %.2f\n", acc.TotalAsset)
			return nil
		},
	}

	holdingsCmd := &cobra.Command{
		Use:   "holdings",
		Short: "Show current positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)

			holdings, err := app.Store.GetHoldings(cmd.Context(), userFlag(cmd))
			if err != nil {
				return err
			}

			if out.IsJSON() {
				return out.JSON(holdings)
			}
			if len(holdings) == 0 {
				out.Warning("No open positions")
				return nil
			}
			for _, h := range holdings {
				price, _, err := app.Store.GetLatestClose(cmd.Context(), h.InstrumentID, today())
				if apperrors.Is(err, apperrors.ErrNoPriceData) {
					price = h.AvgCost
				} else if err != nil {
					return err
				}
				pnl := h.MarketValue(price) - float64(h.Shares)*h.AvgCost
				out.Printf("  %-8s %8d @ %.2f  value %.2f  %s\n",
					h.InstrumentID, h.Shares, h.AvgCost, h.MarketValue(price),
					out.Signed(pnl, fmtSigned(pnl)))
			}
			return nil
		},
	}

	ordersCmd := &cobra.Command{
		Use:   "orders",
		Short: "List simulated orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)
			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")

			orders, err := app.Store.GetOrders(cmd.Context(), store.OrderFilter{
				UserID: userFlag(cmd),
				Status: models.OrderStatus(status),
				Limit:  limit,
			})
			if err != nil {
				return err
			}

			if out.IsJSON() {
				return out.JSON(orders)
			}
			if len(orders) == 0 {
				out.Warning("No orders")
				return nil
			}
			for _, o := range orders {
				out.Printf("  %s  %-4s %-8s %6d @ %.2f  %s\n",
					o.Date.Format(models.DateFormat), o.Side, o.InstrumentID, o.Shares, o.Price, o.Status)
			}
			return nil
		},
	}
	ordersCmd.Flags().String("status", "", "filter by status (PENDING|FILLED|CANCELLED)")
	ordersCmd.Flags().Int("limit", 50, "maximum rows")

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show the executed trade ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)
			limit, _ := cmd.Flags().GetInt("limit")

			txns, err := app.Store.GetTransactions(cmd.Context(), store.TransactionFilter{
				UserID: userFlag(cmd),
				Limit:  limit,
			})
			if err != nil {
				return err
			}

			if out.IsJSON() {
				return out.JSON(txns)
			}
			if len(txns) == 0 {
				out.Warning("No trades yet")
				return nil
			}
			for _, t := range txns {
				out.Printf("  %s  %-4s %-8s %6d @ %.2f  fee %.0f tax %.0f  total %.2f\n",
					t.TradeTime.Format("2006-01-02 15:04"), t.Side, t.InstrumentID,
					t.Shares, t.Price, t.Fee, t.Tax, t.TotalAmount)
			}
			return nil
		},
	}
	historyCmd.Flags().Int("limit", 50, "maximum rows")

	simCmd.AddCommand(initCmd, planCmd, settleCmd, snapshotCmd, accountCmd, holdingsCmd, ordersCmd, historyCmd)
	rootCmd.AddCommand(simCmd)
}

// dateFlag parses --date, defaulting to today.
func dateFlag(cmd *cobra.Command) (time.Time, error) {
	flag, _ := cmd.Flags().GetString("date")
	if flag == "" {
		return today(), nil
	}
	return time.Parse(models.DateFormat, flag)
}

func fmtSigned(v float64) string {
	return fmt.Sprintf("%+.2f", v)
}
