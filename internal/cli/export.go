package cli

import (
	"fmt"
	"os"

	"github.com/gocarina/gocsv"
	"github.com/spf13/cobra"

	"marketpulse/internal/models"
	"marketpulse/internal/store"
)

type transactionRow struct {
	TradeTime    string  `csv:"trade_time"`
	InstrumentID string  `csv:"instrument_id"`
	Side         string  `csv:"side"`
	Price        float64 `csv:"price"`
	Shares       int64   `csv:"shares"`
	Fee          float64 `csv:"fee"`
	Tax          float64 `csv:"tax"`
	TotalAmount  float64 `csv:"total_amount"`
}

type snapshotRow struct {
	Date        string  `csv:"date"`
	CashBalance float64 `csv:"cash_balance"`
	StockValue  float64 `csv:"stock_value"`
	TotalAssets float64 `csv:"total_assets"`
}

func addExportCommands(rootCmd *cobra.Command, app *App) {
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export ledger data to CSV",
	}

	transactionsCmd := &cobra.Command{
		Use:   "transactions",
		Short: "Export the trade ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)
			path, _ := cmd.Flags().GetString("out")

			txns, err := app.Store.GetTransactions(cmd.Context(), store.TransactionFilter{
				UserID: userFlag(cmd),
			})
			if err != nil {
				return err
			}

			rows := make([]transactionRow, 0, len(txns))
			for _, t := range txns {
				rows = append(rows, transactionRow{
					TradeTime:    t.TradeTime.Format("2006-01-02 15:04:05"),
					InstrumentID: t.InstrumentID,
					Side:         string(t.Side),
					Price:        t.Price,
					Shares:       t.Shares,
					Fee:          t.Fee,
					Tax:          t.Tax,
					TotalAmount:  t.TotalAmount,
				})
			}

			if err := writeCSV(path, &rows); err != nil {
				return err
			}
			out.Success("Exported %d transactions to %s", len(rows), path)
			return nil
		},
	}
	transactionsCmd.Flags().String("out", "transactions.csv", "output file")

	snapshotsCmd := &cobra.Command{
		Use:   "snapshots",
		Short: "Export the daily equity curve",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)
			path, _ := cmd.Flags().GetString("out")
			from, to, err := rangeFlags(cmd)
			if err != nil {
				return err
			}

			snaps, err := app.Store.GetSnapshots(cmd.Context(), userFlag(cmd), from, to)
			if err != nil {
				return err
			}

			rows := make([]snapshotRow, 0, len(snaps))
			for _, s := range snaps {
				rows = append(rows, snapshotRow{
					Date:        s.Date.Format(models.DateFormat),
					CashBalance: s.CashBalance,
					StockValue:  s.StockValue,
					TotalAssets: s.TotalAssets,
				})
			}

			if err := writeCSV(path, &rows); err != nil {
				return err
			}
			out.Success("Exported %d snapshots to %s", len(rows), path)
			return nil
		},
	}
	snapshotsCmd.Flags().String("out", "snapshots.csv", "output file")
	snapshotsCmd.Flags().String("from", "", "range start (YYYY-MM-DD, default 30 days ago)")
	snapshotsCmd.Flags().String("to", "", "range end (YYYY-MM-DD, default today)")

	exportCmd.AddCommand(transactionsCmd, snapshotsCmd)
	rootCmd.AddCommand(exportCmd)
}

func writeCSV(path string, rows interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if err := gocsv.MarshalFile(rows, f); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
