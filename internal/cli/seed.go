package cli

import (
	"fmt"
	"os"

	"github.com/gocarina/gocsv"
	"github.com/spf13/cobra"

	"marketpulse/internal/models"
)

type instrumentRow struct {
	InstrumentID string `csv:"instrument_id"`
	Name         string `csv:"name"`
	Exchange     string `csv:"exchange"`
	Category     string `csv:"category"`
}

// defaultInstruments is the built-in universe used when no CSV is given.
var defaultInstruments = []models.Instrument{
	{ID: "AAPL", Name: "Apple Inc.", Exchange: "NASDAQ", Category: "Technology"},
	{ID: "MSFT", Name: "Microsoft Corporation", Exchange: "NASDAQ", Category: "Technology"},
	{ID: "GOOG", Name: "Alphabet Inc.", Exchange: "NASDAQ", Category: "Technology"},
	{ID: "AMZN", Name: "Amazon.com Inc.", Exchange: "NASDAQ", Category: "Consumer"},
	{ID: "NVDA", Name: "NVIDIA Corporation", Exchange: "NASDAQ", Category: "Technology"},
	{ID: "TSM", Name: "Taiwan Semiconductor", Exchange: "NYSE", Category: "Technology"},
	{ID: "SPY", Name: "SPDR S&P 500 ETF", Exchange: "NYSEARCA", Category: "ETF"},
}

func addSeedCommand(rootCmd *cobra.Command, app *App) {
	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Register instruments in the warehouse",
		Long: `Register instruments from a CSV file (columns: instrument_id, name,
exchange, category) or the built-in default list. Upserts, so re-running
refreshes names and categories.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)
			csvPath, _ := cmd.Flags().GetString("csv")

			instruments := defaultInstruments
			if csvPath != "" {
				loaded, err := loadInstrumentsCSV(csvPath)
				if err != nil {
					return err
				}
				instruments = loaded
			}

			for i := range instruments {
				if err := app.Store.UpsertInstrument(cmd.Context(), &instruments[i]); err != nil {
					return err
				}
			}

			if out.IsJSON() {
				return out.JSON(map[string]interface{}{"seeded": len(instruments)})
			}
			out.Success("Seeded %d instruments", len(instruments))
			return nil
		},
	}

	seedCmd.Flags().String("csv", "", "CSV file of instruments to register")
	rootCmd.AddCommand(seedCmd)
}

func loadInstrumentsCSV(path string) ([]models.Instrument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var rows []instrumentRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	instruments := make([]models.Instrument, 0, len(rows))
	for _, row := range rows {
		instruments = append(instruments, models.Instrument{
			ID:       row.InstrumentID,
			Name:     row.Name,
			Exchange: row.Exchange,
			Category: row.Category,
		})
	}
	return instruments, nil
}
