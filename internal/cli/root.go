package cli

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"marketpulse/internal/config"
	"marketpulse/internal/logging"
	"marketpulse/internal/quotes"
	"marketpulse/internal/sim"
	"marketpulse/internal/store"
)

// Version information
const Version = "0.1.0"

// App holds the application dependencies.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Store  store.Store
	Fees   sim.Fees
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
		Fees:   sim.NewFees(cfg.Fees.FeeRate, cfg.Fees.MinFee, cfg.Fees.TaxRate),
	}

	rootCmd := &cobra.Command{
		Use:   "marketpulse",
		Short: "Market Pulse - market data warehouse and paper-trading simulator",
		Long: `Market Pulse loads daily market data into a relational warehouse,
tracks directional signals and their realized outcomes, and drives a
paper-trading simulation with a full cash, position, and trade ledger.

Use 'marketpulse help <command>' for more information about a command.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}

			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			app.Store = st
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if app.Store != nil {
				return app.Store.Close()
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().String("user", cfg.Sim.DefaultUser, "simulation account to act as")

	addSeedCommand(rootCmd, app)
	addETLCommands(rootCmd, app)
	addSignalCommands(rootCmd, app)
	addSimCommands(rootCmd, app)
	addStrategyCommands(rootCmd, app)
	addExportCommands(rootCmd, app)

	return rootCmd
}

// openStore picks the backend from config: Postgres when a URL is set,
// SQLite otherwise.
func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Database.Backend {
	case "postgres":
		return store.NewPostgresStore(cfg.Database.URL)
	default:
		return store.NewSQLiteStore(cfg.Database.Path)
	}
}

// newProvider picks the quote provider from config.
func newProvider(cfg *config.Config) (quotes.Provider, error) {
	switch cfg.ETL.Provider {
	case "csv":
		return quotes.NewCSVProvider(cfg.ETL.CSVDir), nil
	case "yahoo":
		return quotes.NewYahooProvider(), nil
	default:
		return nil, fmt.Errorf("unknown quote provider %q", cfg.ETL.Provider)
	}
}

// userFlag resolves the acting simulation account.
func userFlag(cmd *cobra.Command) string {
	user, _ := cmd.Flags().GetString("user")
	return user
}
