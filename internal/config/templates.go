package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Market Pulse Configuration

[database]
# Store backend: "sqlite" or "postgres"
backend = "sqlite"
# SQLite database file (sqlite backend)
path = "%s"
# Postgres connection string (postgres backend); DATABASE_URL overrides
url = ""

[etl]
# Quote provider: "yahoo" or "csv"
provider = "yahoo"
# Directory of <SYMBOL>.csv files for the csv provider
csv_dir = "%s"
# Concurrent symbol loads
workers = 4
# Default lookback window in days for etl run
days = 90

[fees]
# Commission rate on trade amount
fee_rate = 0.001425
# Commission floor per trade
min_fee = 20.0
# Transaction tax rate on sells
tax_rate = 0.003

[sim]
# Account used when --user is not given
default_user = "default"
# Cash seeded by sim init
initial_cash = 1000000.0

[logging]
# Log level: debug, info, warn, error
level = "info"
console = true
file = true
path = "%s"
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	content := fmt.Sprintf(configTemplate,
		filepath.Join(configDir, "marketpulse.db"),
		filepath.Join(configDir, "quotes"),
		filepath.Join(configDir, "logs", "marketpulse.log"))

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}
