package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"marketpulse/internal/cli"
	"marketpulse/internal/config"
	"marketpulse/internal/logging"
)

func main() {
	// Optional; env vars may come from the shell instead.
	_ = godotenv.Load()

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "marketpulse: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLoggerWithConfig(logging.LogConfig{
		Level:      cfg.Logging.Level,
		Console:    cfg.Logging.Console,
		File:       cfg.Logging.File,
		FilePath:   cfg.Logging.Path,
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     30,
	})

	rootCmd := cli.NewRootCmd(cfg, logger)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "marketpulse: %v\n", err)
		os.Exit(1)
	}
}
