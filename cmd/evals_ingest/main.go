// Package main provides the entry point for the evals ingestion service.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jonathan/evals-ingest/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "evals_ingest",
	Short: "CI evals result ingester",
	Long:  "evals_ingest reconciles pipeline run artifacts against the expected test matrix, enriches records with parsed log errors and performance metrics, and pushes the result to the workloads databases.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}).Level(level).With().Timestamp().Logger()
}

// loadConfig layers environment variables over an optional JSON config file
// and fills remaining gaps with defaults.
func loadConfig(path string) (config.Config, error) {
	cfg := config.FromEnv()

	if path != "" {
		fileCfg, err := config.LoadConfig(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = cfg.MergeWithDefaults(*fileCfg)
	} else {
		cfg = cfg.MergeWithDefaults(config.Config{})
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
