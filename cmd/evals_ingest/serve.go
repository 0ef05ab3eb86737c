package main

import (
	"github.com/spf13/cobra"

	"github.com/jonathan/evals-ingest/internal/db"
	"github.com/jonathan/evals-ingest/internal/pipeline"
	"github.com/jonathan/evals-ingest/internal/server"
)

var (
	servePort    int
	serveConfig  string
	serveVerbose bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the run package ingestion server",
	Long:  `Start an HTTP server that accepts uploaded run packages and processes them one at a time.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveConfig, "config", "", "Path to JSON config file")
	serveCmd.Flags().BoolVarP(&serveVerbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig(serveConfig)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Verbose || serveVerbose)

	port := cfg.Port
	if servePort != 0 {
		port = servePort
	}
	if port == 0 {
		port = 8080
	}

	var store pipeline.RecordStore
	if len(cfg.Databases) > 0 {
		registry := db.NewRegistry(logger, cfg.Databases)
		defer registry.Close()
		store = db.NewStore(logger, registry)
	} else {
		logger.Warn().Msg("no databases configured, runs will not be persisted")
	}

	runner := pipeline.NewRunner(logger, cfg, store)
	srv := server.New(server.Config{Port: port, AuthSecret: cfg.AuthSecret}, runner, logger)
	return srv.Start()
}
