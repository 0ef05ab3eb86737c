package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jonathan/evals-ingest/internal/config"
	"github.com/jonathan/evals-ingest/internal/db"
	"github.com/jonathan/evals-ingest/internal/pipeline"
)

var (
	processZip     string
	processBuildID string
	processConfig  string
	processDryRun  bool
	processVerbose bool
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process a run package ZIP",
	Long:  `Process a single run package: extract it, reconcile results against the expected test matrix, and push the matrix to the workloads databases.`,
	RunE:  runProcess,
}

func init() {
	processCmd.Flags().StringVar(&processZip, "zip", "", "Path to the run package ZIP (required)")
	processCmd.Flags().StringVar(&processBuildID, "build-id", "", "Build ID (derived from the filename if omitted)")
	processCmd.Flags().StringVar(&processConfig, "config", "", "Path to JSON config file")
	processCmd.Flags().BoolVar(&processDryRun, "dry-run", false, "Skip the database push")
	processCmd.Flags().BoolVarP(&processVerbose, "verbose", "v", false, "Enable debug logging")
	_ = processCmd.MarkFlagRequired("zip")
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(processConfig)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Verbose || processVerbose)

	buildID := processBuildID
	if buildID == "" {
		base := filepath.Base(processZip)
		if !strings.HasSuffix(base, config.ZipSuffix) {
			return fmt.Errorf("cannot derive build ID: filename must end with %s (or pass --build-id)", config.ZipSuffix)
		}
		buildID = strings.TrimSuffix(base, config.ZipSuffix)
	}

	var store pipeline.RecordStore
	if !processDryRun && len(cfg.Databases) > 0 {
		registry := db.NewRegistry(logger, cfg.Databases)
		defer registry.Close()
		store = db.NewStore(logger, registry)
	} else {
		logger.Info().Msg("no databases configured or dry run, skipping persistence")
	}

	runner := pipeline.NewRunner(logger, cfg, store)
	return runner.ProcessRunData(cmd.Context(), processZip, buildID)
}
