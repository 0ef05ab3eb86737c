// Package pipeline orchestrates processing of one run package: extraction,
// artifact flattening, log parsing, matrix reconciliation, and persistence.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jonathan/evals-ingest/internal/archive"
	"github.com/jonathan/evals-ingest/internal/config"
	"github.com/jonathan/evals-ingest/internal/logs"
	"github.com/jonathan/evals-ingest/internal/metrics"
	"github.com/jonathan/evals-ingest/internal/reconcile"
	"github.com/jonathan/evals-ingest/internal/schemas"
)

// RecordStore persists a reconciled matrix. Implemented by db.Store; nil
// disables persistence (dry runs).
type RecordStore interface {
	PushRun(ctx context.Context, data map[string][]*reconcile.Record, buildID string) error
}

// Runner processes run packages one at a time. Each run gets a freshly wiped
// working directory; no state is carried between runs.
type Runner struct {
	cfg    config.Config
	logger zerolog.Logger
	store  RecordStore
}

// NewRunner creates a Runner. store may be nil to skip persistence.
func NewRunner(logger zerolog.Logger, cfg config.Config, store RecordStore) *Runner {
	return &Runner{cfg: cfg, logger: logger, store: store}
}

// ProcessRunData validates and extracts a run package, then reconciles and
// persists its results. Structural problems with the package (wrong format,
// missing subdirectories) are fatal and returned; everything downstream
// degrades to a best-effort matrix.
func (r *Runner) ProcessRunData(ctx context.Context, zipPath, buildID string) error {
	logger := r.logger.With().Str("build_id", buildID).Logger()

	if !strings.HasSuffix(zipPath, ".zip") {
		err := &InputFormatError{Message: "unsupported file format, expected a .zip file"}
		logger.Error().Err(err).Msg("rejecting run package")
		return err
	}

	logger.Info().Str("zip", zipPath).Msg("processing run package")

	// Fresh working directory per run, no cross-run leakage.
	if err := os.RemoveAll(r.cfg.DataDir); err != nil {
		return &TransientIOError{Op: "clearing data directory", Cause: err}
	}
	if err := os.MkdirAll(r.cfg.DataDir, 0o755); err != nil {
		return &TransientIOError{Op: "creating data directory", Cause: err}
	}

	if err := archive.ExtractZip(zipPath, r.cfg.DataDir); err != nil {
		wrapped := &InputFormatError{Message: "failed to extract run package", Cause: err}
		logger.Error().Err(wrapped).Msg("rejecting run package")
		return wrapped
	}

	for _, dir := range []string{r.cfg.LogsDir(), r.cfg.ArtifactsDir()} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			missing := &MissingDataError{Path: dir}
			logger.Error().Err(missing).Msg("run package incomplete")
			return missing
		}
	}

	flattener := archive.NewFlattener(logger, r.cfg.ArtifactsDir())
	if _, err := flattener.FlattenAll(r.cfg.ArtifactsDir()); err != nil {
		logger.Error().Err(err).Msg("artifact flattening failed, continuing without combined documents")
	}

	data := r.processData(buildID, logger)

	if r.store != nil {
		if err := r.store.PushRun(ctx, data, buildID); err != nil {
			logger.Error().Err(&PersistenceError{Cause: err}).Msg("database push incomplete")
		}
	}

	logger.Info().Msg("run data processing complete")
	return nil
}

// processData reads the run's record and metadata documents, back-fills error
// info from the logs, reconciles the matrix, and writes the combined document
// to the output directory. Always returns a matrix, possibly all placeholders.
func (r *Runner) processData(buildID string, logger zerolog.Logger) map[string][]*reconcile.Record {
	actual := r.loadActualRecords(buildID, logger)
	meta := r.loadMetadata(buildID, logger)

	parser := logs.NewParser(logger)
	locator := metrics.NewLocator(logger, r.cfg.ArtifactsDir())
	reconciler := reconcile.New(logger, parser, locator)

	reconciler.BackfillErrors(actual, r.cfg.LogsDir())
	data := reconciler.Reconcile(actual, meta, buildID)

	if err := r.writeMatrix(data, buildID); err != nil {
		logger.Error().Err(err).Msg("failed to write reconciled matrix document")
	}
	return data
}

// loadActualRecords reads job_records_<buildID>.json from the working
// directory. A missing, empty, or schema-invalid document degrades to empty
// input with a warning.
func (r *Runner) loadActualRecords(buildID string, logger zerolog.Logger) map[string][]map[string]any {
	path := filepath.Join(r.cfg.DataDir, fmt.Sprintf("job_records_%s.json", buildID))

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn().Str("file", path).Msg("record document missing, proceeding with empty pipeline data")
		return nil
	}

	if err := schemas.ValidateRecords(data); err != nil {
		logger.Warn().Str("file", path).Err(err).Msg("record document failed validation, proceeding with empty pipeline data")
		return nil
	}

	var records map[string][]map[string]any
	if err := json.Unmarshal(data, &records); err != nil {
		logger.Warn().Str("file", path).Err(err).Msg("record document unparsable, proceeding with empty pipeline data")
		return nil
	}
	if len(records) == 0 {
		logger.Warn().Str("file", path).Msg("record document is empty, proceeding with empty data")
	}
	return records
}

// loadMetadata reads job_records_metadata_<buildID>.json. Missing or invalid
// metadata yields zero-value Metadata; the reconciler substitutes defaults.
func (r *Runner) loadMetadata(buildID string, logger zerolog.Logger) reconcile.Metadata {
	path := filepath.Join(r.cfg.DataDir, fmt.Sprintf("job_records_metadata_%s.json", buildID))

	var meta reconcile.Metadata
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn().Str("file", path).Msg("metadata document missing, proceeding without metadata")
		return meta
	}

	if err := schemas.ValidateMetadata(data); err != nil {
		logger.Warn().Str("file", path).Err(err).Msg("metadata document failed validation, proceeding without metadata")
		return meta
	}

	if err := json.Unmarshal(data, &meta); err != nil {
		logger.Warn().Str("file", path).Err(err).Msg("metadata document unparsable, proceeding without metadata")
		return reconcile.Metadata{}
	}

	logger.Info().Interface("metadata", meta).Msg("loaded run metadata")
	return meta
}

// writeMatrix serializes the reconciled matrix to the well-known output path
// for the build.
func (r *Runner) writeMatrix(data map[string][]*reconcile.Record, buildID string) error {
	if err := os.MkdirAll(r.cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	payload, err := json.MarshalIndent(data, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal matrix: %w", err)
	}

	path := filepath.Join(r.cfg.OutputDir, fmt.Sprintf("jsonDB_%s.json", buildID))
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
