package reconcile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jonathan/evals-ingest/internal/config"
	"github.com/jonathan/evals-ingest/internal/logs"
)

// MetricLocator finds the performance metric document for an evaluation case.
type MetricLocator interface {
	Locate(architecture, testcaseName string) any
}

// Reconciler builds the full expected matrix and merges actual run data into it.
type Reconciler struct {
	logger  zerolog.Logger
	parser  *logs.Parser
	locator MetricLocator
}

// New creates a Reconciler.
func New(logger zerolog.Logger, parser *logs.Parser, locator MetricLocator) *Reconciler {
	return &Reconciler{logger: logger, parser: parser, locator: locator}
}

// BackfillErrors parses every .txt log file in logsDir and writes the error
// classification code and message onto actual records whose id matches the
// log filename's leading underscore-delimited token. Later spans overwrite
// earlier ones for the same record.
func (r *Reconciler) BackfillErrors(actual map[string][]map[string]any, logsDir string) {
	entries, err := os.ReadDir(logsDir)
	if err != nil {
		r.logger.Error().Str("dir", logsDir).Err(err).Msg("failed to list log files")
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".txt") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(logsDir, name))
		if err != nil {
			r.logger.Error().Str("file", name).Err(err).Msg("failed to read log file")
			continue
		}

		spans := r.parser.Parse(string(data))
		runRecordID := strings.SplitN(name, "_", 2)[0]

		for _, span := range spans {
			for _, records := range actual {
				for _, rec := range records {
					id, _ := rec["id"].(string)
					if id != runRecordID {
						continue
					}
					testcase, _ := rec["TestcaseName"].(string)
					rec["ErrorType"] = ErrorCode(testcase)
					rec["ErrorMessage"] = span.Message
				}
			}
		}
	}
}

type matrixKey struct {
	platform string
	testcase string
}

// Reconcile generates the placeholder matrix for buildID, merges actual
// records by (platform, testcase name), and attaches performance metrics to
// succeeded evaluation cases. It never fails: any panic is logged and the
// matrix built so far is returned.
func (r *Reconciler) Reconcile(actual map[string][]map[string]any, meta Metadata, buildID string) (result map[string][]*Record) {
	result = make(map[string][]*Record, len(config.Platforms))

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().Interface("panic", p).Msg("reconciliation aborted, returning partial matrix")
		}
	}()

	for _, platform := range config.Platforms {
		for _, model := range config.Models {
			for _, phase := range config.Phases {
				result[platform] = append(result[platform], r.placeholder(platform, model, phase, meta, buildID))
			}
		}
	}

	if len(actual) == 0 {
		r.logger.Info().Str("build_id", buildID).Msg("no actual records, matrix is all placeholders")
		return result
	}

	// Malformed entries (missing the test-case name) are silently discarded.
	valid := make(map[matrixKey]map[string]any)
	for platform, records := range actual {
		for _, rec := range records {
			name, ok := rec["TestcaseName"].(string)
			if !ok {
				continue
			}
			valid[matrixKey{platform, name}] = rec
		}
	}

	for _, platform := range config.Platforms {
		for _, rec := range result[platform] {
			actualRec, ok := valid[matrixKey{platform, rec.TestcaseName}]
			if !ok {
				continue
			}
			rec.applyActual(actualRec)

			if rec.Status == StatusSucceeded && strings.Contains(rec.TestcaseName, "Evaluation") {
				rec.PerformanceMetrics = r.locator.Locate(rec.Architecture, rec.TestcaseName)
			}
			// Document-shaped metrics are stored as serialized text.
			if doc, ok := rec.PerformanceMetrics.(map[string]any); ok {
				if data, err := json.Marshal(doc); err == nil {
					rec.PerformanceMetrics = string(data)
				}
			}
		}
	}

	r.logger.Info().Str("build_id", buildID).Msg("test case data generation complete")
	return result
}

func (r *Reconciler) placeholder(platform, model, phase string, meta Metadata, buildID string) *Record {
	return &Record{
		TestcaseName:       TestcaseName(phase, platform, model),
		Architecture:       platform,
		PipelineRunID:      buildID,
		PipelineRunLink:    config.RunLink(buildID),
		Status:             StatusSkipped,
		TimeStamp:          notAvailable,
		AgentName:          notAvailable,
		ErrorType:          notAvailable,
		ErrorMessage:       notAvailable,
		RepoName:           orDefault(meta.RepoName),
		RepoCommit:         orDefault(meta.RepoCommit),
		RepoBranch:         orDefault(meta.RepoBranch),
		TriggerType:        orDefault(meta.TriggerType),
		TriggeredBy:        orDefault(meta.TriggeredBy),
		Duration:           notAvailable,
		PerformanceMetrics: "None",
	}
}

func orDefault(s string) string {
	if s == "" {
		return notAvailable
	}
	return s
}
