// Package metrics locates performance metric documents produced by the
// archive flattener.
package metrics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// evaluationPrefix is stripped from the model segment of a test-case name.
const evaluationPrefix = "Evaluation_"

// Locator finds combined artifact documents by filename substring match on
// architecture and model.
type Locator struct {
	logger zerolog.Logger
	dir    string
}

// NewLocator creates a Locator scanning dir for combined artifact documents.
func NewLocator(logger zerolog.Logger, dir string) *Locator {
	return &Locator{logger: logger, dir: dir}
}

// Locate returns the parsed content of the first document whose filename
// contains both architecture and the model derived from testcaseName, or nil
// when no document matches. Lookup failures are logged, never returned.
func (l *Locator) Locate(architecture, testcaseName string) any {
	if !strings.Contains(testcaseName, ".") {
		l.logger.Warn().Str("testcase", testcaseName).Msg("invalid testcase name format")
		return nil
	}

	// The model is the second dot-delimited segment, minus the phase prefix.
	parts := strings.Split(testcaseName, ".")
	model := strings.ReplaceAll(parts[1], evaluationPrefix, "")

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		l.logger.Warn().Str("dir", l.dir).Err(err).Msg("combined document directory not readable")
		return nil
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		if !strings.Contains(name, architecture) || !strings.Contains(name, model) {
			continue
		}

		path := filepath.Join(l.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			l.logger.Error().Str("file", path).Err(err).Msg("failed to read performance data")
			return nil
		}

		var content any
		if err := json.Unmarshal(data, &content); err != nil {
			l.logger.Error().Str("file", path).Err(err).Msg("failed to parse performance data")
			return nil
		}

		l.logger.Info().Str("file", path).Msg("found performance data")
		return content
	}

	l.logger.Info().
		Str("testcase", testcaseName).
		Str("architecture", architecture).
		Msg("no matching performance data found")
	return nil
}
