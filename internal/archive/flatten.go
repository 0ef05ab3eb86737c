// Package archive flattens per-run artifact trees into combined JSON
// documents, re-expanding nested zip archives along the way.
package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Fragment is a single JSON file's content keyed by its filename stem.
type Fragment map[string]any

// alphaMarker selects which JSON files are kept for embeddings artifacts.
const alphaMarker = "alpha"

// Flattener walks artifact trees and combines every JSON file found into one
// document per artifact. Combined documents are written to OutputDir as
// <artifactName>.json.
type Flattener struct {
	logger    zerolog.Logger
	outputDir string
}

// NewFlattener creates a Flattener writing combined documents into outputDir.
func NewFlattener(logger zerolog.Logger, outputDir string) *Flattener {
	return &Flattener{logger: logger, outputDir: outputDir}
}

// FlattenAll treats every top-level entry of rootDir as one artifact, flattens
// each, and writes the combined document per artifact. A failure in one
// artifact is logged and skips only that artifact. Extraction scratch
// directories are removed on both success and failure.
func (f *Flattener) FlattenAll(rootDir string) (map[string][]Fragment, error) {
	entries, err := os.ReadDir(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifacts directory %s: %w", rootDir, err)
	}

	result := make(map[string][]Fragment)
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() {
			ext := strings.ToLower(filepath.Ext(name))
			if ext != ".zip" && ext != ".json" {
				continue
			}
			name = strings.TrimSuffix(name, filepath.Ext(name))
		}

		fragments, err := f.flattenArtifact(filepath.Join(rootDir, entry.Name()), name)
		if err != nil {
			f.logger.Error().Str("artifact", name).Err(err).Msg("failed to flatten artifact")
			continue
		}
		result[name] = fragments

		if len(fragments) > 0 {
			if err := f.writeCombined(name, fragments); err != nil {
				f.logger.Error().Str("artifact", name).Err(err).Msg("failed to write combined document")
			}
		}
	}
	return result, nil
}

// flattenArtifact walks the tree rooted at path with an explicit worklist,
// expanding nested archives in place and accumulating JSON fragments under
// the artifact name flattening was invoked with.
func (f *Flattener) flattenArtifact(path, artifactName string) (fragments []Fragment, err error) {
	seen := make(map[string]struct{})
	var scratch []string

	defer func() {
		for _, dir := range scratch {
			if rmErr := os.RemoveAll(dir); rmErr != nil {
				f.logger.Warn().Str("dir", dir).Err(rmErr).Msg("failed to clean up extraction directory")
			}
		}
	}()

	work := []string{path}
	for len(work) > 0 {
		current := work[len(work)-1]
		work = work[:len(work)-1]

		abs, absErr := filepath.Abs(current)
		if absErr != nil {
			return nil, fmt.Errorf("failed to resolve path %s: %w", current, absErr)
		}
		// Resolve symlinks so the same file reached through different
		// traversal entries dedups to one canonical path.
		if resolved, rErr := filepath.EvalSymlinks(abs); rErr == nil {
			abs = resolved
		}
		if _, dup := seen[abs]; dup {
			f.logger.Debug().Str("path", current).Msg("skipping already processed path")
			continue
		}
		seen[abs] = struct{}{}

		info, statErr := os.Stat(current)
		if statErr != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", current, statErr)
		}

		switch {
		case info.IsDir():
			entries, readErr := os.ReadDir(current)
			if readErr != nil {
				return nil, fmt.Errorf("failed to read directory %s: %w", current, readErr)
			}
			// Push in reverse so the worklist pops in listing order.
			for i := len(entries) - 1; i >= 0; i-- {
				work = append(work, filepath.Join(current, entries[i].Name()))
			}

		case strings.EqualFold(filepath.Ext(current), ".zip"):
			dest := strings.TrimSuffix(current, filepath.Ext(current))
			if extractErr := ExtractZip(current, dest); extractErr != nil {
				return nil, extractErr
			}
			scratch = append(scratch, dest)
			f.logger.Info().Str("archive", current).Str("dest", dest).Msg("extracted nested archive")
			work = append(work, dest)

		case strings.EqualFold(filepath.Ext(current), ".json"):
			frag, ok, readErr := f.readFragment(current, artifactName)
			if readErr != nil {
				return nil, readErr
			}
			if ok {
				fragments = append(fragments, frag)
			}
		}
	}

	return fragments, nil
}

// readFragment reads one JSON file into a Fragment. Embeddings artifacts only
// keep files whose name carries the alpha marker.
func (f *Flattener) readFragment(path, artifactName string) (Fragment, bool, error) {
	base := filepath.Base(path)
	if strings.Contains(artifactName, "embeddings") && !strings.Contains(base, alphaMarker) {
		return nil, false, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var content any
	if err := json.Unmarshal(data, &content); err != nil {
		return nil, false, fmt.Errorf("failed to parse JSON file %s: %w", path, err)
	}

	stem := strings.TrimSuffix(base, filepath.Ext(base))
	f.logger.Debug().Str("file", path).Msg("added JSON fragment")
	return Fragment{stem: content}, true, nil
}

// writeCombined serializes an artifact's fragment list to
// <outputDir>/<artifactName>.json, overwriting any existing file.
func (f *Flattener) writeCombined(artifactName string, fragments []Fragment) error {
	if err := os.MkdirAll(f.outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", f.outputDir, err)
	}

	data, err := json.MarshalIndent(fragments, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal combined document for %s: %w", artifactName, err)
	}

	target := filepath.Join(f.outputDir, artifactName+".json")
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", target, err)
	}

	f.logger.Info().Str("file", target).Msg("combined document created")
	return nil
}
