package archive

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeZip creates a zip file at path containing the given entries.
func writeZip(t *testing.T, path string, files map[string][]byte) {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestFlattenAllCombinesJSONFiles(t *testing.T) {
	root := t.TempDir()
	out := t.TempDir()

	artifact := filepath.Join(root, "results_x64_ov_qp")
	require.NoError(t, os.MkdirAll(artifact, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(artifact, "summary.json"), []byte(`{"fps": 30}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(artifact, "details.json"), []byte(`{"latency": 5}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(artifact, "notes.txt"), []byte("ignored"), 0o644))

	f := NewFlattener(zerolog.Nop(), out)
	result, err := f.FlattenAll(root)
	require.NoError(t, err)

	require.Contains(t, result, "results_x64_ov_qp")
	fragments := result["results_x64_ov_qp"]
	require.Len(t, fragments, 2)

	stems := map[string]bool{}
	for _, frag := range fragments {
		for stem := range frag {
			stems[stem] = true
		}
	}
	assert.True(t, stems["summary"])
	assert.True(t, stems["details"])

	// Combined document written to the output directory.
	data, err := os.ReadFile(filepath.Join(out, "results_x64_ov_qp.json"))
	require.NoError(t, err)
	var combined []map[string]any
	require.NoError(t, json.Unmarshal(data, &combined))
	assert.Len(t, combined, 2)
}

func TestFlattenAllExpandsNestedArchives(t *testing.T) {
	root := t.TempDir()
	out := t.TempDir()

	artifact := filepath.Join(root, "perf_arm64_npu")
	require.NoError(t, os.MkdirAll(artifact, 0o755))
	writeZip(t, filepath.Join(artifact, "inner.zip"), map[string][]byte{
		"deep/metrics.json": []byte(`{"score": 0.9}`),
	})

	f := NewFlattener(zerolog.Nop(), out)
	result, err := f.FlattenAll(root)
	require.NoError(t, err)

	fragments := result["perf_arm64_npu"]
	require.Len(t, fragments, 1)
	assert.Contains(t, fragments[0], "metrics")

	// Extraction scratch directory is cleaned up.
	_, err = os.Stat(filepath.Join(artifact, "inner"))
	assert.True(t, os.IsNotExist(err))
}

func TestFlattenAllTopLevelZipArtifact(t *testing.T) {
	root := t.TempDir()
	out := t.TempDir()

	writeZip(t, filepath.Join(root, "bundle_x64_vitis.zip"), map[string][]byte{
		"result.json": []byte(`{"passed": true}`),
	})

	f := NewFlattener(zerolog.Nop(), out)
	result, err := f.FlattenAll(root)
	require.NoError(t, err)

	fragments := result["bundle_x64_vitis"]
	require.Len(t, fragments, 1)
	assert.Contains(t, fragments[0], "result")
}

func TestFlattenAllEmbeddingsFilter(t *testing.T) {
	root := t.TempDir()
	out := t.TempDir()

	artifact := filepath.Join(root, "embeddings_d3_arm64_npu")
	require.NoError(t, os.MkdirAll(artifact, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(artifact, "alpha_scores.json"), []byte(`{"a": 1}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(artifact, "beta_scores.json"), []byte(`{"b": 2}`), 0o644))

	f := NewFlattener(zerolog.Nop(), out)
	result, err := f.FlattenAll(root)
	require.NoError(t, err)

	fragments := result["embeddings_d3_arm64_npu"]
	require.Len(t, fragments, 1)
	assert.Contains(t, fragments[0], "alpha_scores")
}

func TestFlattenAllDeduplicatesResolvedPaths(t *testing.T) {
	root := t.TempDir()
	out := t.TempDir()

	artifact := filepath.Join(root, "dup_artifact")
	sub := filepath.Join(artifact, "real")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "data.json"), []byte(`{"n": 1}`), 0o644))
	// Second traversal entry resolving to the same directory.
	require.NoError(t, os.Symlink(sub, filepath.Join(artifact, "alias")))

	f := NewFlattener(zerolog.Nop(), out)
	result, err := f.FlattenAll(root)
	require.NoError(t, err)

	assert.Len(t, result["dup_artifact"], 1, "file reachable via two entries must be included once")
}

func TestFlattenAllMalformedJSONAbortsOnlyThatArtifact(t *testing.T) {
	root := t.TempDir()
	out := t.TempDir()

	bad := filepath.Join(root, "bad_artifact")
	require.NoError(t, os.MkdirAll(bad, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bad, "broken.json"), []byte(`{not json`), 0o644))

	good := filepath.Join(root, "good_artifact")
	require.NoError(t, os.MkdirAll(good, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(good, "ok.json"), []byte(`{"ok": true}`), 0o644))

	f := NewFlattener(zerolog.Nop(), out)
	result, err := f.FlattenAll(root)
	require.NoError(t, err)

	assert.NotContains(t, result, "bad_artifact")
	assert.Len(t, result["good_artifact"], 1)

	_, err = os.Stat(filepath.Join(out, "bad_artifact.json"))
	assert.True(t, os.IsNotExist(err), "no combined document for the aborted artifact")
}

func TestExtractZipRejectsEscapingEntries(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "evil.zip")

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.CreateHeader(&zip.FileHeader{Name: "../escape.txt"})
	require.NoError(t, err)
	_, err = f.Write([]byte("nope"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, os.WriteFile(src, buf.Bytes(), 0o644))

	err = ExtractZip(src, filepath.Join(dir, "dest"))
	assert.Error(t, err)
}
