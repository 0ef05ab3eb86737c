// Package config provides the expected test matrix, directory conventions, and
// runtime configuration for the evals ingester.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// Platforms are the silicon targets every pipeline run is expected to cover.
var Platforms = []string{"x64_vitis", "x64_ov", "arm64_npu"}

// Models are the workloads exercised on each platform.
var Models = []string{
	"qp",
	"embeddings_d3",
	"embeddings_d5",
	"embeddings_d3_c",
	"semtext",
	"srd",
	"llm",
	"ner",
	"tcm",
	"imdesc",
}

// Phases are the test phases run per (platform, model) pair.
var Phases = []string{"Prediction", "Evaluation"}

const (
	// ZipSuffix is the filename convention run packages must follow;
	// the build ID is everything before it.
	ZipSuffix = "_run_data.zip"

	// DefaultDataDir is the per-run working directory. It is wiped and
	// recreated at the start of every run.
	DefaultDataDir = "pipeline_data"

	// DefaultOutputDir receives the reconciled matrix document per run.
	DefaultOutputDir = "pipeline_logs"

	logsSubdir      = "logs"
	artifactsSubdir = "artifacts"

	runLinkFormat = "https://devicesasg.visualstudio.com/PerceptiveShell/_build/results?buildId=%s&view=results"
)

// RunLink returns the pipeline results page URL for a build.
func RunLink(buildID string) string {
	return fmt.Sprintf(runLinkFormat, buildID)
}

// ihvByPlatform routes each platform to its database target.
var ihvByPlatform = map[string]string{
	"x64_vitis": "STRX",
	"x64_ov":    "LNL",
	"arm64_npu": "Cadmus",
}

// IHVForPlatform returns the IHV database target for a platform.
func IHVForPlatform(platform string) (string, bool) {
	ihv, ok := ihvByPlatform[platform]
	return ihv, ok
}

// Config represents runtime configuration that can be loaded from a JSON file.
// All fields are optional; missing values use defaults or environment variables.
type Config struct {
	DataDir    string `json:"data_dir,omitempty"`
	OutputDir  string `json:"output_dir,omitempty"`
	Port       int    `json:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	AuthSecret string `json:"auth_secret,omitempty"`

	// Databases maps IHV identifiers ("STRX", "LNL", "Cadmus") to
	// PostgreSQL connection URLs.
	Databases map[string]string `json:"databases,omitempty" validate:"omitempty,dive,url"`

	Verbose bool `json:"verbose,omitempty"`
}

// LogsDir returns the per-run log file directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, logsSubdir)
}

// ArtifactsDir returns the per-run artifacts directory. Combined artifact
// documents are written back into the same directory the raw artifacts were
// extracted to.
func (c *Config) ArtifactsDir() string {
	return filepath.Join(c.DataDir, artifactsSubdir)
}

// LoadConfig loads configuration from a JSON file.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// FromEnv builds a Config from environment variables. Unset variables leave
// the corresponding field empty so file values and defaults can fill them.
func FromEnv() Config {
	cfg := Config{
		DataDir:    os.Getenv("EVALS_DATA_DIR"),
		OutputDir:  os.Getenv("EVALS_OUTPUT_DIR"),
		AuthSecret: os.Getenv("EVALS_AUTH_SECRET"),
	}

	if port := os.Getenv("EVALS_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			cfg.Port = n
		}
	}

	dbs := map[string]string{}
	for ihv, env := range map[string]string{
		"STRX":   "EVALS_DB_URL_STRX",
		"LNL":    "EVALS_DB_URL_LNL",
		"Cadmus": "EVALS_DB_URL_CADMUS",
	} {
		if url := os.Getenv(env); url != "" {
			dbs[ihv] = url
		}
	}
	if len(dbs) > 0 {
		cfg.Databases = dbs
	}

	return cfg
}

// MergeWithDefaults returns a new Config with empty fields filled from defaults.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	if result.DataDir == "" {
		result.DataDir = defaults.DataDir
	}
	if result.OutputDir == "" {
		result.OutputDir = defaults.OutputDir
	}
	if result.AuthSecret == "" {
		result.AuthSecret = defaults.AuthSecret
	}
	if result.Port == 0 {
		result.Port = defaults.Port
	}
	if len(result.Databases) == 0 {
		result.Databases = defaults.Databases
	}

	if result.DataDir == "" {
		result.DataDir = DefaultDataDir
	}
	if result.OutputDir == "" {
		result.OutputDir = DefaultOutputDir
	}

	return result
}

// Validate checks that the configuration has valid values.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	for ihv := range c.Databases {
		if _, ok := ihvHosts[ihv]; !ok {
			return fmt.Errorf("config error: unknown IHV %q in databases", ihv)
		}
	}

	return nil
}

// ihvHosts enumerates the known IHV database targets.
var ihvHosts = map[string]struct{}{
	"STRX":   {},
	"LNL":    {},
	"Cadmus": {},
}
