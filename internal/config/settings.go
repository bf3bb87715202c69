package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSettingsPath is the default location for the settings file.
// Uses hidden file format following common tool conventions.
const DefaultSettingsPath = ".absplit.yaml"

// SettingsPathEnvVar is the environment variable name for a custom settings path.
const SettingsPathEnvVar = "ABSPLIT_CONFIG_PATH"

const (
	defaultBaseURL      = "https://files.rcsb.org/download/"
	defaultFetchTimeout = 60 * time.Second
	defaultRatePerSec   = 5
	defaultWorkers      = 1
)

// ErrOutputDirUnusable is returned when the output root cannot be created or
// written to. This is the one configuration failure that is fatal to a whole
// batch, surfaced before any entries are dispatched.
var ErrOutputDirUnusable = errors.New("output directory unusable")

// Settings holds everything the pipeline needs at runtime. Values come from
// the optional YAML settings file, overridden by environment variables,
// overridden by explicit caller choices (CLI flags).
type Settings struct {
	// OutputDir is the root under which raw and processed files are written.
	OutputDir string `yaml:"output_dir"`

	// BaseURL is the archive download endpoint; identifier plus extension is
	// appended to form the full file URL.
	BaseURL string `yaml:"base_url"`

	// FetchTimeout bounds each individual download request.
	FetchTimeout time.Duration `yaml:"fetch_timeout"`

	// RatePerSec caps outgoing archive requests per second across all workers.
	RatePerSec int `yaml:"rate_per_sec"`

	// Workers is the batch worker pool width; 1 means strictly sequential.
	Workers int `yaml:"workers"`

	// Incremental skips fetching entries whose raw file already exists.
	Incremental bool `yaml:"incremental"`
}

// Load builds Settings from the YAML file at path (missing or invalid files
// degrade to defaults with a warning, never an error) and the environment.
func Load(path string) *Settings {
	s := &Settings{
		OutputDir:    "downloads",
		BaseURL:      defaultBaseURL,
		FetchTimeout: defaultFetchTimeout,
		RatePerSec:   defaultRatePerSec,
		Workers:      defaultWorkers,
		Incremental:  true,
	}

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, s); err != nil {
			slog.Warn("Failed to parse settings file, continuing with defaults",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to read settings file, continuing with defaults",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}

	s.OutputDir = GetEnvStr("ABSPLIT_OUTPUT_DIR", s.OutputDir)
	s.BaseURL = GetEnvStr("ABSPLIT_BASE_URL", s.BaseURL)
	s.FetchTimeout = GetEnvDuration("ABSPLIT_FETCH_TIMEOUT", s.FetchTimeout)
	s.RatePerSec = GetEnvInt("ABSPLIT_RATE_PER_SEC", s.RatePerSec)
	s.Workers = GetEnvInt("ABSPLIT_WORKERS", s.Workers)
	s.Incremental = GetEnvBool("ABSPLIT_INCREMENTAL", s.Incremental)

	return s
}

// LoadFromEnv loads settings from the path in ABSPLIT_CONFIG_PATH, falling
// back to .absplit.yaml in the current directory.
func LoadFromEnv() *Settings {
	return Load(GetEnvStr(SettingsPathEnvVar, DefaultSettingsPath))
}

// RawDir returns the directory holding fetched raw structure files.
func (s *Settings) RawDir() string {
	return filepath.Join(s.OutputDir, "raw")
}

// AntigensDir returns the directory holding extracted antigen structures.
func (s *Settings) AntigensDir() string {
	return filepath.Join(s.OutputDir, "processed", "antigens")
}

// AntibodiesDir returns the directory holding extracted antibody structures.
func (s *Settings) AntibodiesDir() string {
	return filepath.Join(s.OutputDir, "processed", "antibodies")
}

// LedgerPath returns the path of the persisted failure ledger.
func (s *Settings) LedgerPath() string {
	return filepath.Join(s.OutputDir, "failed_entries.json")
}

// SummaryPath returns the path of the most recent run's summary report.
func (s *Settings) SummaryPath() string {
	return filepath.Join(s.OutputDir, "processing_summary.json")
}

// AntigenPath returns the output path for an identifier's antigen structure.
func (s *Settings) AntigenPath(id string) string {
	return filepath.Join(s.AntigensDir(), id+"_antigen.pdb")
}

// AntibodyPath returns the output path for an identifier's antibody structure.
func (s *Settings) AntibodyPath(id string) string {
	return filepath.Join(s.AntibodiesDir(), id+"_antibody.pdb")
}

// EnsureDirs creates the output tree and verifies the root is writable.
// A failure here is fatal to the batch: nothing has been dispatched yet.
func (s *Settings) EnsureDirs() error {
	for _, dir := range []string{s.RawDir(), s.AntigensDir(), s.AntibodiesDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: %v", ErrOutputDirUnusable, err)
		}
	}

	probe, err := os.CreateTemp(s.OutputDir, ".probe*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOutputDirUnusable, err)
	}

	probe.Close()
	os.Remove(probe.Name())

	return nil
}
