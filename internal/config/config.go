package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the storage root configuration.
type Paths struct {
	// BulkRoot is where downloaded videos land. Large and temporary.
	BulkRoot string `toml:"bulk_root"`
	// WorkRoot holds audio intermediates, transcripts, the queue database,
	// caches, and logs.
	WorkRoot string `toml:"work_root"`
}

// Disk contains the disk ceiling and back-pressure thresholds.
type Disk struct {
	HardLimitGB          int `toml:"hard_limit_gb"`
	PauseThresholdGB     int `toml:"pause_threshold_gb"`
	ResumeThresholdGB    int `toml:"resume_threshold_gb"`
	CheckIntervalSeconds int `toml:"check_interval_seconds"`
	CacheDurationSeconds int `toml:"cache_duration_seconds"`
}

// Workers contains the worker-pool sizing and queue timing knobs.
type Workers struct {
	DownloadConcurrency   int `toml:"download_concurrency"`
	TranscribeConcurrency int `toml:"transcribe_concurrency"`
	MaxRetries            int `toml:"max_retries"`
	PollIntervalSeconds   int `toml:"poll_interval"`
	ErrorRetrySeconds     int `toml:"error_retry_interval"`
	HeartbeatSeconds      int `toml:"heartbeat_interval"`
	ReapStaleAfterSeconds int `toml:"reap_stale_after"`
	ShutdownGraceSeconds  int `toml:"shutdown_grace"`
}

// Tools contains the external tool binaries and their wall-clock limits.
type Tools struct {
	Downloader               string `toml:"downloader"`
	FFmpeg                   string `toml:"ffmpeg"`
	Whisper                  string `toml:"whisper"`
	WhisperModel             string `toml:"whisper_model"`
	Language                 string `toml:"language"`
	DownloadTimeoutSeconds   int    `toml:"download_timeout"`
	ExtractTimeoutSeconds    int    `toml:"extract_timeout"`
	TranscribeTimeoutSeconds int    `toml:"transcribe_timeout"`
}

// Logging contains log output configuration.
type Logging struct {
	// Format is "console", "json", or "auto" (console on a terminal,
	// JSON otherwise).
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for hanasu.
type Config struct {
	Paths   Paths   `toml:"paths"`
	Disk    Disk    `toml:"disk"`
	Workers Workers `toml:"workers"`
	Tools   Tools   `toml:"tools"`
	Logging Logging `toml:"logging"`
}

// DefaultConfigPath returns the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/hanasu/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and absolute.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("hanasu.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.BulkRoot, err = expandPath(c.Paths.BulkRoot); err != nil {
		return err
	}
	if c.Paths.WorkRoot, err = expandPath(c.Paths.WorkRoot); err != nil {
		return err
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Tools.Language = strings.TrimSpace(c.Tools.Language)
	return nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Paths.BulkRoot) == "" {
		problems = append(problems, "paths.bulk_root must be set")
	}
	if strings.TrimSpace(c.Paths.WorkRoot) == "" {
		problems = append(problems, "paths.work_root must be set")
	}
	if c.Disk.HardLimitGB <= 0 {
		problems = append(problems, "disk.hard_limit_gb must be positive")
	}
	if !(c.Disk.ResumeThresholdGB < c.Disk.PauseThresholdGB && c.Disk.PauseThresholdGB < c.Disk.HardLimitGB) {
		problems = append(problems, "disk thresholds must satisfy resume < pause < hard")
	}
	if c.Disk.CacheDurationSeconds <= 0 {
		problems = append(problems, "disk.cache_duration_seconds must be positive")
	}
	if c.Workers.DownloadConcurrency <= 0 || c.Workers.TranscribeConcurrency <= 0 {
		problems = append(problems, "worker concurrency values must be positive")
	}
	if c.Workers.MaxRetries < 0 {
		problems = append(problems, "workers.max_retries must not be negative")
	}
	if c.Workers.HeartbeatSeconds <= 0 {
		problems = append(problems, "workers.heartbeat_interval must be positive")
	}
	if c.Workers.ReapStaleAfterSeconds <= c.Workers.HeartbeatSeconds {
		problems = append(problems, "workers.reap_stale_after must exceed workers.heartbeat_interval")
	}
	switch c.Logging.Format {
	case "", "auto", "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format: unsupported value %q", c.Logging.Format))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// EnsureDirectories creates the storage roots for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.BulkRoot, c.Paths.WorkRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// CreateSample writes the embedded sample configuration to path.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
