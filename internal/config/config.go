package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	DBPath   string       `yaml:"db_path"`
	DBURL    string       `yaml:"db_url"`
	BLE      BLEConfig    `yaml:"ble"`
	Probe    ProbeConfig  `yaml:"probe"`
	Report   ReportConfig `yaml:"report"`
	LogLevel string       `yaml:"log_level"`
}

// BLEConfig holds adapter and scan settings.
type BLEConfig struct {
	Backend      string `yaml:"backend"` // "hci" or "portable"
	ScanTimeoutS int    `yaml:"scan_timeout_s"`
}

// ScanTimeout returns the scan timeout as a duration.
func (b BLEConfig) ScanTimeout() time.Duration {
	return time.Duration(b.ScanTimeoutS) * time.Second
}

// ProbeConfig holds transmission pacing settings. Zero chunk values keep
// the per-protocol defaults.
type ProbeConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkDelayMs int `yaml:"chunk_delay_ms"`
	FlushPauseMs int `yaml:"flush_pause_ms"`
}

// ChunkDelay returns the inter-chunk delay as a duration.
func (p ProbeConfig) ChunkDelay() time.Duration {
	return time.Duration(p.ChunkDelayMs) * time.Millisecond
}

// FlushPause returns the post-transmission settle pause as a duration.
func (p ProbeConfig) FlushPause() time.Duration {
	return time.Duration(p.FlushPauseMs) * time.Millisecond
}

// ReportConfig holds report submission settings.
type ReportConfig struct {
	IssueRepo string `yaml:"issue_repo"` // "owner/repo" for suggested issues
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "bleprobe")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		DBPath: filepath.Join(DefaultConfigDir(), "profiles.yaml"),
		DBURL:  "https://raw.githubusercontent.com/derSebastian/ble-printer-probe/main/profiles.yaml",
		BLE: BLEConfig{
			Backend:      "hci",
			ScanTimeoutS: 30,
		},
		Probe: ProbeConfig{
			ChunkSize:    0,
			ChunkDelayMs: 0,
			FlushPauseMs: 1500,
		},
		Report: ReportConfig{
			IssueRepo: "derSebastian/ble-printer-probe",
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in db_path is expanded to the user's home
// directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.DBPath = expandTilde(cfg.DBPath)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.BLE.Backend {
	case "hci", "portable":
	default:
		return fmt.Errorf("ble.backend must be \"hci\" or \"portable\", got %q", c.BLE.Backend)
	}

	if c.BLE.ScanTimeoutS <= 0 {
		return fmt.Errorf("ble.scan_timeout_s must be > 0")
	}

	if c.Probe.ChunkSize < 0 {
		return fmt.Errorf("probe.chunk_size must not be negative")
	}

	if c.Probe.ChunkDelayMs < 0 {
		return fmt.Errorf("probe.chunk_delay_ms must not be negative")
	}

	if c.Probe.FlushPauseMs < 0 {
		return fmt.Errorf("probe.flush_pause_ms must not be negative")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// WriteDefault writes the default config to DefaultConfigPath, creating
// the directory if needed. It is a no-op returning ("", nil) when the
// file already exists.
func WriteDefault() (string, error) {
	dir := DefaultConfigDir()
	if dir == "" {
		return "", fmt.Errorf("cannot determine config directory")
	}
	path := filepath.Join(dir, "config.yaml")

	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	header := "# bleprobe configuration\n# See https://github.com/derSebastian/ble-printer-probe for documentation.\n\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0644); err != nil {
		return "", fmt.Errorf("writing default config: %w", err)
	}
	return path, nil
}

// ParseLogLevel maps a config log level string to a slog.Level. Unknown
// values default to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
