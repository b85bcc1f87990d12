package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the shared state directory and log location.
type Paths struct {
	BaseDir string `toml:"base_dir"`
	LogDir  string `toml:"log_dir"`
}

// Lock describes where the shared process lock lives.
type Lock struct {
	Dir                 string `toml:"dir"`
	Name                string `toml:"name"`
	CorruptGraceSeconds int    `toml:"corrupt_grace_seconds"`
}

// Gate configures the pause gate used by collaborating scripts.
type Gate struct {
	PollIntervalMS int      `toml:"poll_interval_ms"`
	ExemptCallers  []string `toml:"exempt_callers"`
}

// Watchdog configures change detection and worker supervision.
type Watchdog struct {
	WatchFile              string   `toml:"watch_file"`
	Fingerprint            string   `toml:"fingerprint"`
	PollIntervalMS         int      `toml:"poll_interval_ms"`
	WorkerCommand          string   `toml:"worker_command"`
	WorkerArgs             []string `toml:"worker_args"`
	WorkerDir              string   `toml:"worker_dir"`
	WorkerLog              string   `toml:"worker_log"`
	TerminateGraceSeconds  int      `toml:"terminate_grace_seconds"`
	RestartCooldownSeconds int      `toml:"restart_cooldown_seconds"`
	LaunchOnStart          bool     `toml:"launch_on_start"`
	MetricsBind            string   `toml:"metrics_bind"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Restarts       bool   `toml:"restarts"`
	Suspensions    bool   `toml:"suspensions"`
	Failures       bool   `toml:"failures"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for tokenwatch.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Lock          Lock          `toml:"lock"`
	Gate          Gate          `toml:"gate"`
	Watchdog      Watchdog      `toml:"watchdog"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
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
		decoder.DisallowUnknownFields()
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
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs(projectConfigName)
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

// EnsureDirectories creates the state, log, and lock directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.BaseDir, c.Paths.LogDir, c.Lock.Dir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LockPath returns the full path of the shared process lock artifact.
func (c *Config) LockPath() string {
	return filepath.Join(c.Lock.Dir, c.Lock.Name)
}

// SocketPath returns the control socket of a running watchdog.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.BaseDir, "tokenwatch.sock")
}

// PIDPath returns the watchdog pid file.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.BaseDir, "tokenwatch.pid")
}

// InstanceLockPath returns the flock file that keeps a single watchdog per base dir.
func (c *Config) InstanceLockPath() string {
	return filepath.Join(c.Paths.BaseDir, "tokenwatch.lock")
}

// WorkerPIDPath returns the file recording the pid of the supervised worker.
func (c *Config) WorkerPIDPath() string {
	return filepath.Join(c.Paths.BaseDir, "worker.pid")
}

// JournalPath returns the restart journal database.
func (c *Config) JournalPath() string {
	return filepath.Join(c.Paths.BaseDir, "journal.db")
}

// CurrentLogPath returns the pointer to the newest watchdog run log.
func (c *Config) CurrentLogPath() string {
	return filepath.Join(c.Paths.LogDir, "tokenwatch.log")
}

// GatePollInterval is the sleep between pause gate checks.
func (c *Config) GatePollInterval() time.Duration {
	return time.Duration(c.Gate.PollIntervalMS) * time.Millisecond
}

// WatchdogPollInterval is the watchdog tick period.
func (c *Config) WatchdogPollInterval() time.Duration {
	return time.Duration(c.Watchdog.PollIntervalMS) * time.Millisecond
}

// TerminateGrace is how long a worker gets between SIGTERM and SIGKILL.
func (c *Config) TerminateGrace() time.Duration {
	return time.Duration(c.Watchdog.TerminateGraceSeconds) * time.Second
}

// RestartCooldown is the minimum spacing between worker restarts. Zero disables it.
func (c *Config) RestartCooldown() time.Duration {
	return time.Duration(c.Watchdog.RestartCooldownSeconds) * time.Second
}

// CorruptGrace is how long an unreadable lock artifact still counts as held.
func (c *Config) CorruptGrace() time.Duration {
	return time.Duration(c.Lock.CorruptGraceSeconds) * time.Second
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

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
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

// Encode renders the config as TOML, used by `config show`.
func (c *Config) Encode() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
