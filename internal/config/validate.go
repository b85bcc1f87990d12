package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// FingerprintModes lists the accepted watchdog.fingerprint values.
var FingerprintModes = []string{"content", "mtime", "lines"}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateLock(); err != nil {
		return err
	}
	if err := c.validateGate(); err != nil {
		return err
	}
	if err := c.validateWatchdog(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateLock() error {
	if c.Lock.Name != filepath.Base(c.Lock.Name) {
		return fmt.Errorf("lock.name must be a file name, got %q", c.Lock.Name)
	}
	if c.Lock.Name == "." || c.Lock.Name == ".." {
		return fmt.Errorf("lock.name %q is not a valid file name", c.Lock.Name)
	}
	return nil
}

func (c *Config) validateGate() error {
	if c.Gate.PollIntervalMS <= 0 {
		return errors.New("gate.poll_interval_ms must be positive")
	}
	return nil
}

func (c *Config) validateWatchdog() error {
	valid := false
	for _, mode := range FingerprintModes {
		if c.Watchdog.Fingerprint == mode {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("watchdog.fingerprint must be one of %s, got %q", strings.Join(FingerprintModes, ", "), c.Watchdog.Fingerprint)
	}
	if c.Watchdog.PollIntervalMS <= 0 {
		return errors.New("watchdog.poll_interval_ms must be positive")
	}
	if c.Watchdog.TerminateGraceSeconds <= 0 {
		return errors.New("watchdog.terminate_grace_seconds must be positive")
	}
	if c.Watchdog.RestartCooldownSeconds < 0 {
		return errors.New("watchdog.restart_cooldown_seconds must be zero or positive")
	}
	return nil
}

// ValidateWorker checks the settings only the watchdog process needs.
func (c *Config) ValidateWorker() error {
	if c.Watchdog.WorkerCommand == "" {
		return errors.New("watchdog.worker_command must be set")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not recognised", c.Logging.Level)
	}
	return nil
}
