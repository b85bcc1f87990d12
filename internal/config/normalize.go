package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeWatchdog(); err != nil {
		return err
	}
	if err := c.normalizeLock(); err != nil {
		return err
	}
	c.normalizeGate()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.BaseDir) == "" {
		c.Paths.BaseDir = defaultBaseDir
	}
	if c.Paths.BaseDir, err = expandPath(c.Paths.BaseDir); err != nil {
		return fmt.Errorf("paths.base_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.BaseDir, defaultLogDirName)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeLock() error {
	if value, ok := os.LookupEnv(lockDirEnv); ok && strings.TrimSpace(value) != "" {
		c.Lock.Dir = value
	}
	// The artifact sits next to the worker script, where its collaborators look.
	if strings.TrimSpace(c.Lock.Dir) == "" {
		c.Lock.Dir = c.Watchdog.WorkerDir
	}
	var err error
	if c.Lock.Dir, err = expandPath(c.Lock.Dir); err != nil {
		return fmt.Errorf("lock.dir: %w", err)
	}
	c.Lock.Name = strings.TrimSpace(c.Lock.Name)
	if c.Lock.Name == "" {
		c.Lock.Name = defaultLockName
	}
	if c.Lock.CorruptGraceSeconds < 0 {
		c.Lock.CorruptGraceSeconds = 0
	}
	return nil
}

func (c *Config) normalizeGate() {
	if c.Gate.PollIntervalMS <= 0 {
		c.Gate.PollIntervalMS = defaultGatePollMS
	}
	seen := make(map[string]struct{}, len(c.Gate.ExemptCallers))
	callers := make([]string, 0, len(c.Gate.ExemptCallers))
	for _, caller := range c.Gate.ExemptCallers {
		caller = strings.ToLower(strings.TrimSpace(caller))
		if caller == "" {
			continue
		}
		if _, ok := seen[caller]; ok {
			continue
		}
		seen[caller] = struct{}{}
		callers = append(callers, caller)
	}
	c.Gate.ExemptCallers = callers
}

func (c *Config) normalizeWatchdog() error {
	var err error
	if value, ok := os.LookupEnv(watchFileEnv); ok && strings.TrimSpace(value) != "" {
		c.Watchdog.WatchFile = value
	}
	if strings.TrimSpace(c.Watchdog.WatchFile) == "" {
		c.Watchdog.WatchFile = filepath.Join(c.Paths.BaseDir, defaultWatchFileName)
	}
	if c.Watchdog.WatchFile, err = expandPath(c.Watchdog.WatchFile); err != nil {
		return fmt.Errorf("watchdog.watch_file: %w", err)
	}
	c.Watchdog.Fingerprint = strings.ToLower(strings.TrimSpace(c.Watchdog.Fingerprint))
	if c.Watchdog.Fingerprint == "" {
		c.Watchdog.Fingerprint = defaultFingerprint
	}
	if c.Watchdog.PollIntervalMS == 0 {
		c.Watchdog.PollIntervalMS = defaultWatchdogPollMS
	}
	c.Watchdog.WorkerCommand = strings.TrimSpace(c.Watchdog.WorkerCommand)
	if strings.TrimSpace(c.Watchdog.WorkerDir) == "" {
		c.Watchdog.WorkerDir = c.Paths.BaseDir
	}
	if c.Watchdog.WorkerDir, err = expandPath(c.Watchdog.WorkerDir); err != nil {
		return fmt.Errorf("watchdog.worker_dir: %w", err)
	}
	if strings.TrimSpace(c.Watchdog.WorkerLog) == "" {
		c.Watchdog.WorkerLog = filepath.Join(c.Paths.LogDir, defaultWorkerLogName)
	}
	if c.Watchdog.WorkerLog, err = expandPath(c.Watchdog.WorkerLog); err != nil {
		return fmt.Errorf("watchdog.worker_log: %w", err)
	}
	c.Watchdog.MetricsBind = strings.TrimSpace(c.Watchdog.MetricsBind)
	return nil
}

func (c *Config) normalizeNotifications() {
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv(ntfyTopicEnv); ok {
			c.Notifications.NtfyTopic = value
		}
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch format {
	case "", "console", "text", "pretty":
		c.Logging.Format = "console"
	default:
		c.Logging.Format = format
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
