package config

const (
	defaultConfigPath       = "~/.config/tokenwatch/config.toml"
	projectConfigName       = "tokenwatch.toml"
	defaultBaseDir          = "~/.local/share/tokenwatch"
	defaultLogDirName       = "logs"
	defaultLockName         = "process.lock"
	defaultCorruptGrace     = 5
	defaultGatePollMS       = 1000
	defaultWatchFileName    = "token_risk_analysis.csv"
	defaultFingerprint      = "content"
	defaultWatchdogPollMS   = 1000
	defaultWorkerCommand    = "python3"
	defaultWorkerScript     = "monitoring.py"
	defaultWorkerLogName    = "monitoring.log"
	defaultTerminateGrace   = 5
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultLogRetentionDays = 30
	defaultNotifyTimeout    = 10
	watchFileEnv            = "TOKEN_RISK_ANALYSIS_CSV"
	lockDirEnv              = "TOKENWATCH_LOCK_DIR"
	ntfyTopicEnv            = "TOKENWATCH_NTFY_TOPIC"
)

// Default returns a Config populated with repository defaults. Directory
// fields left empty are derived from Paths.BaseDir during normalization,
// except the lock dir, which follows the worker dir.
func Default() Config {
	return Config{
		Paths: Paths{
			BaseDir: defaultBaseDir,
		},
		Lock: Lock{
			Name:                defaultLockName,
			CorruptGraceSeconds: defaultCorruptGrace,
		},
		Gate: Gate{
			PollIntervalMS: defaultGatePollMS,
		},
		Watchdog: Watchdog{
			Fingerprint:           defaultFingerprint,
			PollIntervalMS:        defaultWatchdogPollMS,
			WorkerCommand:         defaultWorkerCommand,
			WorkerArgs:            []string{defaultWorkerScript},
			TerminateGraceSeconds: defaultTerminateGrace,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Restarts:       true,
			Suspensions:    true,
			Failures:       true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
