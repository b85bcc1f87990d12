package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"tokenwatch/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The worker defaults to a shell sleep so nothing depends on python.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.BaseDir = base
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Lock.Dir = base
	cfgVal.Watchdog.WatchFile = filepath.Join(base, "token_risk_analysis.csv")
	cfgVal.Watchdog.WorkerCommand = "/bin/sh"
	cfgVal.Watchdog.WorkerArgs = []string{"-c", "exec sleep 30"}
	cfgVal.Watchdog.WorkerDir = base
	cfgVal.Watchdog.WorkerLog = filepath.Join(base, "logs", "monitoring.log")
	cfgVal.Watchdog.PollIntervalMS = 20
	cfgVal.Watchdog.TerminateGraceSeconds = 1
	cfgVal.Gate.PollIntervalMS = 20

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithWorkerScript writes an executable shell script into the base dir and
// uses it as the worker command.
func WithWorkerScript(body string) ConfigOption {
	return func(b *configBuilder) {
		script := filepath.Join(b.baseDir, "worker.sh")
		if err := os.WriteFile(script, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
			b.t.Fatalf("write worker script: %v", err)
		}
		b.cfg.Watchdog.WorkerCommand = script
		b.cfg.Watchdog.WorkerArgs = nil
	}
}

// WithFingerprint selects the fingerprint mode.
func WithFingerprint(mode string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Watchdog.Fingerprint = mode
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"python3"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return cfg.Paths.BaseDir
}
