package main

import (
	"os"
	"testing"
)

func TestLogsCommandPrintsTail(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"logs"}, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "No log entries available")

	if err := os.MkdirAll(env.cfg.Paths.LogDir, 0o755); err != nil {
		t.Fatalf("mkdir logs: %v", err)
	}
	content := "first\nsecond\nthird\n"
	if err := os.WriteFile(env.cfg.CurrentLogPath(), []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	out, _, err = runCLI(t, []string{"logs", "-n", "2"}, env.configPath)
	if err != nil {
		t.Fatalf("logs -n 2: %v", err)
	}
	if out != "second\nthird\n" {
		t.Fatalf("unexpected logs output: %q", out)
	}
}
