package testsupport

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// WriteWatchFile replaces the watch file with a CSV holding the given rows
// under a fixed header.
func WriteWatchFile(t testing.TB, path string, rows ...string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	var b strings.Builder
	b.WriteString("token,risk_score\n")
	for _, row := range rows {
		b.WriteString(row)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
