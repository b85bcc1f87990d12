package fingerprint_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"tokenwatch/internal/fingerprint"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func sample(t *testing.T, s *fingerprint.Sampler) fingerprint.Fingerprint {
	t.Helper()
	fp, err := s.Sample()
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	return fp
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]fingerprint.Mode{
		"":        fingerprint.ModeContent,
		"content": fingerprint.ModeContent,
		"MTime":   fingerprint.ModeMTime,
		" lines ": fingerprint.ModeLines,
	} {
		got, err := fingerprint.ParseMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := fingerprint.ParseMode("sha256"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestContentModeIgnoresIdenticalRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analysis.csv")
	s := fingerprint.NewSampler(path, fingerprint.ModeContent)

	absent := sample(t, s)
	if absent != fingerprint.Absent || absent.String() != "absent" {
		t.Fatalf("expected absent fingerprint, got %v", absent)
	}

	write(t, path, "token,risk\nabc,0.4\n")
	first := sample(t, s)
	if !s.Changed(absent, first) {
		t.Fatal("appearance must be a change")
	}

	later := time.Now().Add(2 * time.Second)
	write(t, path, "token,risk\nabc,0.4\n")
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if s.Changed(first, sample(t, s)) {
		t.Fatal("identical content must not be a change")
	}

	write(t, path, "token,risk\nabc,0.5\n")
	if !s.Changed(first, sample(t, s)) {
		t.Fatal("different content must be a change")
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !s.Changed(first, sample(t, s)) {
		t.Fatal("disappearance must be a change")
	}
}

func TestMTimeMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analysis.csv")
	write(t, path, "a\n")
	s := fingerprint.NewSampler(path, fingerprint.ModeMTime)
	first := sample(t, s)

	if s.Changed(first, sample(t, s)) {
		t.Fatal("untouched file must not change")
	}
	later := time.Now().Add(3 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if !s.Changed(first, sample(t, s)) {
		t.Fatal("touched file must change in mtime mode")
	}
}

func TestLinesModeOnlyGrowthCounts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cluster_summaries.csv")
	write(t, path, "h\n1\n2\n")
	s := fingerprint.NewSampler(path, fingerprint.ModeLines)
	base := sample(t, s)
	if base.Lines != 3 {
		t.Fatalf("expected 3 lines, got %d", base.Lines)
	}

	write(t, path, "h\n1\nX\n")
	if s.Changed(base, sample(t, s)) {
		t.Fatal("rewrite without growth must not be a change")
	}

	write(t, path, "h\n1\n2\n3")
	grown := sample(t, s)
	if grown.Lines != 4 || !s.Changed(base, grown) {
		t.Fatalf("expected growth to 4 lines to be a change, got %d", grown.Lines)
	}

	write(t, path, "h\n")
	shrunk := sample(t, s)
	if s.Changed(grown, shrunk) {
		t.Fatal("shrink must not be a change")
	}
	rebased, ok := s.Rebase(grown, shrunk)
	if !ok || rebased.Lines != 1 {
		t.Fatalf("expected rebase to 1 line, got %d ok=%v", rebased.Lines, ok)
	}
}

func TestSampleRejectsDirectory(t *testing.T) {
	s := fingerprint.NewSampler(t.TempDir(), fingerprint.ModeContent)
	if _, err := s.Sample(); err == nil {
		t.Fatal("expected error for directory target")
	}
}
