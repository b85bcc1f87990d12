// Package fingerprint summarizes the watch target so that two samples can be
// compared for change.
//
// Three schemes are supported. content (the default) hashes the bytes with
// xxhash, so rewriting identical data is not a change. mtime compares size
// and modification time without reading the file. lines counts lines and
// treats only growth as a change, for append-only summaries. A missing file
// has its own fingerprint, so appearance and disappearance are changes in the
// content and mtime schemes.
package fingerprint

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Mode selects the fingerprint scheme.
type Mode string

const (
	ModeContent Mode = "content"
	ModeMTime   Mode = "mtime"
	ModeLines   Mode = "lines"
)

// ParseMode validates a configured scheme name.
func ParseMode(value string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case ModeContent, "":
		return ModeContent, nil
	case ModeMTime:
		return ModeMTime, nil
	case ModeLines:
		return ModeLines, nil
	default:
		return "", fmt.Errorf("unknown fingerprint mode %q", value)
	}
}

// Fingerprint is a comparable summary of the watch target. Fields unused by
// the active mode stay zero.
type Fingerprint struct {
	Exists  bool
	Size    int64
	ModTime int64
	Hash    uint64
	Lines   int64
}

// Absent is the fingerprint of a missing file.
var Absent = Fingerprint{}

func (f Fingerprint) String() string {
	if !f.Exists {
		return "absent"
	}
	switch {
	case f.Hash != 0:
		return fmt.Sprintf("xxh:%016x/%dB", f.Hash, f.Size)
	case f.ModTime != 0:
		return fmt.Sprintf("mtime:%s/%dB", time.Unix(0, f.ModTime).UTC().Format(time.RFC3339Nano), f.Size)
	default:
		return fmt.Sprintf("lines:%d", f.Lines)
	}
}

// Sampler produces fingerprints of one file.
type Sampler struct {
	path string
	mode Mode
}

// NewSampler returns a sampler for path.
func NewSampler(path string, mode Mode) *Sampler {
	if mode == "" {
		mode = ModeContent
	}
	return &Sampler{path: path, mode: mode}
}

// Path returns the watched file.
func (s *Sampler) Path() string { return s.path }

// Mode returns the fingerprint scheme.
func (s *Sampler) Mode() Mode { return s.mode }

// Sample reads the current fingerprint. A missing file yields Absent and no
// error.
func (s *Sampler) Sample() (Fingerprint, error) {
	file, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Absent, nil
	}
	if err != nil {
		return Fingerprint{}, fmt.Errorf("open watch target: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return Fingerprint{}, fmt.Errorf("stat watch target: %w", err)
	}
	if info.IsDir() {
		return Fingerprint{}, fmt.Errorf("watch target %s is a directory", s.path)
	}

	fp := Fingerprint{Exists: true}
	switch s.mode {
	case ModeMTime:
		fp.Size = info.Size()
		fp.ModTime = info.ModTime().UnixNano()
	case ModeLines:
		lines, err := countLines(file)
		if err != nil {
			return Fingerprint{}, fmt.Errorf("count lines: %w", err)
		}
		fp.Lines = lines
	default:
		digest := xxhash.New()
		size, err := io.Copy(digest, file)
		if err != nil {
			return Fingerprint{}, fmt.Errorf("hash watch target: %w", err)
		}
		fp.Size = size
		fp.Hash = digest.Sum64()
		if fp.Hash == 0 {
			// Keep String able to tell hashed fingerprints apart.
			fp.Hash = 1
		}
	}
	return fp, nil
}

// Changed reports whether cur differs from prev under the sampler's mode.
func (s *Sampler) Changed(prev, cur Fingerprint) bool {
	if s.mode == ModeLines {
		return cur.Lines > prev.Lines
	}
	return prev != cur
}

// Rebase returns the baseline to keep when cur is not a change. In lines
// mode a shrunk file resets the baseline so later growth is noticed.
func (s *Sampler) Rebase(prev, cur Fingerprint) (Fingerprint, bool) {
	if s.mode == ModeLines && cur.Lines < prev.Lines {
		return cur, true
	}
	return prev, false
}

func countLines(r io.Reader) (int64, error) {
	buf := make([]byte, 64*1024)
	var (
		count int64
		last  byte
		seen  bool
	)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			seen = true
			count += int64(bytes.Count(buf[:n], []byte{'\n'}))
			last = buf[n-1]
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
	}
	if seen && last != '\n' {
		count++
	}
	return count, nil
}
