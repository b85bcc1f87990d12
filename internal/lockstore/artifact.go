package lockstore

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"tokenwatch/internal/procutil"
)

var errCorrupt = errors.New("unreadable lock artifact")

// Artifact is the content of the lock file.
//
// Encoded form:
//
//	<pid>
//	<created_at as unix seconds>
//	process_start=<unix milliseconds>
//	hostname=<host>
//	holder=<caller identity>
//
// Only the first line is required.
type Artifact struct {
	PID          int
	CreatedAt    time.Time
	ProcessStart time.Time
	Hostname     string
	Holder       string
}

// Owner returns the process identity recorded in the artifact.
func (a Artifact) Owner() procutil.Identity {
	return procutil.Identity{PID: a.PID, StartTime: a.ProcessStart}
}

func (a Artifact) encode() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d\n", a.PID)
	fmt.Fprintf(&buf, "%s\n", strconv.FormatFloat(float64(a.CreatedAt.UnixNano())/1e9, 'f', 6, 64))
	if !a.ProcessStart.IsZero() {
		fmt.Fprintf(&buf, "process_start=%d\n", a.ProcessStart.UnixMilli())
	}
	if a.Hostname != "" {
		fmt.Fprintf(&buf, "hostname=%s\n", sanitize(a.Hostname))
	}
	if a.Holder != "" {
		fmt.Fprintf(&buf, "holder=%s\n", sanitize(a.Holder))
	}
	return buf.Bytes()
}

func decodeArtifact(data []byte) (Artifact, error) {
	var art Artifact
	scanner := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		line++
		switch line {
		case 1:
			pid, err := strconv.Atoi(text)
			if err != nil || pid <= 0 {
				return Artifact{}, fmt.Errorf("%w: pid %q", errCorrupt, text)
			}
			art.PID = pid
			continue
		case 2:
			if created, ok := parseUnixSeconds(text); ok {
				art.CreatedAt = created
				continue
			}
		}
		key, value, ok := strings.Cut(text, "=")
		if !ok {
			continue
		}
		switch key {
		case "process_start":
			if ms, err := strconv.ParseInt(value, 10, 64); err == nil && ms > 0 {
				art.ProcessStart = time.UnixMilli(ms)
			}
		case "hostname":
			art.Hostname = value
		case "holder":
			art.Holder = value
		}
	}
	if err := scanner.Err(); err != nil {
		return Artifact{}, fmt.Errorf("%w: %v", errCorrupt, err)
	}
	if art.PID == 0 {
		return Artifact{}, fmt.Errorf("%w: empty", errCorrupt)
	}
	return art, nil
}

func parseUnixSeconds(text string) (time.Time, bool) {
	value, err := strconv.ParseFloat(text, 64)
	if err != nil || value <= 0 || math.IsInf(value, 0) || math.IsNaN(value) {
		return time.Time{}, false
	}
	sec, frac := math.Modf(value)
	return time.Unix(int64(sec), int64(frac*1e9)), true
}

func sanitize(value string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' '
		}
		return r
	}, value)
}
