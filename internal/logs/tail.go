package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const maxLineBytes = 1024 * 1024

// Position identifies a read offset within one concrete log file.
type Position struct {
	File   string
	Offset int64
}

// Last returns up to limit trailing lines of path and the position after them.
// A missing file yields no lines and a zero position. limit <= 0 returns all lines.
func Last(path string, limit int) ([]string, Position, error) {
	target, err := resolve(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, Position{}, nil
		}
		return nil, Position{}, err
	}

	file, err := os.Open(target)
	if err != nil {
		return nil, Position{}, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	var ring []string
	next := 0
	count := 0
	scanner := newScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if limit <= 0 {
			ring = append(ring, line)
			continue
		}
		if ring == nil {
			ring = make([]string, limit)
		}
		ring[next] = line
		next = (next + 1) % limit
		if count < limit {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, Position{}, fmt.Errorf("read log file: %w", err)
	}

	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, Position{}, fmt.Errorf("seek log file: %w", err)
	}
	pos := Position{File: target, Offset: offset}
	if limit <= 0 {
		return ring, pos, nil
	}

	lines := make([]string, count)
	start := 0
	if count == limit {
		start = next
	}
	for i := 0; i < count; i++ {
		lines[i] = ring[(start+i)%limit]
	}
	return lines, pos, nil
}

// Follow calls emit for every complete line appended to path after pos until
// ctx is done. When path resolves to a different file (a new watchdog run) or
// the file shrinks, reading restarts from the beginning of the current file.
func Follow(ctx context.Context, path string, pos Position, poll time.Duration, emit func(string)) error {
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}

	wake := make(chan struct{}, 1)
	if watcher, err := fsnotify.NewWatcher(); err == nil {
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(path)); err == nil {
			go forwardEvents(ctx, watcher, wake)
		}
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		next, err := readNew(path, pos, emit)
		if err != nil {
			return err
		}
		pos = next

		select {
		case <-ctx.Done():
			return nil
		case <-wake:
		case <-ticker.C:
		}
	}
}

func forwardEvents(ctx context.Context, watcher *fsnotify.Watcher, wake chan<- struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-watcher.Events:
			if !ok {
				return
			}
			select {
			case wake <- struct{}{}:
			default:
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func readNew(path string, pos Position, emit func(string)) (Position, error) {
	target, err := resolve(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return pos, nil
		}
		return pos, err
	}
	if target != pos.File {
		pos = Position{File: target}
	}

	file, err := os.Open(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return pos, nil
		}
		return pos, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return pos, fmt.Errorf("stat log file: %w", err)
	}
	if info.Size() < pos.Offset {
		pos.Offset = 0
	}
	if _, err := file.Seek(pos.Offset, io.SeekStart); err != nil {
		return pos, fmt.Errorf("seek log file: %w", err)
	}

	reader := bufio.NewReaderSize(file, 64*1024)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			// Partial lines stay unread until their newline arrives.
			if errors.Is(err, io.EOF) {
				return pos, nil
			}
			return pos, fmt.Errorf("read log file: %w", err)
		}
		pos.Offset += int64(len(line))
		emit(trimNewline(line))
	}
}

func resolve(path string) (string, error) {
	target, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(target)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("log path %q is a directory", path)
	}
	return target, nil
}

func newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return scanner
}

func trimNewline(line string) string {
	line = line[:len(line)-1]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line
}
