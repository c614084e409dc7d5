package pty

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// timestampLayout prefixes every log line so read_logs can optionally
// strip it back off, per spec.md section 4.7's log layout.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// logSet owns a process's three log files (stdout, stderr, combined
// interleaved), per spec.md section 4.7. Every complete line is written
// with a timestamp prefix as soon as it arrives; a trailing partial line
// is held in memory until its newline arrives or the set is closed, so
// read_logs does not see it before then.
type logSet struct {
	mu                          sync.Mutex
	stdout, stderr, combined    *os.File
	stdoutPath, stderrPath, combinedPath string
	partial                     map[*os.File][]byte // buffers a line in progress
}

func newLogSet(dir string) (*logSet, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("pty: log dir: %w", err)
	}
	open := func(name string) (*os.File, error) {
		return os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	}
	stdout, err := open("stdout.log")
	if err != nil {
		return nil, err
	}
	stderr, err := open("stderr.log")
	if err != nil {
		stdout.Close()
		return nil, err
	}
	combined, err := open("combined.log")
	if err != nil {
		stdout.Close()
		stderr.Close()
		return nil, err
	}
	return &logSet{
		stdout: stdout, stderr: stderr, combined: combined,
		stdoutPath: filepath.Join(dir, "stdout.log"),
		stderrPath: filepath.Join(dir, "stderr.log"),
		combinedPath: filepath.Join(dir, "combined.log"),
		partial: make(map[*os.File][]byte),
	}, nil
}

// WriteStdout appends data to the stdout and combined logs.
func (l *logSet) WriteStdout(data []byte) {
	l.writeTagged(l.stdout, data)
	l.writeTagged(l.combined, data)
}

// WriteStderr appends data to the stderr and combined logs.
func (l *logSet) WriteStderr(data []byte) {
	l.writeTagged(l.stderr, data)
	l.writeTagged(l.combined, data)
}

// writeTagged splits data on newlines and prefixes each complete line with
// a timestamp, buffering any trailing partial line until it completes.
func (l *logSet) writeTagged(f *os.File, data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()

	buf := append(l.partial[f], data...)
	for {
		idx := bytes.IndexByte(buf, '\n')
		if idx < 0 {
			break
		}
		line := buf[:idx]
		fmt.Fprintf(f, "[%s] %s\n", time.Now().UTC().Format(timestampLayout), line)
		buf = buf[idx+1:]
	}
	l.partial[f] = buf
}

// Close flushes any buffered partial lines and closes all three files.
func (l *logSet) Close() {
	l.mu.Lock()
	for _, f := range []*os.File{l.stdout, l.stderr, l.combined} {
		if rest := l.partial[f]; len(rest) > 0 {
			fmt.Fprintf(f, "[%s] %s\n", time.Now().UTC().Format(timestampLayout), rest)
		}
	}
	l.mu.Unlock()

	l.stdout.Close()
	l.stderr.Close()
	l.combined.Close()
}

func (l *logSet) pathFor(stream LogStream) string {
	switch stream {
	case StreamStdout:
		return l.stdoutPath
	case StreamStderr:
		return l.stderrPath
	default:
		return l.combinedPath
	}
}

// Tail returns the last n lines of the requested stream, optionally
// stripping the leading "[timestamp] " prefix from each.
func (l *logSet) Tail(stream LogStream, n int, stripTimestamps bool) ([]string, error) {
	path := l.pathFor(stream)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("pty: open log: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("pty: read log: %w", err)
	}

	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	if stripTimestamps {
		for i, line := range lines {
			lines[i] = stripTimestampPrefix(line)
		}
	}
	return lines, nil
}

func stripTimestampPrefix(line string) string {
	if !strings.HasPrefix(line, "[") {
		return line
	}
	idx := strings.Index(line, "] ")
	if idx < 0 {
		return line
	}
	return line[idx+2:]
}
