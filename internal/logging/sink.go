package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// MaxLineLength is the maximum length of a single log line before truncation.
	MaxLineLength = 4096

	// MaxBufferedLines is the number of recent lines kept in memory.
	MaxBufferedLines = 100

	// RunStampLayout formats run start times in file names (yymmdd-HHMM).
	RunStampLayout = "060102-1504"
)

// Sink is an io.Writer for log output. It splits the stream into lines,
// keeps the most recent ones, forwards each line on a channel without
// blocking, and optionally copies everything to a file.
type Sink struct {
	mu      sync.Mutex
	partial []byte
	buffer  []string
	bufIdx  int
	file    io.WriteCloser

	lines   chan string
	dropped atomic.Uint64
}

// NewSink creates a sink. channelSize 0 disables line forwarding.
func NewSink(channelSize int) *Sink {
	s := &Sink{buffer: make([]string, MaxBufferedLines)}
	if channelSize > 0 {
		s.lines = make(chan string, channelSize)
	}
	return s
}

// Tee copies all further output to w. The sink closes w on Close.
func (s *Sink) Tee(w io.WriteCloser) {
	s.mu.Lock()
	s.file = w
	s.mu.Unlock()
}

// Write implements io.Writer.
func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		if _, err := s.file.Write(p); err != nil {
			return 0, fmt.Errorf("run log: %w", err)
		}
	}

	s.partial = append(s.partial, p...)
	for {
		i := bytes.IndexByte(s.partial, '\n')
		if i < 0 {
			break
		}
		s.handleLineLocked(string(s.partial[:i]))
		s.partial = s.partial[i+1:]
	}
	if len(s.partial) > MaxLineLength {
		s.handleLineLocked(string(s.partial))
		s.partial = s.partial[:0]
	}
	return len(p), nil
}

func (s *Sink) handleLineLocked(line string) {
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + "...(truncated)"
	}

	s.buffer[s.bufIdx] = line
	s.bufIdx = (s.bufIdx + 1) % MaxBufferedLines

	if s.lines != nil {
		select {
		case s.lines <- line:
		default:
			s.dropped.Add(1)
		}
	}
}

// Lines returns the forwarding channel, or nil if disabled.
func (s *Sink) Lines() <-chan string {
	return s.lines
}

// Dropped returns how many lines the channel reader missed.
func (s *Sink) Dropped() uint64 {
	return s.dropped.Load()
}

// RecentLines returns up to n of the most recent lines, oldest first.
func (s *Sink) RecentLines(n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n > MaxBufferedLines {
		n = MaxBufferedLines
	}

	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := (s.bufIdx - n + i + MaxBufferedLines) % MaxBufferedLines
		if s.buffer[idx] != "" {
			lines = append(lines, s.buffer[idx])
		}
	}
	return lines
}

// Close closes the tee file, if any.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// RunStamp formats t for use in run file names.
func RunStamp(t time.Time) string {
	return t.Format(RunStampLayout)
}

// OpenRunLog creates dir/<prefix>_<yymmdd-HHMM>.log.
func OpenRunLog(dir, prefix string, t time.Time) (*os.File, error) {
	name := filepath.Join(dir, fmt.Sprintf("%s_%s.log", prefix, RunStamp(t)))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	return f, nil
}
