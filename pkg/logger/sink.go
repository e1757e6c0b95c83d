package logger

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// Stream identifies which output stream a line came from
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

// OutputSink receives streamed command output one whole line at a time
type OutputSink interface {
	Line(label string, stream Stream, line string)
}

// ConsoleSink writes "[label] line" to the console.
// Lines are written under a mutex so concurrent commands never interleave mid-line.
type ConsoleSink struct {
	mu      sync.Mutex
	out     io.Writer
	err     io.Writer
	noColor bool
}

// NewConsoleSink creates a sink writing stdout lines to out and stderr lines to errw
func NewConsoleSink(out, errw io.Writer) *ConsoleSink {
	return &ConsoleSink{out: out, err: errw, noColor: color.NoColor}
}

// DisableColors turns off ANSI colors
func (s *ConsoleSink) DisableColors() *ConsoleSink {
	s.noColor = true
	return s
}

// Line implements OutputSink
func (s *ConsoleSink) Line(label string, stream Stream, line string) {
	w := s.out
	prefix := fmt.Sprintf("[%s]", label)
	if stream == Stderr {
		w = s.err
		if s.noColor {
			prefix += " !"
		} else {
			prefix = color.New(color.FgRed).Sprint(prefix)
		}
	} else if !s.noColor {
		prefix = color.New(color.FgCyan).Sprint(prefix)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(w, "%s %s\n", prefix, line)
}

// BufferSink keeps every line in memory
type BufferSink struct {
	mu    sync.Mutex
	lines []SinkLine
}

// SinkLine is one recorded line
type SinkLine struct {
	Label  string
	Stream Stream
	Text   string
}

// Line implements OutputSink
func (s *BufferSink) Line(label string, stream Stream, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, SinkLine{Label: label, Stream: stream, Text: line})
}

// Lines returns a copy of the recorded lines
func (s *BufferSink) Lines() []SinkLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SinkLine(nil), s.lines...)
}

// DiscardSink drops everything
type DiscardSink struct{}

// Line implements OutputSink
func (DiscardSink) Line(string, Stream, string) {}

// LineWriter splits written bytes into lines and forwards them to a sink.
// Blank lines are skipped; a trailing partial line is flushed on Close.
type LineWriter struct {
	mu     sync.Mutex
	sink   OutputSink
	label  string
	stream Stream
	buf    bytes.Buffer
}

// NewLineWriter creates a LineWriter for one label and stream
func NewLineWriter(sink OutputSink, label string, stream Stream) *LineWriter {
	return &LineWriter{sink: sink, label: label, stream: stream}
}

// Write implements io.Writer
func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		idx := bytes.IndexByte(w.buf.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := string(w.buf.Next(idx + 1))
		w.emit(line)
	}
	return len(p), nil
}

// Close flushes any partial line
func (w *LineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
	return nil
}

func (w *LineWriter) emit(raw string) {
	line := strings.TrimRight(raw, "\r\n")
	// progress output rewrites the line with carriage returns; keep the final frame
	if idx := strings.LastIndex(line, "\r"); idx >= 0 {
		line = line[idx+1:]
	}
	if strings.TrimSpace(line) == "" {
		return
	}
	w.sink.Line(w.label, w.stream, line)
}
