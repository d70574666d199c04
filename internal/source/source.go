// Package source produces raw text lines for the pipeline: a live serial
// port, a file or stdin, or a recovered console log dump.
package source

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
)

// ErrStalled is returned by Next when no complete line arrived within the
// source's read timeout. The source stays usable.
var ErrStalled = errors.New("source stalled")

// ErrLineTooLong is returned by Next when a partial line outgrew the
// source's buffer. The partial line is discarded up to its newline and the
// source stays usable.
var ErrLineTooLong = errors.New("line too long")

// LineSource yields one raw line per call. io.EOF marks a finite source's end.
type LineSource interface {
	Next(ctx context.Context) (string, error)
}

// ReaderSource reads newline-terminated lines from r.
type ReaderSource struct {
	r *bufio.Reader
}

func NewReaderSource(r io.Reader) *ReaderSource {
	return &ReaderSource{r: bufio.NewReader(r)}
}

func (s *ReaderSource) Next(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	line, err := s.r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return cleanLine(line), nil
		}
		return "", err
	}
	return cleanLine(line), nil
}

// LogMarker prefixes device output in console logs captured by the uploader.
const LogMarker = "[Arduino]"

// LogDumpSource yields the device text of each marked line of a console
// log, skipping everything else.
type LogDumpSource struct {
	inner LineSource
}

func NewLogDumpSource(r io.Reader) *LogDumpSource {
	return &LogDumpSource{inner: NewReaderSource(r)}
}

func (s *LogDumpSource) Next(ctx context.Context) (string, error) {
	for {
		line, err := s.inner.Next(ctx)
		if err != nil {
			return "", err
		}
		if _, rest, ok := strings.Cut(line, LogMarker); ok {
			return strings.TrimSpace(rest), nil
		}
	}
}

// cleanLine strips line endings and drops bytes that are not valid UTF-8;
// serial noise is common right after a device reset.
func cleanLine(s string) string {
	return strings.ToValidUTF8(strings.TrimRight(s, "\r\n"), "")
}
