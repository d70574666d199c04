package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"github.com/goburrow/serial"
)

type SerialParams struct {
	Address  string
	BaudRate int
	DataBits int
	StopBits int
	Parity   string
	Timeout  time.Duration
}

func EnsureSerialDefaults(sp *SerialParams) {
	if sp.BaudRate == 0 {
		sp.BaudRate = 115200
	}
	if sp.DataBits == 0 {
		sp.DataBits = 8
	}
	if sp.StopBits == 0 {
		sp.StopBits = 1
	}
	if sp.Parity == "" {
		sp.Parity = "N"
	}
	if sp.Timeout <= 0 {
		sp.Timeout = 2 * time.Second
	}
}

// MaxLineBytes bounds the partial line a SerialSource holds while waiting
// for its newline. Device records are far shorter.
const MaxLineBytes = 4096

// SerialSource splits a serial byte stream into lines. A partial line is
// kept across stalls until its newline arrives.
type SerialSource struct {
	port       io.ReadCloser
	buf        []byte
	tmp        []byte
	maxLine    int
	discarding bool
}

// OpenSerial opens the port and wraps it as a line source.
func OpenSerial(sp SerialParams) (*SerialSource, error) {
	EnsureSerialDefaults(&sp)
	port, err := serial.Open(&serial.Config{
		Address:  sp.Address,
		BaudRate: sp.BaudRate,
		DataBits: sp.DataBits,
		StopBits: sp.StopBits,
		Parity:   sp.Parity,
		Timeout:  sp.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return NewSerialSource(port), nil
}

// NewSerialSource wraps an already open port. Reads are expected to return
// serial.ErrTimeout when the port's read timeout elapses.
func NewSerialSource(port io.ReadCloser) *SerialSource {
	return &SerialSource{port: port, tmp: make([]byte, 512), maxLine: MaxLineBytes}
}

func (s *SerialSource) Next(ctx context.Context) (string, error) {
	for {
		if i := bytes.IndexByte(s.buf, '\n'); i >= 0 {
			line := string(s.buf[:i])
			s.buf = s.buf[i+1:]
			if s.discarding {
				s.discarding = false
				continue
			}
			return cleanLine(line), nil
		}
		if len(s.buf) > s.maxLine {
			s.buf = s.buf[:0]
			if !s.discarding {
				s.discarding = true
				return "", ErrLineTooLong
			}
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := s.port.Read(s.tmp)
		if n > 0 {
			s.buf = append(s.buf, s.tmp[:n]...)
		}
		switch {
		case err == nil:
		case errors.Is(err, serial.ErrTimeout):
			if n == 0 {
				return "", ErrStalled
			}
		case errors.Is(err, io.EOF):
			if s.discarding {
				s.buf = nil
				return "", io.EOF
			}
			if len(s.buf) > 0 {
				line := string(s.buf)
				s.buf = nil
				return cleanLine(line), nil
			}
			return "", io.EOF
		default:
			return "", err
		}
	}
}

func (s *SerialSource) Close() error { return s.port.Close() }
