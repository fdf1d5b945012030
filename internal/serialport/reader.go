package serialport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrWriteFailed indicates a short write to the serial port.
var ErrWriteFailed = errors.New("failed to write to serial port")

// DefaultPollTimeout bounds a single read against the port so that Poll never
// blocks its caller for longer than one poll interval.
const DefaultPollTimeout = 5 * time.Millisecond

// LineReader turns a Porter into a non-blocking, newline-delimited line
// source. Each Poll performs at most one bounded read against the port and
// returns a line only when a complete one has been buffered. This is the
// "data available" check the protocol and ingestion loops are built on: the
// caller owns the loop, the deadline checks, and the sleeps between polls.
type LineReader struct {
	port Porter
	buf  bytes.Buffer
	eof  bool
}

// NewLineReader wraps a port in a LineReader. When the port supports read
// timeouts, the timeout is set so reads return quickly in absence of data.
func NewLineReader(port Porter) (*LineReader, error) {
	if tp, ok := port.(TimeoutPorter); ok {
		if err := tp.SetReadTimeout(DefaultPollTimeout); err != nil {
			return nil, fmt.Errorf("failed to set read timeout: %w", err)
		}
	}
	return &LineReader{port: port}, nil
}

// Poll returns the next complete line if one is available. A line is returned
// with ok=true; ok=false with a nil error means no complete line has arrived
// yet. Trailing carriage returns are stripped. After the port reports EOF,
// buffered complete lines are still drained before io.EOF is surfaced.
func (lr *LineReader) Poll() (line string, ok bool, err error) {
	if line, ok = lr.popLine(); ok {
		return line, true, nil
	}
	if lr.eof {
		return "", false, io.EOF
	}

	scratch := make([]byte, 256)
	n, err := lr.port.Read(scratch)
	if n > 0 {
		lr.buf.Write(scratch[:n])
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			// Drain what we have before reporting end of stream.
			lr.eof = true
			if line, ok = lr.popLine(); ok {
				return line, true, nil
			}
			return "", false, io.EOF
		}
		return "", false, fmt.Errorf("serial read failed: %w", err)
	}

	if line, ok = lr.popLine(); ok {
		return line, true, nil
	}
	return "", false, nil
}

// WriteLine writes a line to the port, appending a newline when missing.
func (lr *LineReader) WriteLine(s string) error {
	if len(s) == 0 || s[len(s)-1] != '\n' {
		s += "\n"
	}
	n, err := lr.port.Write([]byte(s))
	if err != nil {
		return err
	}
	if n != len(s) {
		return ErrWriteFailed
	}
	return nil
}

func (lr *LineReader) popLine() (string, bool) {
	data := lr.buf.Bytes()
	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		return "", false
	}
	line := string(bytes.TrimRight(data[:i], "\r"))
	lr.buf.Next(i + 1)
	return line, true
}
