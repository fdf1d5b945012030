package serialport

import (
	"bytes"
	"io"
	"sync"
	"time"
)

// ScriptedPort implements TimeoutPorter with pre-scripted read data and
// captured writes. It simulates the timeout semantics of a real serial port:
// a Read with no pending data returns (0, nil), exactly like a timed-out read
// on a go.bug.st port.
type ScriptedPort struct {
	mu       sync.Mutex
	pending  bytes.Buffer
	written  bytes.Buffer
	readErr  error
	writeErr error
	closed   bool

	// WriteHook, when set, is invoked (locked out of the mutex) with each
	// chunk written to the port. Tests use it to script device reactions,
	// e.g. answering the handshake acknowledgment with a format line.
	WriteHook func(data []byte)
}

// NewScriptedPort creates an empty ScriptedPort.
func NewScriptedPort() *ScriptedPort {
	return &ScriptedPort{}
}

// PushLine queues a line (newline appended) for subsequent reads.
func (p *ScriptedPort) PushLine(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending.WriteString(line)
	p.pending.WriteByte('\n')
}

// PushBytes queues raw bytes for subsequent reads, allowing partial lines.
func (p *ScriptedPort) PushBytes(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending.Write(data)
}

// SetReadError makes subsequent reads fail once the pending data is drained.
func (p *ScriptedPort) SetReadError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readErr = err
}

// SetWriteError makes subsequent writes fail.
func (p *ScriptedPort) SetWriteError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeErr = err
}

// Written returns everything written to the port so far.
func (p *ScriptedPort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

// Closed reports whether Close was called.
func (p *ScriptedPort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Read pops pending data. With nothing pending it reports a timed-out read.
func (p *ScriptedPort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, io.EOF
	}
	if p.pending.Len() == 0 {
		if p.readErr != nil {
			return 0, p.readErr
		}
		return 0, nil
	}
	return p.pending.Read(buf)
}

// Write captures the written bytes.
func (p *ScriptedPort) Write(data []byte) (int, error) {
	p.mu.Lock()
	if p.writeErr != nil {
		err := p.writeErr
		p.mu.Unlock()
		return 0, err
	}
	n, err := p.written.Write(data)
	hook := p.WriteHook
	p.mu.Unlock()

	if hook != nil {
		hook(data)
	}
	return n, err
}

// Close marks the port closed; subsequent reads report EOF.
func (p *ScriptedPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// SetReadTimeout satisfies TimeoutPorter; the scripted port never blocks.
func (p *ScriptedPort) SetReadTimeout(time.Duration) error { return nil }
