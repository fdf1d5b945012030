// Package session drives the synchronization protocol with a streaming
// measurement device: handshake acknowledgment followed by the self-describing
// format announcement that fixes the record schema for the rest of the
// session.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jesseheckman/erobot/internal/monitoring"
	"github.com/jesseheckman/erobot/internal/record"
	"github.com/jesseheckman/erobot/internal/serialport"
	"github.com/jesseheckman/erobot/internal/timeutil"
)

var (
	// ErrConnect indicates the serial transport could not be opened.
	ErrConnect = errors.New("failed to connect to device")

	// ErrHandshakeTimeout indicates the handshake token never arrived
	// within the configured deadline.
	ErrHandshakeTimeout = errors.New("timed out waiting for device handshake")

	// ErrSchemaUnresolved indicates the format announcement never arrived
	// within the configured deadline.
	ErrSchemaUnresolved = errors.New("timed out waiting for format announcement")
)

// State is the lifecycle state of a Session.
type State int

const (
	Disconnected State = iota
	Connected
	HandshakeAwaited
	SchemaAwaited
	Ready
	Closed
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case HandshakeAwaited:
		return "handshake-awaited"
	case SchemaAwaited:
		return "schema-awaited"
	case Ready:
		return "ready"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Tokens holds the wire tokens of the synchronization protocol.
type Tokens struct {
	Handshake    string `json:"handshake"`
	Ack          string `json:"ack"`
	FormatPrefix string `json:"format_prefix"`
	Stop         string `json:"stop"`
}

// DefaultTokens returns the tokens the device firmware emits.
func DefaultTokens() Tokens {
	return Tokens{
		Handshake:    "INIT-COM",
		Ack:          "READY",
		FormatPrefix: "Format:",
		Stop:         "STOP-COM",
	}
}

// DefaultPollInterval is the sleep between "data available" checks in the
// protocol phases.
const DefaultPollInterval = 2 * time.Millisecond

// Session owns one device connection: the transport, the protocol state, and
// the schema negotiated from the format announcement. Exactly one Session
// exists per transport; all phases run sequentially on one logical flow.
type Session struct {
	id           uuid.UUID
	port         serialport.Porter
	reader       *serialport.LineReader
	clock        timeutil.Clock
	tokens       Tokens
	pollInterval time.Duration

	state     State
	failure   error
	schema    record.Schema
	startedAt time.Time
	endedAt   time.Time
}

// Option configures a Session.
type Option func(*Session)

// WithClock injects a clock; tests pass a timeutil.MockClock.
func WithClock(c timeutil.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithTokens overrides the protocol tokens.
func WithTokens(t Tokens) Option {
	return func(s *Session) { s.tokens = t }
}

// WithPollInterval overrides the sleep between poll iterations.
func WithPollInterval(d time.Duration) Option {
	return func(s *Session) { s.pollInterval = d }
}

// Dial opens the serial transport at the given path and wraps it in a
// Session. A transport that cannot be opened fails with ErrConnect.
func Dial(path string, opts serialport.Options, options ...Option) (*Session, error) {
	port, err := serialport.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}
	s, err := Attach(port, options...)
	if err != nil {
		port.Close()
		return nil, err
	}
	monitoring.Logf("session %s: connected to %s", s.id, path)
	return s, nil
}

// Attach wraps an already-open transport in a Session. Tests and dev mode use
// it with scripted ports.
func Attach(port serialport.Porter, options ...Option) (*Session, error) {
	s := &Session{
		id:           uuid.New(),
		port:         port,
		clock:        timeutil.RealClock{},
		tokens:       DefaultTokens(),
		pollInterval: DefaultPollInterval,
		state:        Connected,
	}
	for _, opt := range options {
		opt(s)
	}

	reader, err := serialport.NewLineReader(port)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}
	s.reader = reader
	s.startedAt = s.clock.Now()
	return s, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// Err returns the failure that moved the session into the Failed state.
func (s *Session) Err() error { return s.failure }

// Schema returns the negotiated schema; zero until the format announcement
// has been processed.
func (s *Session) Schema() record.Schema { return s.schema }

// Tokens returns the protocol tokens in effect.
func (s *Session) Tokens() Tokens { return s.tokens }

// Reader returns the line reader over the session's transport. The ingestion
// loop polls it after the protocol phases complete.
func (s *Session) Reader() *serialport.LineReader { return s.reader }

// Clock returns the session clock.
func (s *Session) Clock() timeutil.Clock { return s.clock }

// StartedAt returns when the session was opened.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// EndedAt returns when the session was closed; zero while open.
func (s *Session) EndedAt() time.Time { return s.endedAt }

// AwaitHandshake polls the transport for the handshake token and answers it
// with the acknowledgment token. Non-matching lines are noise emitted before
// the device stabilizes and are discarded. If no handshake arrives before the
// timeout elapses the session fails with ErrHandshakeTimeout.
func (s *Session) AwaitHandshake(timeout time.Duration) error {
	if s.state != Connected {
		return s.fail(fmt.Errorf("await handshake in state %s", s.state))
	}
	s.state = HandshakeAwaited

	start := s.clock.Now()
	for {
		line, ok, err := s.reader.Poll()
		if err != nil {
			return s.fail(fmt.Errorf("handshake poll failed: %w", err))
		}
		if ok {
			if strings.HasPrefix(line, s.tokens.Handshake) {
				monitoring.Logf("session %s: handshake received", s.id)
				if err := s.reader.WriteLine(s.tokens.Ack); err != nil {
					return s.fail(fmt.Errorf("failed to acknowledge handshake: %w", err))
				}
				s.state = SchemaAwaited
				return nil
			}
			// Noise line before the device stabilized; fall through to
			// the deadline check so endless noise cannot stall us.
		} else {
			s.clock.Sleep(s.pollInterval)
		}
		if s.clock.Since(start) >= timeout {
			return s.fail(ErrHandshakeTimeout)
		}
	}
}

// ProcessFormatMessage polls the transport for the format announcement and
// commits the schema parsed from it. The wait is bounded: a device that never
// announces its format fails the session with ErrSchemaUnresolved instead of
// livelocking the host.
func (s *Session) ProcessFormatMessage(timeout time.Duration) error {
	if s.state != SchemaAwaited {
		return s.fail(fmt.Errorf("process format message in state %s", s.state))
	}

	start := s.clock.Now()
	for {
		line, ok, err := s.reader.Poll()
		if err != nil {
			return s.fail(fmt.Errorf("format poll failed: %w", err))
		}
		if ok {
			if strings.HasPrefix(line, s.tokens.FormatPrefix) {
				columns := strings.Split(strings.TrimSpace(strings.TrimPrefix(line, s.tokens.FormatPrefix)), ",")
				schema, err := record.NewSchema(columns)
				if err != nil {
					return s.fail(fmt.Errorf("invalid format announcement %q: %w", line, err))
				}
				s.schema = schema
				s.state = Ready
				monitoring.Logf("session %s: schema %v", s.id, schema.Columns())
				return nil
			}
			// Not a format announcement; discard and keep waiting.
		} else {
			s.clock.Sleep(s.pollInterval)
		}
		if s.clock.Since(start) >= timeout {
			return s.fail(ErrSchemaUnresolved)
		}
	}
}

// Close closes the transport. It is safe to call on a failed session; the
// first close wins.
func (s *Session) Close() error {
	if s.state == Closed {
		return nil
	}
	prev := s.state
	s.state = Closed
	s.endedAt = s.clock.Now()
	if err := s.port.Close(); err != nil {
		return fmt.Errorf("failed to close transport: %w", err)
	}
	monitoring.Logf("session %s: closed (was %s)", s.id, prev)
	return nil
}

func (s *Session) fail(err error) error {
	s.state = Failed
	s.failure = err
	return err
}
