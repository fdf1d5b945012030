// Package capture converts the raw line stream of a synchronized session into
// validated records, batches them in a bounded buffer, and commits batches to
// the persistence collaborator.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jesseheckman/erobot/internal/monitoring"
	"github.com/jesseheckman/erobot/internal/record"
	"github.com/jesseheckman/erobot/internal/timeutil"
)

// ErrPersist indicates the persistence collaborator rejected a batch. It is
// fatal to the session but never skips finalization: the final flush is still
// attempted before the error surfaces.
var ErrPersist = errors.New("failed to persist records")

// DefaultBufferSize bounds the in-memory buffer when none is configured.
const DefaultBufferSize = 100

// DefaultPollInterval is the sleep between quiet polls of the line source.
const DefaultPollInterval = 2 * time.Millisecond

// Sink is the append side of the persistence collaborator: durable,
// order-preserving, append-only.
type Sink interface {
	AppendBatch(ctx context.Context, batch []record.Record) error
}

// LineSource yields complete lines without blocking; ok=false means no line
// is available yet. serialport.LineReader satisfies it.
type LineSource interface {
	Poll() (line string, ok bool, err error)
}

// Observer receives ingest instrumentation events. metrics.Capture satisfies
// it.
type Observer interface {
	RecordAccepted()
	LineDiscarded()
	FlushCompleted(n int)
	BufferLength(n int)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) RecordAccepted()    {}
func (NopObserver) LineDiscarded()     {}
func (NopObserver) FlushCompleted(int) {}
func (NopObserver) BufferLength(int)   {}

// StopReason records which condition ended a capture run.
type StopReason string

const (
	StopDuration  StopReason = "duration-elapsed"
	StopToken     StopReason = "stop-token"
	StopCancelled StopReason = "cancelled"
	StopTransport StopReason = "transport-closed"
	StopPersist   StopReason = "persistence-failure"
)

// Result summarizes one capture run. Accepted always equals Persisted after a
// clean run: no accepted record is lost on any termination path.
type Result struct {
	Start     time.Time
	Stop      time.Time
	Accepted  int
	Discarded int
	Flushes   int
	Persisted int
	Reason    StopReason
}

// Ingestor owns the bounded ingestion buffer for one session. Every record in
// the buffer has already passed schema validation; the buffer length never
// exceeds the configured capacity.
type Ingestor struct {
	schema       record.Schema
	source       LineSource
	sink         Sink
	clock        timeutil.Clock
	obs          Observer
	stopToken    string
	bufferSize   int
	pollInterval time.Duration

	buffer []record.Record
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithClock injects a clock for deterministic duration handling in tests.
func WithClock(c timeutil.Clock) Option {
	return func(in *Ingestor) { in.clock = c }
}

// WithObserver attaches ingest instrumentation.
func WithObserver(o Observer) Option {
	return func(in *Ingestor) { in.obs = o }
}

// WithStopToken sets the verbatim line that ends capture.
func WithStopToken(token string) Option {
	return func(in *Ingestor) { in.stopToken = token }
}

// WithBufferSize bounds the in-memory buffer; a full buffer triggers a flush.
func WithBufferSize(n int) Option {
	return func(in *Ingestor) { in.bufferSize = n }
}

// WithPollInterval overrides the sleep between quiet polls.
func WithPollInterval(d time.Duration) Option {
	return func(in *Ingestor) { in.pollInterval = d }
}

// New creates an Ingestor for a negotiated schema, reading lines from source
// and committing batches to sink.
func New(schema record.Schema, source LineSource, sink Sink, opts ...Option) *Ingestor {
	in := &Ingestor{
		schema:       schema,
		source:       source,
		sink:         sink,
		clock:        timeutil.RealClock{},
		obs:          NopObserver{},
		stopToken:    "STOP-COM",
		bufferSize:   DefaultBufferSize,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(in)
	}
	if in.bufferSize <= 0 {
		in.bufferSize = DefaultBufferSize
	}
	in.buffer = make([]record.Record, 0, in.bufferSize)
	return in
}

// BufferLength returns the current buffer fill level.
func (in *Ingestor) BufferLength() int { return len(in.buffer) }

// Run ingests until the duration elapses (when positive), the stop token
// arrives, the context is cancelled, or the transport drops. Every
// termination path flushes the partial buffer before returning, so the total
// persisted count equals the total accepted count whenever persistence
// cooperates. Lines that fail validation are silently discarded and counted.
func (in *Ingestor) Run(ctx context.Context, duration time.Duration) (Result, error) {
	result := Result{Start: in.clock.Now()}
	var runErr error

loop:
	for {
		select {
		case <-ctx.Done():
			result.Reason = StopCancelled
			break loop
		default:
		}

		if duration > 0 && in.clock.Since(result.Start) >= duration {
			result.Reason = StopDuration
			break loop
		}

		line, ok, err := in.source.Poll()
		if err != nil {
			result.Reason = StopTransport
			if !errors.Is(err, io.EOF) {
				runErr = fmt.Errorf("transport failed during capture: %w", err)
			}
			break loop
		}
		if !ok {
			in.clock.Sleep(in.pollInterval)
			continue
		}

		if line == in.stopToken {
			result.Reason = StopToken
			break loop
		}

		rec, perr := record.ParseLine(in.schema, line)
		if perr != nil {
			// Deliberate tolerance for transient line corruption on the
			// serial link; counted, never escalated.
			result.Discarded++
			in.obs.LineDiscarded()
			continue
		}

		in.buffer = append(in.buffer, rec)
		result.Accepted++
		in.obs.RecordAccepted()
		in.obs.BufferLength(len(in.buffer))

		if len(in.buffer) >= in.bufferSize {
			if err := in.flush(ctx, &result); err != nil {
				result.Reason = StopPersist
				runErr = err
				break loop
			}
		}
	}

	// Final flush on every termination path, even after cancellation or a
	// persistence failure: best effort, never skipped.
	if err := in.flush(context.WithoutCancel(ctx), &result); err != nil && runErr == nil {
		result.Reason = StopPersist
		runErr = err
	}

	result.Stop = in.clock.Now()
	monitoring.Logf("capture finished (%s): accepted=%d discarded=%d flushes=%d persisted=%d",
		result.Reason, result.Accepted, result.Discarded, result.Flushes, result.Persisted)
	return result, runErr
}

func (in *Ingestor) flush(ctx context.Context, result *Result) error {
	if len(in.buffer) == 0 {
		return nil
	}

	batch := make([]record.Record, len(in.buffer))
	copy(batch, in.buffer)
	if err := in.sink.AppendBatch(ctx, batch); err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}

	result.Flushes++
	result.Persisted += len(batch)
	in.obs.FlushCompleted(len(batch))
	in.buffer = in.buffer[:0]
	in.obs.BufferLength(0)
	return nil
}
