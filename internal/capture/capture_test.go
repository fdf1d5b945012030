package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jesseheckman/erobot/internal/monitoring"
	"github.com/jesseheckman/erobot/internal/record"
	"github.com/jesseheckman/erobot/internal/serialport"
	"github.com/jesseheckman/erobot/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

// fakeSink collects batches and can be scripted to fail.
type fakeSink struct {
	batches   [][]record.Record
	appendErr error
	failures  int // fail this many AppendBatch calls, then succeed
}

func (s *fakeSink) AppendBatch(ctx context.Context, batch []record.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.failures > 0 {
		s.failures--
		return s.appendErr
	}
	copied := make([]record.Record, len(batch))
	copy(copied, batch)
	s.batches = append(s.batches, copied)
	return nil
}

func (s *fakeSink) total() int {
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

// fakeSource yields scripted lines, then invokes onDrained (if set) and
// reports quiet polls.
type fakeSource struct {
	lines     []string
	onDrained func()
	err       error
}

func (s *fakeSource) Poll() (string, bool, error) {
	if len(s.lines) > 0 {
		line := s.lines[0]
		s.lines = s.lines[1:]
		return line, true, nil
	}
	if s.onDrained != nil {
		s.onDrained()
		s.onDrained = nil
	}
	if s.err != nil {
		return "", false, s.err
	}
	return "", false, nil
}

func testSchema(t *testing.T) record.Schema {
	t.Helper()
	s, err := record.NewSchema([]string{"time", "volt"})
	require.NoError(t, err)
	return s
}

func newClock() *timeutil.MockClock {
	return timeutil.NewMockClock(time.Date(2024, 9, 2, 10, 0, 0, 0, time.UTC))
}

func lineReaderFor(t *testing.T, lines ...string) *serialport.LineReader {
	t.Helper()
	port := serialport.NewScriptedPort()
	for _, l := range lines {
		port.PushLine(l)
	}
	lr, err := serialport.NewLineReader(port)
	require.NoError(t, err)
	return lr
}

func TestRunStopToken(t *testing.T) {
	sink := &fakeSink{}
	source := lineReaderFor(t, "0,1.0", "1,2.5", "STOP-COM", "2,9.9")

	in := New(testSchema(t), source, sink, WithClock(newClock()))
	result, err := in.Run(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, StopToken, result.Reason)
	assert.Equal(t, 2, result.Accepted)
	assert.Equal(t, 2, result.Persisted)
	require.Len(t, sink.batches, 1)
	require.Len(t, sink.batches[0], 2)

	// Order and values preserved through parse and flush.
	assert.InDelta(t, 0, sink.batches[0][0].ValueAt(0), 1e-12)
	assert.InDelta(t, 1.0, sink.batches[0][0].ValueAt(1), 1e-12)
	assert.InDelta(t, 1, sink.batches[0][1].ValueAt(0), 1e-12)
	assert.InDelta(t, 2.5, sink.batches[0][1].ValueAt(1), 1e-12)
}

func TestRunDiscardsMalformedLines(t *testing.T) {
	sink := &fakeSink{}
	source := lineReaderFor(t,
		"0,1.0",
		"1,2,3",   // arity mismatch
		"2,oops",  // non-numeric field
		"",        // empty line
		"3,4.5",
		"STOP-COM",
	)

	in := New(testSchema(t), source, sink, WithClock(newClock()))
	result, err := in.Run(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Accepted)
	assert.Equal(t, 3, result.Discarded)
	assert.Equal(t, 2, sink.total())
}

func TestRunBufferSizeOneFlushesPerRecord(t *testing.T) {
	sink := &fakeSink{}
	source := lineReaderFor(t, "0,1.0", "1,2.5", "STOP-COM")

	in := New(testSchema(t), source, sink, WithClock(newClock()), WithBufferSize(1))
	result, err := in.Run(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Flushes)
	require.Len(t, sink.batches, 2)
	assert.Len(t, sink.batches[0], 1)
	assert.Len(t, sink.batches[1], 1)
	assert.Equal(t, 0, in.BufferLength())
	assert.Equal(t, 2, result.Persisted)
}

func TestRunBufferNeverExceedsCapacity(t *testing.T) {
	sink := &fakeSink{}
	lines := make([]string, 0, 11)
	for i := 0; i < 10; i++ {
		lines = append(lines, "0,1.0")
	}
	lines = append(lines, "STOP-COM")
	source := lineReaderFor(t, lines...)

	obs := &lengthTracker{}
	in := New(testSchema(t), source, sink, WithClock(newClock()), WithBufferSize(3), WithObserver(obs))
	result, err := in.Run(context.Background(), 0)
	require.NoError(t, err)

	assert.LessOrEqual(t, obs.max, 3)
	assert.Equal(t, 10, result.Persisted)
	assert.Equal(t, 4, result.Flushes) // 3+3+3 then final 1
	assert.Len(t, sink.batches[3], 1)
}

type lengthTracker struct {
	NopObserver
	max int
}

func (l *lengthTracker) BufferLength(n int) {
	if n > l.max {
		l.max = n
	}
}

func TestRunDurationElapsed(t *testing.T) {
	sink := &fakeSink{}
	clock := newClock()
	source := &fakeSource{lines: []string{"0,1.0"}}

	in := New(testSchema(t), source, sink, WithClock(clock))
	result, err := in.Run(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, StopDuration, result.Reason)
	assert.Equal(t, 1, result.Accepted)
	assert.Equal(t, 1, result.Persisted, "final flush carries the partial buffer")
	assert.Equal(t, 50*time.Millisecond, result.Stop.Sub(result.Start))
}

func TestRunCancellationFlushesBuffer(t *testing.T) {
	sink := &fakeSink{}
	ctx, cancel := context.WithCancel(context.Background())
	source := &fakeSource{
		lines:     []string{"0,1.0", "1,2.5"},
		onDrained: cancel,
	}

	in := New(testSchema(t), source, sink, WithClock(newClock()))
	result, err := in.Run(ctx, 0)
	require.NoError(t, err)

	assert.Equal(t, StopCancelled, result.Reason)
	assert.Equal(t, 2, result.Accepted)
	assert.Equal(t, 2, result.Persisted, "cancellation must not lose buffered records")
	require.Len(t, sink.batches, 1)
}

func TestRunTransportEOF(t *testing.T) {
	sink := &fakeSink{}
	port := serialport.NewScriptedPort()
	port.PushLine("0,1.0")
	lr, err := serialport.NewLineReader(port)
	require.NoError(t, err)

	in := New(testSchema(t), lr, sink, WithClock(newClock()))

	// A closed port reads EOF and drops its pending data, like an unplugged
	// device.
	require.NoError(t, port.Close())

	result, err := in.Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, StopTransport, result.Reason)
	assert.Equal(t, 0, result.Accepted)
}

func TestRunPersistenceFailureEscalated(t *testing.T) {
	sink := &fakeSink{appendErr: errors.New("disk full"), failures: 2}
	source := lineReaderFor(t, "0,1.0", "STOP-COM")

	in := New(testSchema(t), source, sink, WithClock(newClock()), WithBufferSize(1))
	result, err := in.Run(context.Background(), 0)

	assert.ErrorIs(t, err, ErrPersist)
	assert.Equal(t, StopPersist, result.Reason)
	assert.Equal(t, 0, result.Persisted)
}

func TestRunPersistenceRecoversOnFinalFlush(t *testing.T) {
	// The mid-run flush fails, the final best-effort flush succeeds: the
	// error is still escalated, but no record is lost.
	sink := &fakeSink{appendErr: errors.New("transient"), failures: 1}
	source := lineReaderFor(t, "0,1.0", "STOP-COM")

	in := New(testSchema(t), source, sink, WithClock(newClock()), WithBufferSize(1))
	result, err := in.Run(context.Background(), 0)

	assert.ErrorIs(t, err, ErrPersist)
	assert.Equal(t, 1, result.Persisted)
	assert.Equal(t, 1, sink.total())
}

func TestRunNoRecordsNoFlush(t *testing.T) {
	sink := &fakeSink{}
	source := lineReaderFor(t, "STOP-COM")

	in := New(testSchema(t), source, sink, WithClock(newClock()))
	result, err := in.Run(context.Background(), 0)
	require.NoError(t, err)

	assert.Zero(t, result.Flushes)
	assert.Empty(t, sink.batches)
}

func TestRunCustomStopToken(t *testing.T) {
	sink := &fakeSink{}
	source := lineReaderFor(t, "0,1.0", "HALT")

	in := New(testSchema(t), source, sink, WithClock(newClock()), WithStopToken("HALT"))
	result, err := in.Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, StopToken, result.Reason)
	assert.Equal(t, 1, result.Persisted)
}
