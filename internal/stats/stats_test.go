package stats

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jesseheckman/erobot/internal/record"
)

func mustSchema(t *testing.T, columns ...string) record.Schema {
	t.Helper()
	s, err := record.NewSchema(columns)
	require.NoError(t, err)
	return s
}

// recordsFromTimestamps builds a time,volt capture whose timestamp column
// walks through the given values.
func recordsFromTimestamps(t *testing.T, schema record.Schema, timestamps ...float64) []record.Record {
	t.Helper()
	records := make([]record.Record, len(timestamps))
	for i, ts := range timestamps {
		r, err := record.NewRecord(schema, []float64{ts, float64(i)})
		require.NoError(t, err)
		records[i] = r
	}
	return records
}

func testWindow() Window {
	start := time.Date(2024, 9, 2, 10, 0, 0, 120_000_000, time.UTC)
	return Window{Start: start, Stop: start.Add(60*time.Second + 340*time.Millisecond)}
}

func TestIntervalsLength(t *testing.T) {
	schema := mustSchema(t, "time", "volt")
	engine := Engine{}

	for _, n := range []int{0, 1, 2, 5} {
		timestamps := make([]float64, n)
		for i := range timestamps {
			timestamps[i] = float64(i * 10)
		}
		intervals, err := engine.Intervals(schema, recordsFromTimestamps(t, schema, timestamps...))
		require.NoError(t, err)
		if n < 2 {
			assert.Empty(t, intervals)
		} else {
			assert.Len(t, intervals, n-1)
		}
	}
}

func TestComputeMissingAndDuplicated(t *testing.T) {
	schema := mustSchema(t, "time", "volt")
	engine := Engine{}

	// Intervals: 10, 10, 10, 40, 10, -5. Median 10, so the 40 counts as
	// missing and the -5 as duplicated.
	records := recordsFromTimestamps(t, schema, 0, 10, 20, 30, 70, 80, 75)

	summary, err := engine.Compute("s1", schema, records, testWindow())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.MissingDataPoints)
	assert.Equal(t, 1, summary.DuplicatedDataPoints)
	assert.Equal(t, 7, summary.DataPointsCount)
}

func TestComputeFrequency(t *testing.T) {
	schema := mustSchema(t, "time", "volt")
	engine := Engine{}

	// 100 microseconds between samples: 10 kHz.
	records := recordsFromTimestamps(t, schema, 0, 100, 200, 300)

	summary, err := engine.Compute("s1", schema, records, testWindow())
	require.NoError(t, err)
	assert.InDelta(t, 10_000, summary.AverageSamplingFrequencyHz, 1e-9)
}

func TestComputeFrequencyMillisecondUnit(t *testing.T) {
	schema := mustSchema(t, "time", "volt")
	engine := Engine{Unit: Milliseconds}

	records := recordsFromTimestamps(t, schema, 0, 10, 20)

	summary, err := engine.Compute("s1", schema, records, testWindow())
	require.NoError(t, err)
	assert.InDelta(t, 100, summary.AverageSamplingFrequencyHz, 1e-9)
}

func TestComputeFewRecordsYieldsZeros(t *testing.T) {
	schema := mustSchema(t, "time", "volt")
	engine := Engine{}

	for _, timestamps := range [][]float64{{}, {42}} {
		summary, err := engine.Compute("s1", schema, recordsFromTimestamps(t, schema, timestamps...), testWindow())
		require.NoError(t, err)

		assert.Zero(t, summary.AverageSamplingFrequencyHz)
		assert.Zero(t, summary.SamplingStats)
		assert.Zero(t, summary.MissingDataPoints)
		assert.Zero(t, summary.DuplicatedDataPoints)
		assert.Equal(t, len(timestamps), summary.DataPointsCount)
	}
}

func TestComputeIntervalStats(t *testing.T) {
	schema := mustSchema(t, "time", "volt")
	engine := Engine{}

	// Intervals: 10, 20, 30.
	records := recordsFromTimestamps(t, schema, 0, 10, 30, 60)

	summary, err := engine.Compute("s1", schema, records, testWindow())
	require.NoError(t, err)

	assert.InDelta(t, 20, summary.SamplingStats.Mean, 1e-9)
	assert.InDelta(t, math.Sqrt(200.0/3.0), summary.SamplingStats.StdDev, 1e-9)
	assert.InDelta(t, 10, summary.SamplingStats.Min, 1e-9)
	assert.InDelta(t, 30, summary.SamplingStats.Max, 1e-9)
}

func TestComputeWindowFormatting(t *testing.T) {
	schema := mustSchema(t, "time", "volt")
	engine := Engine{}

	records := recordsFromTimestamps(t, schema, 0, 100)
	summary, err := engine.Compute("s1", schema, records, testWindow())
	require.NoError(t, err)

	assert.Equal(t, "2024-09-02", summary.Date)
	assert.Equal(t, "10:00:00.12", summary.StartTime)
	assert.Equal(t, "10:01:00.46", summary.StopTime)
	assert.InDelta(t, 60.34, summary.RunTimeSeconds, 1e-9)
	assert.Equal(t, []string{"time", "volt"}, summary.RecordedData)
	assert.Equal(t, "s1", summary.SessionID)
}

func TestComputeNoSchema(t *testing.T) {
	engine := Engine{}
	_, err := engine.Compute("s1", record.Schema{}, nil, testWindow())
	assert.ErrorIs(t, err, ErrComputation)
}

func TestComputeMissingTimestampColumn(t *testing.T) {
	engine := Engine{}

	// Records carry a different schema than the one the capture negotiated,
	// so the timestamp column lookup fails.
	otherSchema := mustSchema(t, "t", "v")
	records := recordsFromTimestamps(t, otherSchema, 0, 10)

	_, err := engine.Compute("s1", mustSchema(t, "time", "volt"), records, testWindow())
	assert.ErrorIs(t, err, ErrComputation)
}

func TestComputeZeroMeanInterval(t *testing.T) {
	schema := mustSchema(t, "time", "volt")
	engine := Engine{}

	// All timestamps identical: every interval is 0 and the frequency is
	// reported as 0 instead of dividing by zero.
	records := recordsFromTimestamps(t, schema, 50, 50, 50)

	summary, err := engine.Compute("s1", schema, records, testWindow())
	require.NoError(t, err)
	assert.Zero(t, summary.AverageSamplingFrequencyHz)
	assert.Equal(t, 2, summary.DuplicatedDataPoints)
}

func TestInterpolatedMedian(t *testing.T) {
	assert.InDelta(t, 10, interpolatedMedian([]float64{10, 10, 10, 40, 10, -5}), 1e-9)
	assert.InDelta(t, 2.5, interpolatedMedian([]float64{1, 2, 3, 4}), 1e-9)
	assert.InDelta(t, 3, interpolatedMedian([]float64{5, 1, 3}), 1e-9)
}
