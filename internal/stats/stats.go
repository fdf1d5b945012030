// Package stats derives timing-quality metrics and the session summary from a
// finalized captured sequence.
package stats

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/jesseheckman/erobot/internal/record"
)

// ErrComputation indicates the captured sequence could not be summarized:
// the schema is unknown or a record is missing the timestamp column. It is a
// reported, recoverable failure; no summary is produced.
var ErrComputation = errors.New("session statistics computation failed")

// TimestampUnit is the unit of the device's timestamp column.
type TimestampUnit string

const (
	Microseconds TimestampUnit = "microseconds"
	Milliseconds TimestampUnit = "milliseconds"
	Seconds      TimestampUnit = "seconds"
)

// PerSecond returns the number of timestamp units per second.
func (u TimestampUnit) PerSecond() float64 {
	switch u {
	case Milliseconds:
		return 1e3
	case Seconds:
		return 1
	default:
		return 1e6
	}
}

// Window is the pair of wall-clock timestamps bounding the capture. Run
// duration is derived from it, independent of the data's own timestamp
// column.
type Window struct {
	Start time.Time
	Stop  time.Time
}

// IntervalStats summarizes the sampling interval sequence, in timestamp
// units. The standard deviation is the population form.
type IntervalStats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Summary is the immutable session metadata record emitted after a capture
// closes. Field names follow the log format consumed downstream.
type Summary struct {
	SessionID                  string        `json:"session_id"`
	RecordedData               []string      `json:"recorded_data"`
	Date                       string        `json:"date"`
	StartTime                  string        `json:"start_time"`
	StopTime                   string        `json:"stop_time"`
	RunTimeSeconds             float64       `json:"run_time_seconds"`
	DataPointsCount            int           `json:"data_points_count"`
	AverageSamplingFrequencyHz float64       `json:"average_sampling_frequency_hz"`
	SamplingStats              IntervalStats `json:"sampling_stats_micros"`
	MissingDataPoints          int           `json:"missing_data_points"`
	DuplicatedDataPoints       int           `json:"duplicated_data_points"`
}

// Engine computes session summaries. The zero value assumes microsecond
// timestamps.
type Engine struct {
	Unit TimestampUnit
}

// Intervals returns the deltas between consecutive records' timestamp column.
// The result is one shorter than the input; empty for fewer than two records.
func (e Engine) Intervals(schema record.Schema, records []record.Record) ([]float64, error) {
	if schema.IsZero() {
		return nil, fmt.Errorf("%w: no schema", ErrComputation)
	}
	tsCol := schema.TimestampColumn()

	timestamps := make([]float64, len(records))
	for i, r := range records {
		v, ok := r.Value(tsCol)
		if !ok {
			return nil, fmt.Errorf("%w: record %d has no %q column", ErrComputation, i, tsCol)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: record %d has malformed timestamp", ErrComputation, i)
		}
		timestamps[i] = v
	}

	if len(timestamps) < 2 {
		return nil, nil
	}
	intervals := make([]float64, len(timestamps)-1)
	for i := 1; i < len(timestamps); i++ {
		intervals[i-1] = timestamps[i] - timestamps[i-1]
	}
	return intervals, nil
}

// Compute derives the session summary from the captured sequence and the
// capture window. With zero or one records the frequency and all interval
// statistics are 0 rather than computed.
func (e Engine) Compute(sessionID string, schema record.Schema, records []record.Record, window Window) (Summary, error) {
	intervals, err := e.Intervals(schema, records)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{
		SessionID:       sessionID,
		RecordedData:    schema.Columns(),
		Date:            window.Start.Format("2006-01-02"),
		StartTime:       formatTimeOfDay(window.Start),
		StopTime:        formatTimeOfDay(window.Stop),
		RunTimeSeconds:  roundHundredths(window.Stop.Sub(window.Start).Seconds()),
		DataPointsCount: len(records),
	}

	if len(intervals) == 0 {
		return summary, nil
	}

	median := interpolatedMedian(intervals)
	for _, iv := range intervals {
		if iv > 1.5*median {
			summary.MissingDataPoints++
		}
		if iv <= 0 {
			summary.DuplicatedDataPoints++
		}
	}

	mean := stat.Mean(intervals, nil)
	summary.SamplingStats = IntervalStats{
		Mean:   mean,
		StdDev: stat.PopStdDev(intervals, nil),
		Min:    floats.Min(intervals),
		Max:    floats.Max(intervals),
	}
	if mean != 0 {
		summary.AverageSamplingFrequencyHz = e.unit().PerSecond() / mean
	}

	return summary, nil
}

func (e Engine) unit() TimestampUnit {
	if e.Unit == "" {
		return Microseconds
	}
	return e.Unit
}

// interpolatedMedian is the midpoint-interpolating median: for an even count
// it averages the two middle values. This matches the reference pipeline,
// unlike the empirical quantile.
func interpolatedMedian(x []float64) float64 {
	sorted := make([]float64, len(x))
	copy(sorted, x)
	sort.Float64s(sorted)

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// formatTimeOfDay renders HH:MM:SS.cc with hundredths of a second.
func formatTimeOfDay(t time.Time) string {
	return fmt.Sprintf("%s.%02d", t.Format("15:04:05"), t.Nanosecond()/10_000_000)
}

func roundHundredths(v float64) float64 {
	return math.Round(v*100) / 100
}
