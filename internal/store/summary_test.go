package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jesseheckman/erobot/internal/fsutil"
	"github.com/jesseheckman/erobot/internal/stats"
)

func TestJSONSummarySink(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	sink := NewJSONSummarySink(fs, "log.json")

	summary := stats.Summary{
		SessionID:                  "session-1",
		RecordedData:               []string{"time", "volt"},
		Date:                       "2024-09-02",
		StartTime:                  "10:00:00.12",
		StopTime:                   "10:01:00.46",
		RunTimeSeconds:             60.34,
		DataPointsCount:            100,
		AverageSamplingFrequencyHz: 10000,
		SamplingStats:              stats.IntervalStats{Mean: 100, StdDev: 2, Min: 95, Max: 140},
		MissingDataPoints:          1,
		DuplicatedDataPoints:       0,
	}
	require.NoError(t, sink.WriteSummary(summary))

	data, err := fs.ReadFile("log.json")
	require.NoError(t, err)

	var got stats.Summary
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, summary, got)

	// Downstream tooling reads these exact key names.
	assert.Contains(t, string(data), `"average_sampling_frequency_hz"`)
	assert.Contains(t, string(data), `"sampling_stats_micros"`)
	assert.Contains(t, string(data), `"missing_data_points"`)
}
