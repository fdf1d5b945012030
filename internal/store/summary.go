package store

import (
	"encoding/json"
	"fmt"

	"github.com/jesseheckman/erobot/internal/fsutil"
	"github.com/jesseheckman/erobot/internal/stats"
)

// JSONSummarySink writes the session summary to a JSON file, the log format
// downstream tooling reads.
type JSONSummarySink struct {
	fs   fsutil.FileSystem
	path string
}

var _ SummarySink = (*JSONSummarySink)(nil)

// NewJSONSummarySink creates a sink writing to the given path.
func NewJSONSummarySink(fs fsutil.FileSystem, path string) *JSONSummarySink {
	return &JSONSummarySink{fs: fs, path: path}
}

// WriteSummary serializes the summary with indentation and writes it out.
func (s *JSONSummarySink) WriteSummary(summary stats.Summary) error {
	data, err := json.MarshalIndent(summary, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	if err := s.fs.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write summary to %s: %w", s.path, err)
	}
	return nil
}
