package store

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/jesseheckman/erobot/internal/fsutil"
	"github.com/jesseheckman/erobot/internal/record"
)

// CSVStore persists the captured sequence as a CSV file: a header row from
// the schema, then one row per record in arrival order. Batches are flushed
// to the file as they arrive.
type CSVStore struct {
	fs     fsutil.FileSystem
	path   string
	schema record.Schema

	file   io.WriteCloser
	writer *csv.Writer
	closed bool
}

var _ Store = (*CSVStore)(nil)

// CreateCSV creates (or truncates) the CSV file at path and writes the
// schema header immediately.
func CreateCSV(fs fsutil.FileSystem, path string, schema record.Schema) (*CSVStore, error) {
	file, err := fs.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}

	writer := csv.NewWriter(file)
	if err := writer.Write(schema.Columns()); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	return &CSVStore{fs: fs, path: path, schema: schema, file: file, writer: writer}, nil
}

// AppendBatch writes one ordered batch of rows and flushes.
func (s *CSVStore) AppendBatch(ctx context.Context, batch []record.Record) error {
	if s.closed {
		return fmt.Errorf("append to closed csv store %s", s.path)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, r := range batch {
		values := r.Values()
		row := make([]string, len(values))
		for i, v := range values {
			row[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := s.writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return fmt.Errorf("failed to flush batch: %w", err)
	}
	return nil
}

// ReadAll parses the CSV file back into the captured sequence.
func (s *CSVStore) ReadAll(ctx context.Context) (record.Schema, []record.Record, error) {
	data, err := s.fs.ReadFile(s.path)
	if err != nil {
		return record.Schema{}, nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return record.Schema{}, nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if len(rows) == 0 {
		return record.Schema{}, nil, fmt.Errorf("%w: %s has no header", ErrUnreadable, s.path)
	}

	schema, err := record.NewSchema(rows[0])
	if err != nil {
		return record.Schema{}, nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	records := make([]record.Record, 0, len(rows)-1)
	for i, row := range rows[1:] {
		values := make([]float64, len(row))
		for j, field := range row {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return record.Schema{}, nil, fmt.Errorf("%w: row %d field %q", ErrUnreadable, i+1, field)
			}
			values[j] = v
		}
		r, err := record.NewRecord(schema, values)
		if err != nil {
			return record.Schema{}, nil, fmt.Errorf("%w: row %d: %v", ErrUnreadable, i+1, err)
		}
		records = append(records, r)
	}

	return schema, records, nil
}

// Close flushes and closes the file. Safe to call twice.
func (s *CSVStore) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		s.file.Close()
		return fmt.Errorf("failed to flush on close: %w", err)
	}
	return s.file.Close()
}
