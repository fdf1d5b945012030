// Package record defines the negotiated schema and the value records parsed
// from device data lines.
package record

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrEmptySchema indicates a format announcement carrying no column names.
var ErrEmptySchema = errors.New("schema must contain at least one column")

// Schema is the ordered list of column names announced by the device. It is
// immutable once constructed; the column count defines the arity every data
// line must match. The first column is the timestamp by convention.
type Schema struct {
	columns []string
}

// NewSchema builds a Schema from an ordered list of column names. Names are
// trimmed of surrounding whitespace; an empty list is rejected.
func NewSchema(columns []string) (Schema, error) {
	if len(columns) == 0 {
		return Schema{}, ErrEmptySchema
	}
	trimmed := make([]string, len(columns))
	for i, c := range columns {
		name := strings.TrimSpace(c)
		if name == "" {
			return Schema{}, fmt.Errorf("column %d is empty", i)
		}
		trimmed[i] = name
	}
	return Schema{columns: trimmed}, nil
}

// Columns returns a copy of the ordered column names.
func (s Schema) Columns() []string {
	out := make([]string, len(s.columns))
	copy(out, s.columns)
	return out
}

// Len returns the number of columns.
func (s Schema) Len() int { return len(s.columns) }

// IsZero reports whether the schema has not been negotiated yet.
func (s Schema) IsZero() bool { return len(s.columns) == 0 }

// TimestampColumn returns the name of the timestamp column (the first column).
func (s Schema) TimestampColumn() string {
	if len(s.columns) == 0 {
		return ""
	}
	return s.columns[0]
}

// Index returns the position of the named column, or -1 if absent.
func (s Schema) Index(name string) int {
	for i, c := range s.columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Record is one parsed data line: a numeric value per schema column, in
// schema order. Records are value types and are never mutated after
// construction.
type Record struct {
	schema Schema
	values []float64
}

// NewRecord builds a Record from values already in schema order.
func NewRecord(schema Schema, values []float64) (Record, error) {
	if len(values) != schema.Len() {
		return Record{}, fmt.Errorf("got %d values for %d columns", len(values), schema.Len())
	}
	stored := make([]float64, len(values))
	copy(stored, values)
	return Record{schema: schema, values: stored}, nil
}

// Schema returns the schema the record was validated against.
func (r Record) Schema() Schema { return r.schema }

// Values returns a copy of the record's values in schema order.
func (r Record) Values() []float64 {
	out := make([]float64, len(r.values))
	copy(out, r.values)
	return out
}

// Value returns the value of the named column.
func (r Record) Value(name string) (float64, bool) {
	i := r.schema.Index(name)
	if i < 0 {
		return 0, false
	}
	return r.values[i], true
}

// ValueAt returns the value at the given column position.
func (r Record) ValueAt(i int) float64 { return r.values[i] }

// ParseLine parses one data line against the schema. Fields are separated by
// commas, or by whitespace when the line carries no comma. A field-count
// mismatch or a non-numeric field returns an error; callers treat that as a
// discard, not a failure.
func ParseLine(schema Schema, line string) (Record, error) {
	fields := splitFields(line)
	if len(fields) != schema.Len() {
		return Record{}, fmt.Errorf("got %d fields, schema has %d columns", len(fields), schema.Len())
	}

	values := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return Record{}, fmt.Errorf("field %q at position %d is not numeric", f, i)
		}
		values[i] = v
	}
	return Record{schema: schema, values: values}, nil
}

func splitFields(line string) []string {
	if strings.Contains(line, ",") {
		return strings.Split(line, ",")
	}
	return strings.Fields(line)
}
