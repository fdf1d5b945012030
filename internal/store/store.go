// Package store implements the persistence collaborators a capture session
// writes to: an SQLite-backed record store, a CSV record store, and a JSON
// sink for the session summary.
package store

import (
	"context"
	"errors"

	"github.com/jesseheckman/erobot/internal/record"
	"github.com/jesseheckman/erobot/internal/stats"
)

// ErrUnreadable indicates the captured sequence could not be read back for
// the statistics engine.
var ErrUnreadable = errors.New("captured sequence is unreadable")

// Store is the persistence contract the core consumes: an order-preserving,
// append-only batch writer plus a full ordered read-back. A store is owned
// exclusively by one session; no other writer touches the same destination
// concurrently.
type Store interface {
	// AppendBatch durably commits one ordered batch of records.
	AppendBatch(ctx context.Context, batch []record.Record) error

	// ReadAll returns the schema and the full captured sequence in arrival
	// order.
	ReadAll(ctx context.Context) (record.Schema, []record.Record, error)

	// Close releases the underlying resources.
	Close() error
}

// SummarySink receives the immutable session summary once the session has
// closed.
type SummarySink interface {
	WriteSummary(summary stats.Summary) error
}
