package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/jesseheckman/erobot/internal/record"
	"github.com/jesseheckman/erobot/internal/stats"
)

// SQLiteStore persists one session's captured sequence in an SQLite database.
// Records are stored as (session_id, seq, payload) rows so the schema can
// vary per session; arrival order is the seq order. It also acts as a
// SummarySink.
type SQLiteStore struct {
	db        *sql.DB
	sessionID string
	schema    record.Schema
	nextSeq   int64
}

var (
	_ Store       = (*SQLiteStore)(nil)
	_ SummarySink = (*SQLiteStore)(nil)
)

// OpenSQLite opens (creating and migrating as needed) the database at path
// and registers the session with its negotiated schema.
func OpenSQLite(path, sessionID string, schema record.Schema) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	columns, err := json.Marshal(schema.Columns())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to encode schema: %w", err)
	}
	if _, err := db.Exec(
		`INSERT OR REPLACE INTO sessions (session_id, columns) VALUES (?, ?)`,
		sessionID, string(columns),
	); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to register session: %w", err)
	}

	return &SQLiteStore{db: db, sessionID: sessionID, schema: schema}, nil
}

// AppendBatch commits one ordered batch inside a transaction.
func (s *SQLiteStore) AppendBatch(ctx context.Context, batch []record.Record) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin batch transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO records (session_id, seq, payload) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare record insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range batch {
		payload, err := json.Marshal(r.Values())
		if err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, s.sessionID, s.nextSeq, string(payload)); err != nil {
			return fmt.Errorf("failed to insert record %d: %w", s.nextSeq, err)
		}
		s.nextSeq++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// ReadAll returns the session's schema and its full record sequence in
// arrival order.
func (s *SQLiteStore) ReadAll(ctx context.Context) (record.Schema, []record.Record, error) {
	var columnsJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT columns FROM sessions WHERE session_id = ?`, s.sessionID,
	).Scan(&columnsJSON)
	if err != nil {
		return record.Schema{}, nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	var columns []string
	if err := json.Unmarshal([]byte(columnsJSON), &columns); err != nil {
		return record.Schema{}, nil, fmt.Errorf("%w: bad schema row: %v", ErrUnreadable, err)
	}
	schema, err := record.NewSchema(columns)
	if err != nil {
		return record.Schema{}, nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM records WHERE session_id = ? ORDER BY seq ASC`, s.sessionID)
	if err != nil {
		return record.Schema{}, nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer rows.Close()

	var records []record.Record
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return record.Schema{}, nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
		}
		var values []float64
		if err := json.Unmarshal([]byte(payload), &values); err != nil {
			return record.Schema{}, nil, fmt.Errorf("%w: bad record payload: %v", ErrUnreadable, err)
		}
		r, err := record.NewRecord(schema, values)
		if err != nil {
			return record.Schema{}, nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return record.Schema{}, nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	return schema, records, nil
}

// WriteSummary stores the session summary alongside the records.
func (s *SQLiteStore) WriteSummary(summary stats.Summary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	if _, err := s.db.Exec(
		`INSERT OR REPLACE INTO summaries (session_id, payload) VALUES (?, ?)`,
		s.sessionID, string(payload),
	); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
