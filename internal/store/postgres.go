package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"aggregator/internal/event"
	"aggregator/pkg/metrics"
)

const (
	dbPostgres = "postgres"
	// Five parameters per row keeps a full chunk well under the 65535
	// bind parameter limit of the wire protocol.
	bulkChunkSize = 1000
)

// PostgresStore is the durable identity store. Uniqueness is enforced by the
// UNIQUE (topic, event_id) constraint; every single-row insert runs in its
// own implicit transaction.
type PostgresStore struct {
	db         *sql.DB
	bulkInsert bool
}

type PostgresOption func(*PostgresStore)

// WithBulkInsert enables the multi-row insert path.
func WithBulkInsert(enabled bool) PostgresOption {
	return func(s *PostgresStore) {
		s.bulkInsert = enabled
	}
}

func NewPostgresStore(db *sql.DB, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PostgresStore) Insert(ctx context.Context, rec event.Record) InsertResult {
	query := `
		INSERT INTO events (topic, event_id, timestamp, source, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (topic, event_id) DO NOTHING
		RETURNING received_at
	`

	start := time.Now()
	var receivedAt time.Time
	err := s.db.QueryRowContext(ctx, query,
		rec.Topic, rec.EventID, rec.Timestamp, rec.Source, payloadText(rec.Payload),
	).Scan(&receivedAt)

	switch {
	case err == nil:
		observePostgres("insert", start, nil)
		return inserted(receivedAt.UTC())
	case errors.Is(err, sql.ErrNoRows):
		observePostgres("insert", start, nil)
		return alreadyExists()
	default:
		observePostgres("insert", start, err)
		return failed(fmt.Errorf("failed to insert event %s: %w", rec.Key(), err))
	}
}

// InsertBatch inserts recs with multi-row statements when bulk insert is
// enabled. A chunk whose statement fails is retried one row at a time so a
// single bad record cannot take its siblings down with it.
func (s *PostgresStore) InsertBatch(ctx context.Context, recs []event.Record) []InsertResult {
	results := make([]InsertResult, len(recs))
	if !s.bulkInsert {
		for i, rec := range recs {
			results[i] = s.Insert(ctx, rec)
		}
		return results
	}

	for offset := 0; offset < len(recs); offset += bulkChunkSize {
		end := offset + bulkChunkSize
		if end > len(recs) {
			end = len(recs)
		}
		chunk := recs[offset:end]

		chunkResults, err := s.insertChunk(ctx, chunk)
		if err != nil {
			for i, rec := range chunk {
				results[offset+i] = s.Insert(ctx, rec)
			}
			continue
		}
		copy(results[offset:end], chunkResults)
	}
	return results
}

func (s *PostgresStore) insertChunk(ctx context.Context, chunk []event.Record) ([]InsertResult, error) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO events (topic, event_id, timestamp, source, payload) VALUES ")

	args := make([]interface{}, 0, len(chunk)*5)
	for i, rec := range chunk {
		if i > 0 {
			sb.WriteString(", ")
		}
		n := i * 5
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5)
		args = append(args, rec.Topic, rec.EventID, rec.Timestamp, rec.Source, payloadText(rec.Payload))
	}
	sb.WriteString(" ON CONFLICT (topic, event_id) DO NOTHING RETURNING topic, event_id, received_at")

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		observePostgres("insert_batch", start, err)
		return nil, fmt.Errorf("bulk insert failed: %w", err)
	}
	defer rows.Close()

	insertedAt := make(map[event.Key]time.Time, len(chunk))
	for rows.Next() {
		var key event.Key
		var at time.Time
		if err := rows.Scan(&key.Topic, &key.EventID, &at); err != nil {
			observePostgres("insert_batch", start, err)
			return nil, fmt.Errorf("failed to scan inserted key: %w", err)
		}
		insertedAt[key] = at.UTC()
	}
	if err := rows.Err(); err != nil {
		observePostgres("insert_batch", start, err)
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	observePostgres("insert_batch", start, nil)

	// Rows are inserted in VALUES order, so the first occurrence of a key
	// within the chunk is the one that was stored.
	results := make([]InsertResult, len(chunk))
	for i, rec := range chunk {
		if at, ok := insertedAt[rec.Key()]; ok {
			results[i] = inserted(at)
			delete(insertedAt, rec.Key())
			continue
		}
		results[i] = alreadyExists()
	}
	return results, nil
}

func (s *PostgresStore) List(ctx context.Context, q Query) ([]event.Stored, error) {
	query := `SELECT topic, event_id, timestamp, source, payload, received_at FROM events`
	var args []interface{}
	if q.Topic != "" {
		args = append(args, q.Topic)
		query += fmt.Sprintf(" WHERE topic = $%d", len(args))
	}
	query += " ORDER BY received_at DESC, id DESC"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		observePostgres("list", start, err)
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []event.Stored
	for rows.Next() {
		var st event.Stored
		var payload []byte
		if err := rows.Scan(&st.Topic, &st.EventID, &st.Timestamp, &st.Source, &payload, &st.ReceivedAt); err != nil {
			observePostgres("list", start, err)
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		st.Timestamp = st.Timestamp.UTC()
		st.ReceivedAt = st.ReceivedAt.UTC()
		st.Payload = event.Payload(payload)
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		observePostgres("list", start, err)
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	observePostgres("list", start, nil)
	return out, nil
}

func (s *PostgresStore) Topics(ctx context.Context) ([]string, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT topic FROM events ORDER BY topic`)
	if err != nil {
		observePostgres("topics", start, err)
		return nil, fmt.Errorf("failed to query topics: %w", err)
	}
	defer rows.Close()

	topics := []string{}
	for rows.Next() {
		var topic string
		if err := rows.Scan(&topic); err != nil {
			observePostgres("topics", start, err)
			return nil, fmt.Errorf("failed to scan topic: %w", err)
		}
		topics = append(topics, topic)
	}
	if err := rows.Err(); err != nil {
		observePostgres("topics", start, err)
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	observePostgres("topics", start, nil)
	return topics, nil
}

func (s *PostgresStore) Count(ctx context.Context, topic string) (int64, error) {
	query := `SELECT COUNT(*) FROM events`
	var args []interface{}
	if topic != "" {
		query += ` WHERE topic = $1`
		args = append(args, topic)
	}

	start := time.Now()
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		observePostgres("count", start, err)
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	observePostgres("count", start, nil)
	return n, nil
}

// IncrementStats adds delta to the singleton row in one statement, creating
// the row if it does not exist yet.
func (s *PostgresStore) IncrementStats(ctx context.Context, delta StatsDelta) error {
	query := `
		INSERT INTO statistics (id, received_count, unique_processed, duplicate_dropped, last_updated)
		VALUES (1, $1, $2, $3, now())
		ON CONFLICT (id) DO UPDATE SET
			received_count    = statistics.received_count + EXCLUDED.received_count,
			unique_processed  = statistics.unique_processed + EXCLUDED.unique_processed,
			duplicate_dropped = statistics.duplicate_dropped + EXCLUDED.duplicate_dropped,
			last_updated      = EXCLUDED.last_updated
	`

	start := time.Now()
	_, err := s.db.ExecContext(ctx, query, delta.Received, delta.Unique, delta.Duplicate)
	observePostgres("increment_stats", start, err)
	if err != nil {
		return fmt.Errorf("failed to update statistics: %w", err)
	}
	return nil
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	query := `
		WITH ensured AS (
			INSERT INTO statistics (id) VALUES (1)
			ON CONFLICT (id) DO NOTHING
			RETURNING received_count, unique_processed, duplicate_dropped, last_updated
		)
		SELECT received_count, unique_processed, duplicate_dropped, last_updated FROM ensured
		UNION ALL
		SELECT received_count, unique_processed, duplicate_dropped, last_updated FROM statistics WHERE id = 1
		LIMIT 1
	`

	start := time.Now()
	var st Stats
	err := s.db.QueryRowContext(ctx, query).Scan(&st.Received, &st.UniqueProcessed, &st.DuplicateDropped, &st.LastUpdated)
	observePostgres("stats", start, err)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read statistics: %w", err)
	}
	st.LastUpdated = st.LastUpdated.UTC()
	return st, nil
}

// Close is a no-op; the connection pool is owned by the caller.
func (s *PostgresStore) Close(context.Context) error {
	return nil
}

func payloadText(p event.Payload) string {
	if len(p) == 0 {
		return "{}"
	}
	return string(p)
}

func observePostgres(operation string, start time.Time, err error) {
	status := "success"
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		status = "error"
	}
	metrics.IncDatabaseQuery(dbPostgres, operation, status)
	metrics.ObserveDatabaseQueryDuration(dbPostgres, operation, time.Since(start))
}
