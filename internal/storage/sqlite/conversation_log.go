// Package sqlite implements the conversation log on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/khangdo/janus/internal/storage"
	"github.com/khangdo/janus/pkg/types"
)

// Schema is the conversation log schema. Timestamps are stored as epoch
// seconds (REAL) so synthesized predicates can use SQLite date functions
// directly; metadata is a JSON blob.
const Schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	timestamp REAL NOT NULL,
	metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_conversations_timestamp ON conversations(timestamp);
`

// Ensure *ConversationLog implements storage.ConversationLog at compile time.
var _ storage.ConversationLog = (*ConversationLog)(nil)

// ConversationLog implements storage.ConversationLog using SQLite.
type ConversationLog struct {
	db  *sql.DB
	now func() time.Time
}

// NewConversationLog opens (creating if necessary) the conversation log at
// the given DSN. Use ":memory:" for an ephemeral log in tests.
func NewConversationLog(dsn string) (*ConversationLog, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY errors under concurrent load;
	// WAL mode lets readers proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to create schema: %w", err)
	}

	return &ConversationLog{db: db, now: time.Now}, nil
}

// Append inserts a turn and returns its assigned id. Unlike the read paths,
// append errors are returned to the caller: a lost turn cannot be
// reconstructed, so the enclosing request must abort.
func (l *ConversationLog) Append(ctx context.Context, content string, role types.Role, metadata map[string]any) (int64, error) {
	if !role.Valid() {
		return 0, fmt.Errorf("sqlite: invalid role %q", role)
	}

	var metadataJSON any
	if len(metadata) > 0 {
		data, err := json.Marshal(metadata)
		if err != nil {
			return 0, fmt.Errorf("sqlite: failed to marshal metadata: %w", err)
		}
		metadataJSON = string(data)
	}

	ts := float64(l.now().UnixNano()) / float64(time.Second)
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO conversations (role, content, timestamp, metadata) VALUES (?, ?, ?, ?)`,
		string(role), content, ts, metadataJSON)
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to append turn: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to read inserted id: %w", err)
	}
	return id, nil
}

// Recent returns the last min(n, total) turns in chronological order.
// Ordering is by insertion id, not timestamp, so wall-clock collisions
// cannot reorder the window. Read errors are logged and yield an empty
// slice per the log's failure contract.
func (l *ConversationLog) Recent(ctx context.Context, n int) ([]types.ConversationTurn, error) {
	return l.recent(ctx, n, 0)
}

// RecentExcluding returns the recent window with one turn id omitted. The
// chat engine passes the id of the just-appended query turn so it is
// excluded from its own prior history.
func (l *ConversationLog) RecentExcluding(ctx context.Context, n int, excludeID int64) ([]types.ConversationTurn, error) {
	return l.recent(ctx, n, excludeID)
}

func (l *ConversationLog) recent(ctx context.Context, n int, excludeID int64) ([]types.ConversationTurn, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT id, role, content, timestamp, metadata
		 FROM conversations
		 WHERE id != ?
		 ORDER BY id DESC LIMIT ?`, excludeID, n)
	if err != nil {
		log.Printf("sqlite: recent query failed: %v", err)
		return nil, nil
	}
	defer func() { _ = rows.Close() }()

	turns, err := scanTurns(rows)
	if err != nil {
		log.Printf("sqlite: recent scan failed: %v", err)
		return nil, nil
	}

	// Rows arrive newest-first; reverse into chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Query executes an already-validated restricted predicate and returns raw
// rows. The log performs no validation of its own and trusts the caller
// (the temporal synthesizer validates before execution). Errors are logged
// and yield an empty result; a failed temporal lookup degrades the request
// rather than aborting it.
func (l *ConversationLog) Query(ctx context.Context, predicate string) ([]storage.RowMap, error) {
	rows, err := l.db.QueryContext(ctx, predicate)
	if err != nil {
		log.Printf("sqlite: temporal predicate failed: %v", err)
		return nil, nil
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		log.Printf("sqlite: temporal predicate columns: %v", err)
		return nil, nil
	}

	var results []storage.RowMap
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			log.Printf("sqlite: temporal predicate scan: %v", err)
			return nil, nil
		}

		row := make(storage.RowMap, len(cols)+1)
		for i, col := range cols {
			row[col] = normalizeValue(values[i])
		}
		annotateRow(row)
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		log.Printf("sqlite: temporal predicate rows: %v", err)
		return nil, nil
	}
	return results, nil
}

// All returns every turn in append order, used for UI history backfill.
func (l *ConversationLog) All(ctx context.Context) ([]types.ConversationTurn, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, role, content, timestamp, metadata FROM conversations ORDER BY id ASC`)
	if err != nil {
		log.Printf("sqlite: history query failed: %v", err)
		return nil, nil
	}
	defer func() { _ = rows.Close() }()

	turns, err := scanTurns(rows)
	if err != nil {
		log.Printf("sqlite: history scan failed: %v", err)
		return nil, nil
	}
	return turns, nil
}

// Count returns the number of stored turns.
func (l *ConversationLog) Count(ctx context.Context) (int, error) {
	var count int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&count); err != nil {
		return 0, fmt.Errorf("sqlite: failed to count turns: %w", err)
	}
	return count, nil
}

// Close releases the database connection.
func (l *ConversationLog) Close() error {
	return l.db.Close()
}

// scanTurns converts rows in (id, role, content, timestamp, metadata) order
// into conversation turns.
func scanTurns(rows *sql.Rows) ([]types.ConversationTurn, error) {
	var turns []types.ConversationTurn
	for rows.Next() {
		var (
			turn     types.ConversationTurn
			role     string
			ts       float64
			metadata sql.NullString
		)
		if err := rows.Scan(&turn.ID, &role, &turn.Content, &ts, &metadata); err != nil {
			return nil, err
		}
		turn.Role = types.Role(role)
		turn.Timestamp = timeFromEpoch(ts)
		if metadata.Valid && metadata.String != "" {
			parsed := make(map[string]any)
			if err := json.Unmarshal([]byte(metadata.String), &parsed); err == nil {
				turn.Metadata = parsed
			}
		}
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

// annotateRow adds the rendered instant and parses the metadata blob when
// the predicate projected the raw columns.
func annotateRow(row storage.RowMap) {
	if ts, ok := row["timestamp"]; ok {
		if epoch, ok := ts.(float64); ok {
			row["datetime"] = timeFromEpoch(epoch).Format(time.RFC3339)
		}
	}
	if raw, ok := row["metadata"]; ok {
		parsed := make(map[string]any)
		if s, ok := raw.(string); ok && s != "" {
			if err := json.Unmarshal([]byte(s), &parsed); err != nil {
				log.Printf("sqlite: failed to parse row metadata: %v", err)
			}
		}
		row["metadata"] = parsed
	}
}

// normalizeValue converts driver byte slices to strings so row maps are
// JSON-friendly.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func timeFromEpoch(epoch float64) time.Time {
	sec := int64(epoch)
	nsec := int64((epoch - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}
