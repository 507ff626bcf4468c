package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/shaharia-lab/scriptbridge/observability"
)

// Dialect captures the SQL differences between supported databases.
type Dialect struct {
	Driver      string
	placeholder func(n int) string
	createTable string
}

var (
	// SQLite stores the journal with github.com/mattn/go-sqlite3.
	SQLite = Dialect{
		Driver:      "sqlite3",
		placeholder: func(int) string { return "?" },
		createTable: `
		CREATE TABLE IF NOT EXISTS calls (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			request_id INTEGER NOT NULL,
			method TEXT NOT NULL,
			params TEXT NOT NULL DEFAULT '[]',
			result TEXT,
			error TEXT NOT NULL DEFAULT '',
			started_at DATETIME NOT NULL,
			duration_ns INTEGER NOT NULL DEFAULT 0
		);`,
	}

	// Postgres stores the journal with github.com/lib/pq.
	Postgres = Dialect{
		Driver:      "postgres",
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
		createTable: `
		CREATE TABLE IF NOT EXISTS calls (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			request_id BIGINT NOT NULL,
			method TEXT NOT NULL,
			params TEXT NOT NULL DEFAULT '[]',
			result TEXT,
			error TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL,
			duration_ns BIGINT NOT NULL DEFAULT 0
		);`,
	}
)

const createSessionIndexSQL = `CREATE INDEX IF NOT EXISTS idx_calls_session_id ON calls (session_id);`

func (d Dialect) placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = d.placeholder(i + 1)
	}
	return strings.Join(parts, ", ")
}

// SQLJournal is a database/sql implementation of Journal
type SQLJournal struct {
	db      *sql.DB
	dialect Dialect
	mu      sync.Mutex
	logger  observability.Logger
}

// NewSQLJournal wraps db and creates the schema if needed
func NewSQLJournal(db *sql.DB, dialect Dialect, logger observability.Logger) (*SQLJournal, error) {
	j := &SQLJournal{
		db:      db,
		dialect: dialect,
		logger:  observability.OrNull(logger),
	}

	if err := j.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}
	return j, nil
}

func (j *SQLJournal) initSchema(ctx context.Context) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for schema init: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, j.dialect.createTable); err != nil {
		return fmt.Errorf("failed to create calls table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, createSessionIndexSQL); err != nil {
		return fmt.Errorf("failed to create calls session index: %w", err)
	}
	return tx.Commit()
}

// Record inserts entry
func (j *SQLJournal) Record(ctx context.Context, entry Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	params := string(entry.Params)
	if params == "" {
		params = "[]"
	}
	var result sql.NullString
	if len(entry.Result) > 0 {
		result = sql.NullString{String: string(entry.Result), Valid: true}
	}

	query := fmt.Sprintf(
		`INSERT INTO calls (id, session_id, request_id, method, params, result, error, started_at, duration_ns) VALUES (%s)`,
		j.dialect.placeholders(9),
	)
	_, err := j.db.ExecContext(ctx, query,
		entry.ID,
		entry.SessionID,
		entry.RequestID,
		entry.Method,
		params,
		result,
		entry.Error,
		entry.StartedAt.UTC(),
		entry.Duration.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert call %s: %w", entry.ID, err)
	}
	return nil
}

// List returns the entries recorded for sessionID ordered by start time
func (j *SQLJournal) List(ctx context.Context, sessionID string) ([]Entry, error) {
	query := fmt.Sprintf(
		`SELECT id, session_id, request_id, method, params, result, error, started_at, duration_ns FROM calls WHERE session_id = %s ORDER BY started_at, id`,
		j.dialect.placeholder(1),
	)
	rows, err := j.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query calls: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e        Entry
			params   string
			result   sql.NullString
			duration int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.RequestID, &e.Method, &params, &result, &e.Error, &e.StartedAt, &duration); err != nil {
			return nil, fmt.Errorf("failed to scan call row: %w", err)
		}
		e.Params = []byte(params)
		if result.Valid {
			e.Result = []byte(result.String)
		}
		e.Duration = time.Duration(duration)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating call rows: %w", err)
	}
	return entries, nil
}

// Forget deletes the entries recorded for sessionID
func (j *SQLJournal) Forget(ctx context.Context, sessionID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	query := fmt.Sprintf(`DELETE FROM calls WHERE session_id = %s`, j.dialect.placeholder(1))
	if _, err := j.db.ExecContext(ctx, query, sessionID); err != nil {
		return fmt.Errorf("failed to delete calls of session %s: %w", sessionID, err)
	}
	return nil
}

// Close closes the database
func (j *SQLJournal) Close() error {
	return j.db.Close()
}

// Open returns the journal selected by driver: "memory", "sqlite3" or "postgres".
// maxEntries caps the entries kept per session by the memory journal.
func Open(driver, dsn string, maxEntries int, logger observability.Logger) (Journal, error) {
	var dialect Dialect
	switch driver {
	case "", "memory":
		return NewInMemoryJournal(UseMaxEntries(maxEntries)), nil
	case SQLite.Driver:
		dialect = SQLite
	case Postgres.Driver:
		dialect = Postgres
	default:
		return nil, fmt.Errorf("unsupported journal driver %q", driver)
	}

	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s journal: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s journal: %w", driver, err)
	}
	return NewSQLJournal(db, dialect, logger)
}
