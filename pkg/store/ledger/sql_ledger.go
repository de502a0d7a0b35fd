package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Dialect selects placeholder syntax.
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

// SQLLedger implements Ledger using database/sql.
// It supports both Postgres and SQLite via standard drivers.
type SQLLedger struct {
	db      *sql.DB
	dialect Dialect
	clock   func() time.Time
	// appends are serialised in-process; the seq primary key rejects
	// concurrent appends from other processes.
	mu sync.Mutex
}

func NewSQLLedger(db *sql.DB, dialect Dialect) *SQLLedger {
	return &SQLLedger{db: db, dialect: dialect, clock: time.Now}
}

// WithClock overrides the recorded_at source.
func (s *SQLLedger) WithClock(clock func() time.Time) *SQLLedger {
	s.clock = clock
	return s
}

// DB returns the underlying handle.
func (s *SQLLedger) DB() *sql.DB { return s.db }

var schema = []string{
	`CREATE TABLE IF NOT EXISTS verdict_ledger (
	seq BIGINT PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	run_id TEXT NOT NULL,
	ruleset_id TEXT NOT NULL,
	topline_verdict TEXT NOT NULL,
	reason_code TEXT NOT NULL DEFAULT '',
	verdict_hash TEXT NOT NULL,
	portable_hash TEXT NOT NULL,
	verdict_scope TEXT NOT NULL,
	portable_scope TEXT NOT NULL,
	clause_count INTEGER NOT NULL,
	evaluated_at TEXT NOT NULL,
	recorded_at TEXT NOT NULL,
	prev_hash TEXT NOT NULL,
	hash TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS verdict_ledger_run ON verdict_ledger (run_id, ruleset_id)`,
	`CREATE INDEX IF NOT EXISTS verdict_ledger_portable ON verdict_ledger (portable_hash)`,
}

// Init creates the table and indexes when missing.
func (s *SQLLedger) Init(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init verdict ledger: %w", err)
		}
	}
	return nil
}

const columns = `seq, id, run_id, ruleset_id, topline_verdict, reason_code, verdict_hash, portable_hash, verdict_scope, portable_scope, clause_count, evaluated_at, recorded_at, prev_hash, hash`

// rebind rewrites ? placeholders as $n for Postgres.
func (s *SQLLedger) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLLedger) Append(ctx context.Context, e Entry) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		lastSeq  int64
		lastHash string
	)
	err = tx.QueryRowContext(ctx, "SELECT seq, hash FROM verdict_ledger ORDER BY seq DESC LIMIT 1").Scan(&lastSeq, &lastHash)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		lastSeq, lastHash = 0, GenesisHash
	case err != nil:
		return Entry{}, fmt.Errorf("read ledger tail: %w", err)
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Seq = lastSeq + 1
	e.RecordedAt = s.clock().UTC()
	e.PrevHash = lastHash
	if e.Hash, err = e.ChainHash(lastHash); err != nil {
		return Entry{}, fmt.Errorf("hash entry: %w", err)
	}

	query := s.rebind(`INSERT INTO verdict_ledger (` + columns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = tx.ExecContext(ctx, query,
		e.Seq, e.ID, e.RunID, e.RulesetID, e.ToplineVerdict, e.ReasonCode,
		e.VerdictHash, e.PortableHash, e.VerdictScope, e.PortableScope, e.ClauseCount,
		formatTime(e.EvaluatedAt), formatTime(e.RecordedAt), e.PrevHash, e.Hash,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("commit append: %w", err)
	}
	return e, nil
}

func (s *SQLLedger) Latest(ctx context.Context, runID, rulesetID string) (Entry, error) {
	query := s.rebind(`SELECT ` + columns + ` FROM verdict_ledger WHERE run_id = ? AND ruleset_id = ? ORDER BY seq DESC LIMIT 1`)
	rows, err := s.db.QueryContext(ctx, query, runID, rulesetID)
	if err != nil {
		return Entry{}, err
	}
	entries, err := scanEntries(rows)
	if err != nil {
		return Entry{}, err
	}
	if len(entries) == 0 {
		return Entry{}, ErrNotFound
	}
	return entries[0], nil
}

func (s *SQLLedger) History(ctx context.Context, runID string) ([]Entry, error) {
	query := s.rebind(`SELECT ` + columns + ` FROM verdict_ledger WHERE run_id = ? ORDER BY seq`)
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

func (s *SQLLedger) ByPortableHash(ctx context.Context, hash string) ([]Entry, error) {
	query := s.rebind(`SELECT ` + columns + ` FROM verdict_ledger WHERE portable_hash = ? ORDER BY seq`)
	rows, err := s.db.QueryContext(ctx, query, hash)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

func (s *SQLLedger) All(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+columns+` FROM verdict_ledger ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	defer func() { _ = rows.Close() }()

	result := make([]Entry, 0)
	for rows.Next() {
		var (
			e                       Entry
			evaluatedAt, recordedAt string
		)
		if err := rows.Scan(&e.Seq, &e.ID, &e.RunID, &e.RulesetID, &e.ToplineVerdict, &e.ReasonCode,
			&e.VerdictHash, &e.PortableHash, &e.VerdictScope, &e.PortableScope, &e.ClauseCount,
			&evaluatedAt, &recordedAt, &e.PrevHash, &e.Hash); err != nil {
			return nil, err
		}
		e.EvaluatedAt = parseTime(evaluatedAt)
		e.RecordedAt = parseTime(recordedAt)
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}
