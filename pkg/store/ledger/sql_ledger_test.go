package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

var ledgerColumns = []string{
	"seq", "id", "run_id", "ruleset_id", "topline_verdict", "reason_code", "verdict_hash",
	"portable_hash", "verdict_scope", "portable_scope", "clause_count", "evaluated_at",
	"recorded_at", "prev_hash", "hash",
}

func sampleEntry(runID string) Entry {
	return Entry{
		ID:             "entry-" + runID,
		RunID:          runID,
		RulesetID:      "ruleset-1.2",
		ToplineVerdict: "PASS",
		VerdictHash:    "vh",
		PortableHash:   "ph",
		VerdictScope:   "verdict-full@1.0.0",
		PortableScope:  "verdict-portable@1.0.0",
		ClauseCount:    12,
		EvaluatedAt:    fixedNow,
	}
}

func TestSQLLedger_AppendGenesis(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	l := NewSQLLedger(db, DialectPostgres).WithClock(func() time.Time { return fixedNow })
	e := sampleEntry("run-1")
	want, err := e.ChainHash(GenesisHash)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT seq, hash FROM verdict_ledger ORDER BY seq DESC LIMIT 1`).
		WillReturnRows(sqlmock.NewRows([]string{"seq", "hash"}))
	mock.ExpectExec(`INSERT INTO verdict_ledger .* VALUES \(\$1, \$2, .*\$15\)`).
		WithArgs(sqlmock.AnyArg(), "entry-run-1", "run-1", "ruleset-1.2", "PASS", "", "vh", "ph",
			"verdict-full@1.0.0", "verdict-portable@1.0.0", sqlmock.AnyArg(),
			"2026-01-01T00:00:00Z", "2026-01-01T00:00:00Z", GenesisHash, want).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	got, err := l.Append(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Seq)
	assert.Equal(t, GenesisHash, got.PrevHash)
	assert.Equal(t, want, got.Hash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLLedger_AppendChainsToTail(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	l := NewSQLLedger(db, DialectSQLite).WithClock(func() time.Time { return fixedNow })

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT seq, hash FROM verdict_ledger`).
		WillReturnRows(sqlmock.NewRows([]string{"seq", "hash"}).AddRow(int64(7), "tailhash"))
	mock.ExpectExec(`INSERT INTO verdict_ledger .* VALUES \(\?, \?`).
		WillReturnResult(sqlmock.NewResult(8, 1))
	mock.ExpectCommit()

	got, err := l.Append(context.Background(), sampleEntry("run-2"))
	require.NoError(t, err)
	assert.Equal(t, int64(8), got.Seq)
	assert.Equal(t, "tailhash", got.PrevHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLLedger_AppendInsertFailureRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	l := NewSQLLedger(db, DialectPostgres)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT seq, hash FROM verdict_ledger`).
		WillReturnRows(sqlmock.NewRows([]string{"seq", "hash"}))
	mock.ExpectExec(`INSERT INTO verdict_ledger`).WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	_, err = l.Append(context.Background(), sampleEntry("run-3"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate key")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLLedger_Latest(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	l := NewSQLLedger(db, DialectPostgres)

	mock.ExpectQuery(`SELECT .* FROM verdict_ledger WHERE run_id = \$1 AND ruleset_id = \$2 ORDER BY seq DESC LIMIT 1`).
		WithArgs("run-1", "ruleset-1.2").
		WillReturnRows(sqlmock.NewRows(ledgerColumns).AddRow(
			int64(3), "id-3", "run-1", "ruleset-1.2", "FAIL", "REQ-FAIL-RQ-D1-01", "vh", "ph",
			"verdict-full@1.0.0", "verdict-portable@1.0.0", 4,
			"2026-01-01T00:00:00Z", "2026-01-01T00:00:01Z", "prev", "hash"))

	e, err := l.Latest(context.Background(), "run-1", "ruleset-1.2")
	require.NoError(t, err)
	assert.Equal(t, int64(3), e.Seq)
	assert.Equal(t, "FAIL", e.ToplineVerdict)
	assert.Equal(t, fixedNow, e.EvaluatedAt)
	assert.Equal(t, fixedNow.Add(time.Second), e.RecordedAt)

	mock.ExpectQuery(`SELECT .* FROM verdict_ledger WHERE run_id = \$1`).
		WithArgs("ghost", "ruleset-1.2").
		WillReturnRows(sqlmock.NewRows(ledgerColumns))
	_, err = l.Latest(context.Background(), "ghost", "ruleset-1.2")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLLedger_Init(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS verdict_ledger`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS verdict_ledger_run`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS verdict_ledger_portable`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, NewSQLLedger(db, DialectSQLite).Init(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRebind(t *testing.T) {
	pg := NewSQLLedger(nil, DialectPostgres)
	assert.Equal(t, "a = $1 AND b = $2", pg.rebind("a = ? AND b = ?"))
	lite := NewSQLLedger(nil, DialectSQLite)
	assert.Equal(t, "a = ? AND b = ?", lite.rebind("a = ? AND b = ?"))
}
