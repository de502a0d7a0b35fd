package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Open connects to the ledger named by dsn and ensures its schema.
//
//	postgres://... | postgresql://...  Postgres via lib/pq
//	sqlite:<path> | file:<path>        SQLite via modernc.org/sqlite
//	<path>.json                        FileLedger
func Open(ctx context.Context, dsn string) (Ledger, func() error, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres ledger: %w", err)
		}
		return initSQL(ctx, db, DialectPostgres)
	case strings.HasPrefix(dsn, "sqlite:"), strings.HasPrefix(dsn, "file:"):
		path := strings.TrimPrefix(strings.TrimPrefix(dsn, "sqlite:"), "//")
		db, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite ledger: %w", err)
		}
		db.SetMaxOpenConns(1)
		return initSQL(ctx, db, DialectSQLite)
	case strings.HasSuffix(dsn, ".json"):
		l, err := NewFileLedger(dsn)
		if err != nil {
			return nil, nil, err
		}
		return l, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported ledger dsn %q", dsn)
	}
}

func initSQL(ctx context.Context, db *sql.DB, d Dialect) (Ledger, func() error, error) {
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping ledger: %w", err)
	}
	l := NewSQLLedger(db, d)
	if err := l.Init(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return l, db.Close, nil
}
