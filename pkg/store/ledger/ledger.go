// Package ledger is the append-only, hash-chained record of adjudication
// outcomes, backed by Postgres, SQLite or a local JSON file.
package ledger

import "context"

// Ledger is the durable record of adjudication outcomes.
type Ledger interface {
	// Append assigns the next sequence number, chains the entry to the tail
	// and persists it. The stored entry is returned.
	Append(ctx context.Context, e Entry) (Entry, error)

	// Latest returns the most recent entry for a run under a ruleset.
	Latest(ctx context.Context, runID, rulesetID string) (Entry, error)

	// History returns every entry for a run, oldest first.
	History(ctx context.Context, runID string) ([]Entry, error)

	// ByPortableHash returns entries whose portable hash matches, oldest
	// first. Runs sharing a portable hash reached the same verdict.
	ByPortableHash(ctx context.Context, hash string) ([]Entry, error)

	// All returns the whole ledger in sequence order.
	All(ctx context.Context) ([]Entry, error)
}
