package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/canonicalize"
)

var (
	// ErrNotFound is returned when no ledger entry matches.
	ErrNotFound = errors.New("not found")
	// ErrChainBroken is returned when an entry's hash does not chain to its
	// predecessor.
	ErrChainBroken = errors.New("ledger hash chain broken")
)

// GenesisHash is the previous hash of the first entry.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Entry records one adjudication outcome. Entries are append-only and
// hash-chained in sequence order.
type Entry struct {
	Seq            int64     `json:"seq"`
	ID             string    `json:"id"`
	RunID          string    `json:"run_id"`
	RulesetID      string    `json:"ruleset_id"`
	ToplineVerdict string    `json:"topline_verdict"`
	ReasonCode     string    `json:"reason_code,omitempty"`
	VerdictHash    string    `json:"verdict_hash"`
	PortableHash   string    `json:"portable_hash"`
	VerdictScope   string    `json:"verdict_scope"`
	PortableScope  string    `json:"portable_scope"`
	ClauseCount    int       `json:"clause_count"`
	EvaluatedAt    time.Time `json:"evaluated_at"`
	RecordedAt     time.Time `json:"recorded_at"`

	PrevHash string `json:"prev_hash"`
	Hash     string `json:"hash"`
}

// ChainHash is the hash of e linked to prev. Seq and RecordedAt are
// storage metadata and stay outside the hash.
func (e Entry) ChainHash(prev string) (string, error) {
	return canonicalize.CanonicalHash(map[string]any{
		"prev_hash":       prev,
		"id":              e.ID,
		"run_id":          e.RunID,
		"ruleset_id":      e.RulesetID,
		"topline_verdict": e.ToplineVerdict,
		"reason_code":     e.ReasonCode,
		"verdict_hash":    e.VerdictHash,
		"portable_hash":   e.PortableHash,
		"verdict_scope":   e.VerdictScope,
		"portable_scope":  e.PortableScope,
		"clause_count":    e.ClauseCount,
		"evaluated_at":    e.EvaluatedAt.UTC().Format(time.RFC3339Nano),
	})
}

// VerifyChain checks entries, in sequence order, against each other.
func VerifyChain(entries []Entry) error {
	prev := GenesisHash
	for _, e := range entries {
		if e.PrevHash != prev {
			return fmt.Errorf("%w: entry %d links to %s, want %s", ErrChainBroken, e.Seq, short(e.PrevHash), short(prev))
		}
		h, err := e.ChainHash(prev)
		if err != nil {
			return err
		}
		if h != e.Hash {
			return fmt.Errorf("%w: entry %d hash mismatch", ErrChainBroken, e.Seq)
		}
		prev = e.Hash
	}
	return nil
}

func short(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
