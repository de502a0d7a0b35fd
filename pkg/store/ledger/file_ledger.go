package ledger

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileLedger implements Ledger using a local JSON file (for simple durability).
type FileLedger struct {
	path    string
	mu      sync.RWMutex
	entries []Entry
	clock   func() time.Time
}

func NewFileLedger(path string) (*FileLedger, error) {
	return NewFileLedgerWithClock(path, time.Now)
}

func NewFileLedgerWithClock(path string, clock func() time.Time) (*FileLedger, error) {
	fl := &FileLedger{path: path, clock: clock}
	if err := fl.load(); err != nil {
		return nil, err
	}
	return fl, nil
}

func (f *FileLedger) load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := os.Stat(f.path); os.IsNotExist(err) {
		return nil
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &f.entries)
}

func (f *FileLedger) save() error {
	data, err := json.MarshalIndent(f.entries, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *FileLedger) Append(ctx context.Context, e Entry) (Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev := GenesisHash
	var seq int64
	if n := len(f.entries); n > 0 {
		prev = f.entries[n-1].Hash
		seq = f.entries[n-1].Seq
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Seq = seq + 1
	e.RecordedAt = f.clock().UTC()
	e.PrevHash = prev
	h, err := e.ChainHash(prev)
	if err != nil {
		return Entry{}, err
	}
	e.Hash = h

	f.entries = append(f.entries, e)
	if err := f.save(); err != nil {
		f.entries = f.entries[:len(f.entries)-1]
		return Entry{}, err
	}
	return e, nil
}

func (f *FileLedger) Latest(ctx context.Context, runID, rulesetID string) (Entry, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for i := len(f.entries) - 1; i >= 0; i-- {
		if e := f.entries[i]; e.RunID == runID && e.RulesetID == rulesetID {
			return e, nil
		}
	}
	return Entry{}, ErrNotFound
}

func (f *FileLedger) History(ctx context.Context, runID string) ([]Entry, error) {
	return f.filter(func(e Entry) bool { return e.RunID == runID }), nil
}

func (f *FileLedger) ByPortableHash(ctx context.Context, hash string) ([]Entry, error) {
	return f.filter(func(e Entry) bool { return e.PortableHash == hash }), nil
}

func (f *FileLedger) All(ctx context.Context) ([]Entry, error) {
	return f.filter(func(Entry) bool { return true }), nil
}

func (f *FileLedger) filter(keep func(Entry) bool) []Entry {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]Entry, 0)
	for _, e := range f.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
