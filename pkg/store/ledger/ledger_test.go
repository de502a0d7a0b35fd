package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseLedger(t *testing.T, l Ledger) {
	t.Helper()
	ctx := context.Background()

	a, err := l.Append(ctx, sampleEntry("run-a"))
	require.NoError(t, err)
	b := sampleEntry("run-b")
	b.PortableHash = "ph-b"
	_, err = l.Append(ctx, b)
	require.NoError(t, err)
	again := sampleEntry("run-a")
	again.ID = ""
	again.ToplineVerdict = "FAIL"
	c, err := l.Append(ctx, again)
	require.NoError(t, err)

	assert.Equal(t, int64(1), a.Seq)
	assert.Equal(t, int64(3), c.Seq)
	assert.NotEmpty(t, c.ID)

	latest, err := l.Latest(ctx, "run-a", "ruleset-1.2")
	require.NoError(t, err)
	assert.Equal(t, "FAIL", latest.ToplineVerdict)

	_, err = l.Latest(ctx, "run-a", "ruleset-1.1")
	assert.ErrorIs(t, err, ErrNotFound)

	hist, err := l.History(ctx, "run-a")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "PASS", hist[0].ToplineVerdict)

	same, err := l.ByPortableHash(ctx, "ph")
	require.NoError(t, err)
	assert.Len(t, same, 2)

	all, err := l.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.NoError(t, VerifyChain(all))
}

func TestFileLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	l, err := NewFileLedgerWithClock(path, func() time.Time { return fixedNow })
	require.NoError(t, err)
	exerciseLedger(t, l)

	reopened, err := NewFileLedger(path)
	require.NoError(t, err)
	all, err := reopened.All(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestOpen_SQLite(t *testing.T) {
	dsn := "sqlite:" + filepath.Join(t.TempDir(), "vlab.db")
	l, closeFn, err := Open(context.Background(), dsn)
	require.NoError(t, err)
	defer func() { _ = closeFn() }()
	exerciseLedger(t, l)
}

func TestOpen_Unsupported(t *testing.T) {
	_, _, err := Open(context.Background(), "mysql://x")
	require.Error(t, err)
}

func TestVerifyChain_DetectsTampering(t *testing.T) {
	l, err := NewFileLedger(filepath.Join(t.TempDir(), "l.json"))
	require.NoError(t, err)
	ctx := context.Background()
	for _, id := range []string{"r1", "r2", "r3"} {
		_, err := l.Append(ctx, sampleEntry(id))
		require.NoError(t, err)
	}
	all, err := l.All(ctx)
	require.NoError(t, err)
	require.NoError(t, VerifyChain(all))

	all[1].ToplineVerdict = "PASS-EDITED"
	assert.ErrorIs(t, VerifyChain(all), ErrChainBroken)

	all, _ = l.All(ctx)
	all[2].PrevHash = GenesisHash
	assert.ErrorIs(t, VerifyChain(all), ErrChainBroken)
}
