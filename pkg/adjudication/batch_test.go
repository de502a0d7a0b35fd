package adjudication_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/adjudication"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/bundle/bundletest"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/ruleset"
)

func TestBatch_PreservesOrderAndRecordsFailures(t *testing.T) {
	root := t.TempDir()
	ids := []string{"run-c", "missing", "run-a", "run-b"}
	for _, id := range []string{"run-a", "run-b", "run-c"} {
		bundletest.Write(t, root, passPack(id))
	}

	items, err := newService(t, root).Batch(context.Background(), ids, 2)
	require.NoError(t, err)
	require.Len(t, items, len(ids))
	for i, item := range items {
		assert.Equal(t, ids[i], item.RunID)
	}

	assert.Equal(t, adjudication.CodeBundleNotFound, adjudication.CodeOf(items[1].Err))
	assert.Nil(t, items[1].Outcome)
	for _, i := range []int{0, 2, 3} {
		require.NoError(t, items[i].Err)
		assert.Equal(t, ids[i], items[i].Outcome.RunID)
		assert.Equal(t, ruleset.StatusPass, items[i].Outcome.Result.ToplineVerdict)
	}
}

func TestBatch_MatchesSequential(t *testing.T) {
	root := t.TempDir()
	var ids []string
	for _, id := range []string{"gf-01-a", "gf-01-b", "gf-01-c", "gf-01-d", "gf-01-e"} {
		bundletest.Write(t, root, passPack(id))
		ids = append(ids, id)
	}
	svc := newService(t, root)

	parallel, err := svc.Batch(context.Background(), ids, 4)
	require.NoError(t, err)
	serial, err := svc.Batch(context.Background(), ids, 0)
	require.NoError(t, err)
	for i := range ids {
		require.NoError(t, parallel[i].Err)
		require.NoError(t, serial[i].Err)
		assert.Equal(t, serial[i].Outcome.Hashes, parallel[i].Outcome.Hashes)
	}
}

func TestBatch_Cancelled(t *testing.T) {
	root := t.TempDir()
	bundletest.Write(t, root, passPack("run-x"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items, err := newService(t, root).Batch(ctx, []string{"run-x"}, 1)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, items, 1)
	assert.Nil(t, items[0].Outcome)
}
