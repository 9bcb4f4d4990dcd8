package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/automaton-fix/internal/domain/patches"
)

func TestAttemptRepository_SaveAndList(t *testing.T) {
	repo, err := Open(filepath.Join(t.TempDir(), "audit", "attempts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	ctx := context.Background()

	for i, rec := range []patches.AttemptRecord{
		{RunID: "r1", FindingID: "1", Attempt: 1, State: patches.StateBuildFailed, ErrorKind: patches.KindBuild},
		{RunID: "r1", FindingID: "1", Attempt: 2, State: patches.StateAccepted},
		{RunID: "r2", FindingID: "2", Attempt: 1, State: patches.StateRejected},
	} {
		rec := rec
		require.NoError(t, repo.Save(ctx, &rec), i)
		assert.NotEmpty(t, rec.ID)
		assert.False(t, rec.CreatedAt.IsZero())
	}

	all, err := repo.List(ctx, patches.AttemptFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "r2", all[0].RunID)

	run1, err := repo.List(ctx, patches.AttemptFilter{RunID: "r1"})
	require.NoError(t, err)
	require.Len(t, run1, 2)
	assert.Equal(t, 2, run1[0].Attempt)
	assert.Equal(t, patches.StateAccepted, run1[0].State)
	assert.Equal(t, patches.KindBuild, run1[1].ErrorKind)

	limited, err := repo.List(ctx, patches.AttemptFilter{FindingID: "1", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
