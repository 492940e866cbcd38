package journal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/contracts"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/scripts"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func open(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestBeginAndFinish(t *testing.T) {
	j := open(t)
	ctx := context.Background()

	resumed, err := j.Begin(ctx, "t1", "task-1")
	require.NoError(t, err)
	assert.False(t, resumed)

	require.NoError(t, j.Finish(ctx, "t1", Outcome{
		Version: scripts.ScriptServiceV2,
		Result:  &scripts.Result{State: contracts.ProcessStateComplete, ExitCode: 3},
	}))

	entries, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, contracts.ScriptTicket("t1"), e.Ticket)
	assert.Equal(t, "task-1", e.TaskID)
	assert.True(t, e.Finished())
	assert.Equal(t, contracts.ScriptServiceV2Name, e.Version)
	assert.Equal(t, "Complete", e.State)
	assert.Equal(t, 3, e.ExitCode)
	assert.False(t, e.Cancelled)

	_, err = j.Begin(ctx, "t1", "task-1")
	assert.True(t, errors.Is(err, ErrFinished), "got %v", err)
}

func TestUnfinishedRunIsResumed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	j, err := Open(path)
	require.NoError(t, err)
	_, err = j.Begin(ctx, "t1", "")
	require.NoError(t, err)
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()

	unfinished, err := j.Unfinished(ctx)
	require.NoError(t, err)
	require.Len(t, unfinished, 1)
	assert.Equal(t, contracts.ScriptTicket("t1"), unfinished[0].Ticket)

	resumed, err := j.Begin(ctx, "t1", "")
	require.NoError(t, err)
	assert.True(t, resumed)

	require.NoError(t, j.Finish(ctx, "t1", Outcome{Cancelled: true, Err: &scripts.CancelledError{}}))
	entries, err := j.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, entries[0].Attempts)
	assert.True(t, entries[0].Cancelled)
	assert.Contains(t, entries[0].Error, "cancelled")
}

func TestFinishUnknownTicket(t *testing.T) {
	assert.Error(t, open(t).Finish(context.Background(), "missing", Outcome{}))
}

func TestRecentLimit(t *testing.T) {
	j := open(t)
	ctx := context.Background()
	for _, ticket := range []contracts.ScriptTicket{"a", "b", "c"} {
		_, err := j.Begin(ctx, ticket, "")
		require.NoError(t, err)
	}

	entries, err := j.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, contracts.ScriptTicket("c"), entries[0].Ticket)
	assert.Equal(t, contracts.ScriptTicket("b"), entries[1].Ticket)
}
