package ticketlock

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/contracts"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquireExcludesOtherHolders(t *testing.T) {
	dir := t.TempDir()

	held, err := TryAcquire(dir, "t1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "t1.lock"), held.Path())

	_, err = TryAcquire(dir, "t1")
	assert.True(t, errors.Is(err, ErrLocked), "got %v", err)

	other, err := TryAcquire(dir, "t2")
	require.NoError(t, err)
	require.NoError(t, other.Release())

	require.NoError(t, held.Release())
	again, err := TryAcquire(dir, "t1")
	require.NoError(t, err)
	require.NoError(t, again.Release())
}

func TestAcquireGivesUpWithContext(t *testing.T) {
	dir := t.TempDir()
	held, err := TryAcquire(dir, "t1")
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	_, err = Acquire(ctx, dir, "t1")
	assert.True(t, errors.Is(err, ErrLocked), "got %v", err)
}

func TestAcquireWaitsForRelease(t *testing.T) {
	dir := t.TempDir()
	held, err := TryAcquire(dir, "t1")
	require.NoError(t, err)
	time.AfterFunc(150*time.Millisecond, func() { held.Release() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	l, err := Acquire(ctx, dir, "t1")
	require.NoError(t, err)
	require.NoError(t, l.Release())
}

func TestTicketMustNameAFile(t *testing.T) {
	for _, ticket := range []string{"", "..", "a/b"} {
		_, err := TryAcquire(t.TempDir(), contracts.ScriptTicket(ticket))
		assert.Error(t, err, ticket)
	}
}
