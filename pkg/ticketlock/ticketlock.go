// Package ticketlock keeps two local processes from driving the same script
// ticket at once.
package ticketlock

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/contracts"
	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

const retryDelay = 100 * time.Millisecond

// ErrLocked is returned when another process holds the ticket.
var ErrLocked = errors.New("ticket is locked by another process")

// Lock is a held ticket lock.
type Lock struct {
	flock *flock.Flock
}

func path(dir string, ticket contracts.ScriptTicket) (string, error) {
	name := ticket.String()
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", errors.Errorf("ticket %q cannot name a lock file", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create lock directory")
	}
	return filepath.Join(dir, name+".lock"), nil
}

// Acquire waits until the ticket's lock in dir is free or ctx ends.
func Acquire(ctx context.Context, dir string, ticket contracts.ScriptTicket) (*Lock, error) {
	p, err := path(dir, ticket)
	if err != nil {
		return nil, err
	}
	f := flock.New(p)
	ok, err := f.TryLockContext(ctx, retryDelay)
	switch {
	case err != nil && ctx.Err() != nil:
		return nil, errors.Wrap(ErrLocked, ctx.Err().Error())
	case err != nil:
		return nil, errors.Wrapf(err, "lock %s", p)
	case !ok:
		return nil, ErrLocked
	}
	return &Lock{flock: f}, nil
}

// TryAcquire takes the ticket's lock without waiting.
func TryAcquire(dir string, ticket contracts.ScriptTicket) (*Lock, error) {
	p, err := path(dir, ticket)
	if err != nil {
		return nil, err
	}
	f := flock.New(p)
	ok, err := f.TryLock()
	if err != nil {
		return nil, errors.Wrapf(err, "lock %s", p)
	}
	if !ok {
		return nil, ErrLocked
	}
	return &Lock{flock: f}, nil
}

func (l *Lock) Path() string {
	return l.flock.Path()
}

// Release unlocks the ticket. The lock file is left behind for the next
// holder.
func (l *Lock) Release() error {
	return l.flock.Unlock()
}
