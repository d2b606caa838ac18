// Package userlock serializes the load, mutate and store round trips on a
// user's objects. At most one holder per user exists at a time, either within
// one process (Local) or across every process sharing a Redis server (Redis).
package userlock

import (
	"context"
	"errors"
	"sync"
)

// ErrNotHeld is returned when releasing a lock that expired and was taken
// over by someone else.
var ErrNotHeld = errors.New("userlock: lock not held")

// Release gives a lock back. It is safe to call more than once.
type Release func()

// Locker hands out per-user write locks.
type Locker interface {
	// Lock blocks until the user's lock is held or ctx is done.
	Lock(ctx context.Context, user string) (Release, error)
}

type localEntry struct {
	sem  chan struct{}
	refs int
}

// Local is an in-process Locker.
type Local struct {
	mu    sync.Mutex
	locks map[string]*localEntry
}

var _ Locker = (*Local)(nil)

// NewLocal creates an in-process locker.
func NewLocal() *Local {
	return &Local{locks: make(map[string]*localEntry)}
}

func (l *Local) entry(user string) *localEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.locks[user]
	if !ok {
		e = &localEntry{sem: make(chan struct{}, 1)}
		l.locks[user] = e
	}
	e.refs++

	return e
}

func (l *Local) drop(user string, e *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(l.locks, user)
	}
}

// Lock implements Locker.
func (l *Local) Lock(ctx context.Context, user string) (Release, error) {
	e := l.entry(user)

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.drop(user, e)
		return nil, ctx.Err()
	}

	log.Tracef("Locked %.8s", user)

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.drop(user, e)
			log.Tracef("Unlocked %.8s", user)
		})
	}, nil
}

// Held returns the number of users with a holder or a waiter.
func (l *Local) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.locks)
}
